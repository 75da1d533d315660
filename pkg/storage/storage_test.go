package storage_test

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/JaimeStill/docflow/pkg/storage"
)

const azuriteConnString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigFinalize(t *testing.T) {
	t.Setenv("TEST_STORAGE_CONN", azuriteConnString)
	t.Setenv("TEST_STORAGE_CONTAINER", "archives")

	cfg := storage.Config{}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if cfg.Enabled() {
		t.Error("Enabled() = true without a connection string")
	}
	if cfg.ContainerName != "docflow" || cfg.Prefix != "history" {
		t.Errorf("defaults = %+v", cfg)
	}

	err := cfg.Finalize(&storage.Env{
		ConnectionString: "TEST_STORAGE_CONN",
		ContainerName:    "TEST_STORAGE_CONTAINER",
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if !cfg.Enabled() || cfg.ContainerName != "archives" {
		t.Errorf("env overrides = %+v", cfg)
	}
}

func TestConfigRejectsTraversalPrefix(t *testing.T) {
	cfg := storage.Config{Prefix: "../escape"}
	if err := cfg.Finalize(nil); !errors.Is(err, storage.ErrInvalidKey) {
		t.Errorf("Finalize() error = %v, want ErrInvalidKey", err)
	}
}

func TestConfigMerge(t *testing.T) {
	base := storage.Config{ContainerName: "docflow", Prefix: "history"}
	base.Merge(&storage.Config{ConnectionString: azuriteConnString})

	if base.ContainerName != "docflow" || base.ConnectionString != azuriteConnString {
		t.Errorf("merged = %+v", base)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     storage.Config
		wantErr bool
		is      error
	}{
		{"disabled", storage.Config{}, true, storage.ErrDisabled},
		{"invalid connection string", storage.Config{ConnectionString: "nope"}, true, nil},
		{"azurite", storage.Config{ConnectionString: azuriteConnString, ContainerName: "docflow"}, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys, err := storage.New(&tt.cfg, discard())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("New() error = %v, want %v", err, tt.is)
			}
			if !tt.wantErr && sys == nil {
				t.Error("New() returned nil system")
			}
		})
	}
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrNotFound, http.StatusNotFound},
		{storage.ErrEmptyKey, http.StatusBadRequest},
		{storage.ErrInvalidKey, http.StatusBadRequest},
		{storage.ErrDisabled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := storage.MapHTTPStatus(tt.err); got != tt.want {
				t.Errorf("MapHTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
