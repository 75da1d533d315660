package pagination_test

import (
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/JaimeStill/docflow/pkg/pagination"
)

func TestConfigFinalize(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := pagination.Config{}
		if err := cfg.Finalize(nil); err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if cfg.DefaultPageSize != 20 || cfg.MaxPageSize != 100 {
			t.Errorf("got %+v, want 20/100", cfg)
		}
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("TEST_PAGE_SIZE", "50")
		t.Setenv("TEST_MAX_PAGE", "200")

		cfg := pagination.Config{}
		err := cfg.Finalize(&pagination.ConfigEnv{
			DefaultPageSize: "TEST_PAGE_SIZE",
			MaxPageSize:     "TEST_MAX_PAGE",
		})
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if cfg.DefaultPageSize != 50 || cfg.MaxPageSize != 200 {
			t.Errorf("got %+v, want 50/200", cfg)
		}
	})

	t.Run("malformed env", func(t *testing.T) {
		t.Setenv("TEST_PAGE_SIZE", "fifty")

		cfg := pagination.Config{}
		err := cfg.Finalize(&pagination.ConfigEnv{DefaultPageSize: "TEST_PAGE_SIZE"})
		if err == nil {
			t.Fatal("expected error for non-integer override")
		}
	})

	t.Run("default exceeds max", func(t *testing.T) {
		cfg := pagination.Config{DefaultPageSize: 200, MaxPageSize: 100}
		if err := cfg.Finalize(nil); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestConfigMerge(t *testing.T) {
	base := pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}
	base.Merge(&pagination.Config{DefaultPageSize: 50})

	if base.DefaultPageSize != 50 {
		t.Errorf("DefaultPageSize = %d, want 50", base.DefaultPageSize)
	}
	if base.MaxPageSize != 100 {
		t.Errorf("MaxPageSize = %d, want 100", base.MaxPageSize)
	}
}

func TestConfigPageSize(t *testing.T) {
	cfg := pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}

	tests := []struct {
		name      string
		requested int
		want      int
	}{
		{"unset", 0, 20},
		{"negative", -5, 20},
		{"within bounds", 40, 40},
		{"at max", 100, 100},
		{"over max", 500, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.PageSize(tt.requested); got != tt.want {
				t.Errorf("PageSize(%d) = %d, want %d", tt.requested, got, tt.want)
			}
		})
	}
}

func TestPageRequestNormalize(t *testing.T) {
	cfg := pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}

	tests := []struct {
		name         string
		req          pagination.PageRequest
		wantPage     int
		wantPageSize int
		wantOffset   int
	}{
		{"zero values", pagination.PageRequest{}, 1, 20, 0},
		{"negative page", pagination.PageRequest{Page: -1, PageSize: 10}, 1, 10, 0},
		{"clamped size", pagination.PageRequest{Page: 2, PageSize: 500}, 2, 100, 100},
		{"preserved", pagination.PageRequest{Page: 3, PageSize: 25}, 3, 25, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Normalize(cfg)
			if tt.req.Page != tt.wantPage {
				t.Errorf("Page = %d, want %d", tt.req.Page, tt.wantPage)
			}
			if tt.req.PageSize != tt.wantPageSize {
				t.Errorf("PageSize = %d, want %d", tt.req.PageSize, tt.wantPageSize)
			}
			if got := tt.req.Offset(); got != tt.wantOffset {
				t.Errorf("Offset() = %d, want %d", got, tt.wantOffset)
			}
		})
	}
}

func TestParseQuery(t *testing.T) {
	cfg := pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}

	req, err := pagination.ParseQuery(url.Values{
		"page":      {"2"},
		"page_size": {"15"},
		"search":    {" review "},
		"sort":      {"title,-createdAt"},
	}, cfg)
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}

	if req.Page != 2 || req.PageSize != 15 {
		t.Errorf("page = %d/%d, want 2/15", req.Page, req.PageSize)
	}
	if req.Search == nil || *req.Search != "review" {
		t.Errorf("Search = %v, want review", req.Search)
	}
	if len(req.Sort) != 2 || req.Sort[0].Field != "title" || !req.Sort[1].Descending {
		t.Errorf("Sort = %v", req.Sort)
	}

	empty, err := pagination.ParseQuery(url.Values{"search": {"  "}}, cfg)
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	if empty.Page != 1 || empty.PageSize != 20 || empty.Search != nil {
		t.Errorf("empty query = %+v", empty)
	}

	for _, values := range []url.Values{
		{"page": {"two"}},
		{"page_size": {"1.5"}},
	} {
		if _, err := pagination.ParseQuery(values, cfg); !errors.Is(err, pagination.ErrInvalidQuery) {
			t.Errorf("ParseQuery(%v) error = %v, want ErrInvalidQuery", values, err)
		}
	}
}

func TestSortFieldsUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"string", `"title,-createdAt"`},
		{"array", `[{"Field":"title"},{"Field":"createdAt","Descending":true}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s pagination.SortFields
			if err := json.Unmarshal([]byte(tt.data), &s); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if len(s) != 2 || s[0].Field != "title" || !s[1].Descending {
				t.Errorf("got %v", s)
			}
		})
	}
}

func TestNewPageResult(t *testing.T) {
	tests := []struct {
		name           string
		data           []string
		total          int
		pageSize       int
		wantTotalPages int
	}{
		{"exact", []string{"a"}, 20, 10, 2},
		{"remainder", []string{"a"}, 21, 10, 3},
		{"empty", nil, 0, 10, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := pagination.NewPageResult(tt.data, tt.total, 1, tt.pageSize)
			if r.TotalPages != tt.wantTotalPages {
				t.Errorf("TotalPages = %d, want %d", r.TotalPages, tt.wantTotalPages)
			}
			if r.Data == nil {
				t.Error("Data should never be nil")
			}
		})
	}
}
