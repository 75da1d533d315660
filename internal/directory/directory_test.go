package directory_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/docflow/internal/approvals"
	"github.com/JaimeStill/docflow/internal/config"
	"github.com/JaimeStill/docflow/internal/directory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestEligible(t *testing.T) {
	ctx := context.Background()

	t.Run("open directory", func(t *testing.T) {
		d := directory.New(&config.DirectoryConfig{}, discard)
		got, err := d.Eligible(ctx, []string{"3", "1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "1"}, got)
	})

	t.Run("restricted keeps order", func(t *testing.T) {
		d := directory.New(&config.DirectoryConfig{Approvers: []string{"1", "3"}}, discard)
		got, err := d.Eligible(ctx, []string{"3", "2", "1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "1"}, got)
	})

	t.Run("nobody eligible", func(t *testing.T) {
		d := directory.New(&config.DirectoryConfig{Approvers: []string{"9"}}, discard)
		got, err := d.Eligible(ctx, []string{"1", "2"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestCanWithdraw(t *testing.T) {
	d := directory.New(&config.DirectoryConfig{Administrators: []string{"admin"}}, discard)
	req := &approvals.Request{
		RequestedBy: "author",
		Rule:        approvals.Spec{Kind: approvals.KindGroup, Type: approvals.Any, Approvers: []string{"1", "2"}},
	}

	tests := []struct {
		actor string
		want  bool
	}{
		{"author", true},
		{"2", true},
		{"admin", true},
		{"stranger", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.actor, func(t *testing.T) {
			ok, err := d.CanWithdraw(context.Background(), tt.actor, req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}
