// Package directory answers the identity questions the workflow engine asks
// of the surrounding user directory: who may approve, and who may withdraw
// an approval request.
package directory

import (
	"context"
	"log/slog"
	"slices"

	"github.com/JaimeStill/docflow/internal/approvals"
	"github.com/JaimeStill/docflow/internal/config"
)

// Directory is the user and role collaborator consulted by the engine.
type Directory interface {
	// Eligible returns the ids, in input order, that can act as approvers.
	Eligible(ctx context.Context, approverIDs []string) ([]string, error)
	// CanWithdraw reports whether actor may withdraw req.
	CanWithdraw(ctx context.Context, actor string, req *approvals.Request) (bool, error)
}

type static struct {
	approvers map[string]struct{}
	admins    map[string]struct{}
	logger    *slog.Logger
}

// New creates a Directory backed by the configured identity lists.
// With no approvers configured every id is eligible.
func New(cfg *config.DirectoryConfig, logger *slog.Logger) Directory {
	d := &static{
		admins: set(cfg.Administrators),
		logger: logger.With("system", "directory"),
	}
	if len(cfg.Approvers) > 0 {
		d.approvers = set(cfg.Approvers)
	}

	d.logger.Info(
		"directory loaded",
		"approvers", len(cfg.Approvers),
		"administrators", len(cfg.Administrators),
	)
	return d
}

func (d *static) Eligible(_ context.Context, approverIDs []string) ([]string, error) {
	if d.approvers == nil {
		return slices.Clone(approverIDs), nil
	}

	out := make([]string, 0, len(approverIDs))
	for _, id := range approverIDs {
		if _, ok := d.approvers[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// CanWithdraw grants the requester, any approver named in the request's rule
// snapshot, and administrators.
func (d *static) CanWithdraw(_ context.Context, actor string, req *approvals.Request) (bool, error) {
	if actor == "" {
		return false, nil
	}
	if actor == req.RequestedBy || slices.Contains(req.Rule.Approvers, actor) {
		return true, nil
	}
	_, ok := d.admins[actor]
	return ok, nil
}

func set(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
