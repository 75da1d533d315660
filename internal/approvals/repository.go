package approvals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/pkg/pagination"
	"github.com/JaimeStill/docflow/pkg/query"
	"github.com/JaimeStill/docflow/pkg/repository"
)

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates an approval request repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger, pagination pagination.Config) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "approvals"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Request], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "RequestedBy", "Comment")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	total, err := repository.QueryCount(ctx, r.db, countSQL, countArgs...)
	if err != nil {
		return nil, fmt.Errorf("count approval requests: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	reqs, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanRequest)
	if err != nil {
		return nil, fmt.Errorf("query approval requests: %w", err)
	}

	result := pagination.NewPageResult(reqs, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Request, error) {
	return Get(ctx, r.db, id)
}

// Get loads a request by id using q, which may be a transaction.
func Get(ctx context.Context, q repository.Querier, id uuid.UUID) (*Request, error) {
	sqlStr, args := query.NewBuilder(projection).BuildSingle("ID", id)

	req, err := repository.QueryOne(ctx, q, sqlStr, args, scanRequest)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrOpenRequestExists)
	}
	return &req, nil
}

// GetForUpdate loads a request and holds its row lock for the rest of the
// transaction. A concurrent responder waits and then reads the committed row.
func GetForUpdate(ctx context.Context, q repository.Querier, id uuid.UUID) (*Request, error) {
	sqlStr, args := query.NewBuilder(projection).BuildSingle("ID", id)

	req, err := repository.QueryOne(ctx, q, sqlStr+" FOR UPDATE", args, scanRequest)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrOpenRequestExists)
	}
	return &req, nil
}

// Insert writes a new request. A second open request for the same document
// violates approval_requests_one_open and is reported as ErrOpenRequestExists.
func Insert(ctx context.Context, e repository.Executor, req *Request) error {
	cols, err := columns(req)
	if err != nil {
		return err
	}

	_, err = e.ExecContext(ctx, `
		INSERT INTO approval_requests(
			id, document_id, circuit_id, step_id, from_status_id, to_status_id,
			rule, responses, status, auto_approved, requested_by, comment,
			created_at, resolved_at, approver_ids, awaiting)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		req.ID, req.DocumentID, req.CircuitID, req.StepID, req.FromStatusID, req.ToStatusID,
		cols.rule, cols.responses, req.Status, req.AutoApproved, req.RequestedBy, req.Comment,
		req.CreatedAt, req.ResolvedAt, cols.approvers, cols.awaiting,
	)
	if repository.IsUniqueViolation(err, "approval_requests_one_open") {
		return ErrOpenRequestExists
	}
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

// Update persists the mutable fields of a request that was open when loaded.
// It fails with ErrRequestClosed if another writer closed it first.
func Update(ctx context.Context, e repository.Executor, req *Request) error {
	cols, err := columns(req)
	if err != nil {
		return err
	}

	err = repository.ExecExpectOne(ctx, e, `
		UPDATE approval_requests
		SET responses = $2, status = $3, auto_approved = $4, resolved_at = $5, awaiting = $6
		WHERE id = $1 AND status = 'open'`,
		req.ID, cols.responses, req.Status, req.AutoApproved, req.ResolvedAt, cols.awaiting,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRequestClosed, req.ID)
	}
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	return nil
}

type jsonColumns struct {
	rule, responses, approvers, awaiting []byte
}

func columns(req *Request) (jsonColumns, error) {
	var (
		c   jsonColumns
		err error
	)
	if c.rule, err = repository.JSONColumn(req.Rule); err != nil {
		return c, err
	}
	if c.responses, err = repository.JSONColumn(req.Responses); err != nil {
		return c, err
	}
	approvers := req.Rule.Approvers
	if approvers == nil {
		approvers = []string{}
	}
	if c.approvers, err = repository.JSONColumn(approvers); err != nil {
		return c, err
	}
	if c.awaiting, err = repository.JSONColumn(req.Awaiting); err != nil {
		return c, err
	}
	return c, nil
}
