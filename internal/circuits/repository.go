package circuits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/pkg/pagination"
	"github.com/JaimeStill/docflow/pkg/query"
	"github.com/JaimeStill/docflow/pkg/repository"
)

// LockMode is the row lock taken on a circuit inside a transaction.
type LockMode string

const (
	// ForUpdate serializes structural edits and activation changes.
	ForUpdate LockMode = "FOR UPDATE"
	// ForShare lets the engine read a circuit while keeping it from being
	// deactivated underneath an assignment.
	ForShare LockMode = "FOR SHARE"
)

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a circuit repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger, pagination pagination.Config) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "circuits"),
		pagination: pagination,
	}
}

func (r *repo) Handler(maxBodySize int64) *Handler {
	return NewHandler(r, r.logger, r.pagination, maxBodySize)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Circuit], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Title", "Description")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	total, err := repository.QueryCount(ctx, r.db, countSQL, countArgs...)
	if err != nil {
		return nil, fmt.Errorf("count circuits: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	circuits, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanCircuit)
	if err != nil {
		return nil, fmt.Errorf("query circuits: %w", err)
	}

	result := pagination.NewPageResult(circuits, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Circuit, error) {
	return Load(ctx, r.db, id)
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Circuit, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	q := `
		INSERT INTO circuits(id, title, description)
		VALUES ($1, $2, $3)
		RETURNING id, title, description, is_active, created_at, updated_at`

	c, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Circuit, error) {
		return repository.QueryOne(
			ctx, tx, q,
			[]any{uuid.New(), strings.TrimSpace(cmd.Title), cmd.Description},
			scanCircuit,
		)
	})
	if err != nil {
		return nil, mapWriteError(err)
	}

	c.Statuses = []Status{}
	c.Steps = []Step{}

	r.logger.Info("circuit created", "id", c.ID, "title", c.Title)
	return &c, nil
}

func (r *repo) Update(ctx context.Context, id uuid.UUID, cmd UpdateCommand) (*Circuit, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	return edit(ctx, r, id, func(tx *sql.Tx, c *Circuit) (*Circuit, error) {
		err := repository.ExecExpectOne(ctx, tx, `
			UPDATE circuits SET title = $2, description = $3, updated_at = now()
			WHERE id = $1`,
			id, strings.TrimSpace(cmd.Title), cmd.Description,
		)
		if err != nil {
			return nil, mapWriteError(err)
		}
		return Load(ctx, tx, id)
	})
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := edit(ctx, r, id, func(tx *sql.Tx, c *Circuit) (struct{}, error) {
		if err := c.Mutable(); err != nil {
			return struct{}{}, err
		}

		n, err := repository.QueryCount(ctx, tx,
			"SELECT COUNT(*) FROM documents WHERE circuit_id = $1", id)
		if err != nil {
			return struct{}{}, fmt.Errorf("count circuit documents: %w", err)
		}
		if n > 0 {
			return struct{}{}, fmt.Errorf("%w: %d documents use circuit %s", ErrInUse, n, c.Title)
		}

		if err := repository.ExecExpectOne(ctx, tx, "DELETE FROM circuits WHERE id = $1", id); err != nil {
			return struct{}{}, mapWriteError(err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("circuit deleted", "id", id)
	return nil
}

func (r *repo) Import(ctx context.Context, def Definition) (*Circuit, error) {
	c, err := def.Build(time.Now().UTC())
	if err != nil {
		return nil, err
	}

	_, err = repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO circuits(id, title, description, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, c.Title, c.Description, c.IsActive, c.CreatedAt, c.UpdatedAt,
		); err != nil {
			return struct{}{}, mapWriteError(err)
		}

		for _, s := range c.Statuses {
			if err := insertStatus(ctx, tx, s); err != nil {
				return struct{}{}, err
			}
		}
		for _, s := range c.Steps {
			if err := insertStep(ctx, tx, s); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info(
		"circuit imported",
		"id", c.ID,
		"title", c.Title,
		"statuses", len(c.Statuses),
		"steps", len(c.Steps),
		"active", c.IsActive,
	)
	return c, nil
}

func (r *repo) AddStatus(ctx context.Context, circuitID uuid.UUID, cmd StatusCommand) (*Status, error) {
	return structural(ctx, r, circuitID, func(tx *sql.Tx, c *Circuit) (*Status, error) {
		if err := c.ValidateStatus(cmd, uuid.Nil); err != nil {
			return nil, err
		}

		s := newStatus(c.ID, cmd, len(c.Statuses))
		if err := insertStatus(ctx, tx, s); err != nil {
			return nil, err
		}
		return &s, nil
	})
}

func (r *repo) UpdateStatus(ctx context.Context, circuitID, statusID uuid.UUID, cmd StatusCommand) (*Status, error) {
	return structural(ctx, r, circuitID, func(tx *sql.Tx, c *Circuit) (*Status, error) {
		current, ok := c.Status(statusID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrStatusNotFound, statusID)
		}
		if err := c.ValidateStatus(cmd, statusID); err != nil {
			return nil, err
		}

		s := newStatus(c.ID, cmd, current.Position)
		s.ID = statusID

		err := repository.ExecExpectOne(ctx, tx, `
			UPDATE circuit_statuses
			SET title = $2, is_required = $3, is_initial = $4, is_final = $5, position = $6
			WHERE id = $1`,
			s.ID, s.Title, s.IsRequired, s.IsInitial, s.IsFinal, s.Position,
		)
		if err != nil {
			return nil, mapWriteError(err)
		}
		return &s, nil
	})
}

func (r *repo) RemoveStatus(ctx context.Context, circuitID, statusID uuid.UUID) error {
	_, err := structural(ctx, r, circuitID, func(tx *sql.Tx, c *Circuit) (struct{}, error) {
		s, ok := c.Status(statusID)
		if !ok {
			return struct{}{}, fmt.Errorf("%w: %s", ErrStatusNotFound, statusID)
		}
		if c.referenced(statusID) {
			return struct{}{}, fmt.Errorf("%w: status %q is used by a step", ErrInUse, s.Title)
		}

		n, err := repository.QueryCount(ctx, tx,
			"SELECT COUNT(*) FROM documents WHERE current_status_id = $1", statusID)
		if err != nil {
			return struct{}{}, fmt.Errorf("count status documents: %w", err)
		}
		if n > 0 {
			return struct{}{}, fmt.Errorf("%w: %d documents are at status %q", ErrInUse, n, s.Title)
		}

		if err := repository.ExecExpectOne(ctx, tx, "DELETE FROM circuit_statuses WHERE id = $1", statusID); err != nil {
			return struct{}{}, mapWriteError(err)
		}
		return struct{}{}, nil
	})
	return err
}

func (r *repo) CreateStep(ctx context.Context, circuitID uuid.UUID, cmd StepCommand) (*Step, error) {
	return structural(ctx, r, circuitID, func(tx *sql.Tx, c *Circuit) (*Step, error) {
		if err := c.ValidateStep(cmd, uuid.Nil); err != nil {
			return nil, err
		}

		s, err := newStep(c.ID, cmd, len(c.Steps))
		if err != nil {
			return nil, err
		}
		if err := insertStep(ctx, tx, s); err != nil {
			return nil, err
		}
		return &s, nil
	})
}

func (r *repo) UpdateStep(ctx context.Context, circuitID, stepID uuid.UUID, cmd StepCommand) (*Step, error) {
	return structural(ctx, r, circuitID, func(tx *sql.Tx, c *Circuit) (*Step, error) {
		current, ok := c.StepByID(stepID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
		}
		if err := c.ValidateStep(cmd, stepID); err != nil {
			return nil, err
		}

		s, err := newStep(c.ID, cmd, current.Position)
		if err != nil {
			return nil, err
		}
		s.ID = stepID

		if s.ApprovalRuleID != nil {
			if err := insertRule(ctx, tx, s); err != nil {
				return nil, err
			}
		}

		err = repository.ExecExpectOne(ctx, tx, `
			UPDATE circuit_steps
			SET current_status_id = $2, next_status_id = $3, requires_approval = $4,
				approval_rule_id = $5, position = $6
			WHERE id = $1`,
			s.ID, s.CurrentStatusID, s.NextStatusID, s.RequiresApproval, s.ApprovalRuleID, s.Position,
		)
		if err != nil {
			return nil, mapWriteError(err)
		}

		if err := deleteRule(ctx, tx, current.ApprovalRuleID); err != nil {
			return nil, err
		}
		return &s, nil
	})
}

func (r *repo) DeleteStep(ctx context.Context, circuitID, stepID uuid.UUID) error {
	_, err := structural(ctx, r, circuitID, func(tx *sql.Tx, c *Circuit) (struct{}, error) {
		s, ok := c.StepByID(stepID)
		if !ok {
			return struct{}{}, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
		}

		if err := repository.ExecExpectOne(ctx, tx, "DELETE FROM circuit_steps WHERE id = $1", stepID); err != nil {
			return struct{}{}, mapWriteError(err)
		}
		return struct{}{}, deleteRule(ctx, tx, s.ApprovalRuleID)
	})
	return err
}

func (r *repo) Activate(ctx context.Context, id uuid.UUID) (*Circuit, error) {
	c, err := edit(ctx, r, id, func(tx *sql.Tx, c *Circuit) (*Circuit, error) {
		if c.IsActive {
			return c, nil
		}
		if err := c.CanActivate(); err != nil {
			return nil, err
		}
		return c, setActive(ctx, tx, c, true)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("circuit activated", "id", id, "title", c.Title)
	return c, nil
}

func (r *repo) Deactivate(ctx context.Context, id uuid.UUID) (*Circuit, error) {
	c, err := edit(ctx, r, id, func(tx *sql.Tx, c *Circuit) (*Circuit, error) {
		if !c.IsActive {
			return c, nil
		}

		n, err := repository.QueryCount(ctx, tx, `
			SELECT COUNT(*)
			FROM documents d
			JOIN circuit_statuses s ON s.id = d.current_status_id
			WHERE d.circuit_id = $1 AND NOT s.is_final`, id)
		if err != nil {
			return nil, fmt.Errorf("count in-flight documents: %w", err)
		}
		if n > 0 {
			return nil, fmt.Errorf("%w: %d documents are in progress on %s", ErrInUse, n, c.Title)
		}

		return c, setActive(ctx, tx, c, false)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("circuit deactivated", "id", id, "title", c.Title)
	return c, nil
}

// Load reads a circuit with its statuses and steps using q, which may be a
// transaction.
func Load(ctx context.Context, q repository.Querier, id uuid.UUID) (*Circuit, error) {
	sqlStr, args := query.NewBuilder(projection).BuildSingle("ID", id)

	c, err := repository.QueryOne(ctx, q, sqlStr, args, scanCircuit)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	statusSQL, statusArgs := query.
		NewBuilder(statusProjection, positionSort...).
		WhereEquals("CircuitID", id).
		Build()

	if c.Statuses, err = repository.QueryMany(ctx, q, statusSQL, statusArgs, scanStatus); err != nil {
		return nil, fmt.Errorf("query circuit statuses: %w", err)
	}

	stepSQL, stepArgs := query.
		NewBuilder(stepProjection, positionSort...).
		WhereEquals("CircuitID", id).
		Build()

	if c.Steps, err = repository.QueryMany(ctx, q, stepSQL, stepArgs, scanStep); err != nil {
		return nil, fmt.Errorf("query circuit steps: %w", err)
	}

	return &c, nil
}

// Lock takes a row lock on the circuit for the rest of the transaction.
func Lock(ctx context.Context, q repository.Querier, id uuid.UUID, mode LockMode) error {
	var locked uuid.UUID
	err := q.QueryRowContext(ctx,
		"SELECT id FROM circuits WHERE id = $1 "+string(mode), id,
	).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("lock circuit: %w", err)
	}
	return nil
}

// edit runs fn in a transaction holding the circuit's update lock.
func edit[T any](ctx context.Context, r *repo, id uuid.UUID, fn func(tx *sql.Tx, c *Circuit) (T, error)) (T, error) {
	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (T, error) {
		var zero T
		if err := Lock(ctx, tx, id, ForUpdate); err != nil {
			return zero, err
		}
		c, err := Load(ctx, tx, id)
		if err != nil {
			return zero, err
		}
		return fn(tx, c)
	})
}

// structural is edit restricted to inactive circuits. It bumps updated_at.
func structural[T any](ctx context.Context, r *repo, id uuid.UUID, fn func(tx *sql.Tx, c *Circuit) (T, error)) (T, error) {
	return edit(ctx, r, id, func(tx *sql.Tx, c *Circuit) (T, error) {
		var zero T
		if err := c.Mutable(); err != nil {
			return zero, err
		}
		result, err := fn(tx, c)
		if err != nil {
			return zero, err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE circuits SET updated_at = now() WHERE id = $1", id); err != nil {
			return zero, fmt.Errorf("touch circuit: %w", err)
		}
		return result, nil
	})
}

func setActive(ctx context.Context, tx *sql.Tx, c *Circuit, active bool) error {
	err := tx.QueryRowContext(ctx, `
		UPDATE circuits SET is_active = $2, updated_at = now()
		WHERE id = $1
		RETURNING is_active, updated_at`,
		c.ID, active,
	).Scan(&c.IsActive, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set circuit active: %w", err)
	}
	return nil
}

func insertStatus(ctx context.Context, tx *sql.Tx, s Status) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO circuit_statuses(id, circuit_id, title, is_required, is_initial, is_final, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.CircuitID, s.Title, s.IsRequired, s.IsInitial, s.IsFinal, s.Position,
	)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func insertStep(ctx context.Context, tx *sql.Tx, s Step) error {
	if s.ApprovalRuleID != nil {
		if err := insertRule(ctx, tx, s); err != nil {
			return err
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO circuit_steps(id, circuit_id, current_status_id, next_status_id, requires_approval, approval_rule_id, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.CircuitID, s.CurrentStatusID, s.NextStatusID, s.RequiresApproval, s.ApprovalRuleID, s.Position,
	)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func insertRule(ctx context.Context, tx *sql.Tx, s Step) error {
	approvers, err := repository.JSONColumn(s.Rule.Approvers)
	if err != nil {
		return err
	}

	var ruleType *string
	if s.Rule.Type != "" {
		t := string(s.Rule.Type)
		ruleType = &t
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_rules(id, circuit_id, kind, rule_type, approver_ids)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ApprovalRuleID, s.CircuitID, s.Rule.Kind, ruleType, approvers,
	)
	if err != nil {
		return fmt.Errorf("insert approval rule: %w", err)
	}
	return nil
}

func deleteRule(ctx context.Context, tx *sql.Tx, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM approval_rules WHERE id = $1", *id); err != nil {
		return fmt.Errorf("delete approval rule: %w", err)
	}
	return nil
}

// mapWriteError translates constraint violations raised by circuit writes.
func mapWriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case repository.IsUniqueViolation(err, "circuits_title_key"):
		return ErrDuplicate
	case repository.IsUniqueViolation(err, "circuit_statuses_title_key"):
		return ErrDuplicateStatus
	case repository.IsUniqueViolation(err, "circuit_statuses_one_initial"):
		return ErrDuplicateInitial
	case repository.IsUniqueViolation(err, "circuit_steps_edge_key"):
		return ErrDuplicateStep
	case repository.IsForeignKeyViolation(err):
		return ErrInUse
	default:
		return err
	}
}
