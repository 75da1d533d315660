package documents

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
	"github.com/JaimeStill/docflow/pkg/storage"
)

type repo struct {
	db         *sql.DB
	storage    storage.System
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a document repository implementing the System interface.
// store may be nil when blob storage is disabled.
func New(
	db *sql.DB,
	store storage.System,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		storage:    store,
		logger:     logger.With("system", "documents"),
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
) (*pagination.PageResult[Document], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Title", "ExternalID", "ExternalPlatform")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	total, err := repository.QueryCount(ctx, r.db, countSQL, countArgs...)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	docs, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	result := pagination.NewPageResult(docs, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Document, error) {
	return Get(ctx, r.db, id)
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Document, error) {
	if err := cmd.normalize(); err != nil {
		return nil, err
	}

	id, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (uuid.UUID, error) {
		return insert(ctx, tx, cmd)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	d, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	r.logger.Info("document registered", "id", d.ID, "external_id", d.ExternalID, "platform", d.ExternalPlatform)
	return d, nil
}

func (r *repo) CreateBatch(ctx context.Context, cmds []CreateCommand) []BatchResult {
	results := make([]BatchResult, len(cmds))
	for i, cmd := range cmds {
		results[i].ExternalID = cmd.ExternalID

		d, err := r.Create(ctx, cmd)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		results[i].Document = d
	}
	return results
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		d, err := GetForUpdate(ctx, tx, id)
		if err != nil {
			return struct{}{}, err
		}
		if err := d.Removable(); err != nil {
			return struct{}{}, err
		}
		if err := repository.ExecExpectOne(
			ctx, tx,
			"DELETE FROM documents WHERE id = $1",
			id,
		); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})

	switch {
	case errors.Is(err, ErrInUse), errors.Is(err, ErrNotFound):
		return err
	case repository.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %s", ErrInUse, id)
	case err != nil:
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	if r.storage != nil {
		key := ArchiveKey(id)
		if delErr := r.storage.Delete(ctx, key); delErr != nil && !errors.Is(delErr, storage.ErrNotFound) {
			r.logger.Warn(
				"archive delete failed after DB delete",
				"key", key,
				"error", delErr,
			)
		}
	}

	r.logger.Info("document deleted", "id", id)
	return nil
}

// Get loads a document using q, which may be a transaction.
func Get(ctx context.Context, q repository.Querier, id uuid.UUID) (*Document, error) {
	sqlStr, args := query.NewBuilder(projection).BuildSingle("ID", id)

	d, err := repository.QueryOne(ctx, q, sqlStr, args, scanDocument)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &d, nil
}

// GetForUpdate loads a document and holds its row lock for the rest of the
// transaction.
func GetForUpdate(ctx context.Context, q repository.Querier, id uuid.UUID) (*Document, error) {
	var locked uuid.UUID
	err := q.QueryRowContext(ctx, "SELECT id FROM documents WHERE id = $1 FOR UPDATE", id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock document: %w", err)
	}
	return Get(ctx, q, id)
}

// Update writes the workflow markers of d if its version is still current,
// then advances d.Version. A stale version fails with ErrVersionConflict.
func Update(ctx context.Context, q repository.Querier, d *Document) error {
	err := q.QueryRowContext(ctx, `
		UPDATE documents
		SET circuit_id = $3, current_status_id = $4, pending_approval_id = $5,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		d.ID, d.Version, d.CircuitID, d.CurrentStatusID, d.PendingApprovalID,
	).Scan(&d.Version, &d.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s at version %d", ErrVersionConflict, d.ID, d.Version)
	}
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

func insert(ctx context.Context, tx *sql.Tx, cmd CreateCommand) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRowContext(ctx, `
		INSERT INTO documents(id, external_id, external_platform, title)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		uuid.New(), cmd.ExternalID, cmd.ExternalPlatform, cmd.Title,
	).Scan(&id)
	return id, err
}
