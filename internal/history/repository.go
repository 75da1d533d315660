package history

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/internal/documents"
	"github.com/JaimeStill/docflow/pkg/query"
	"github.com/JaimeStill/docflow/pkg/repository"
	"github.com/JaimeStill/docflow/pkg/storage"
)

// Archive is the blob form of a document's complete history.
type Archive struct {
	DocumentID uuid.UUID `json:"document_id"`
	ArchivedAt time.Time `json:"archived_at"`
	Entries    []Entry   `json:"entries"`
}

type repo struct {
	db      *sql.DB
	storage storage.System
	logger  *slog.Logger
}

// New creates a history reader implementing the System interface.
// store may be nil, in which case archive operations fail with
// storage.ErrDisabled.
func New(db *sql.DB, store storage.System, logger *slog.Logger) System {
	return &repo{
		db:      db,
		storage: store,
		logger:  logger.With("system", "history"),
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger)
}

func (r *repo) List(ctx context.Context, documentID uuid.UUID) ([]Entry, error) {
	if _, err := documents.Get(ctx, r.db, documentID); err != nil {
		return nil, err
	}
	return ListByDocument(ctx, r.db, documentID)
}

func (r *repo) Archive(ctx context.Context, documentID uuid.UUID) (*Archive, error) {
	if r.storage == nil {
		return nil, storage.ErrDisabled
	}

	entries, err := r.List(ctx, documentID)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		DocumentID: documentID,
		ArchivedAt: time.Now().UTC(),
		Entries:    entries,
	}

	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal history archive: %w", err)
	}

	key := documents.ArchiveKey(documentID)
	if err := r.storage.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return nil, fmt.Errorf("upload history archive: %w", err)
	}

	r.logger.Info("history archived", "document_id", documentID, "entries", len(entries), "key", key)
	return a, nil
}

func (r *repo) Download(ctx context.Context, documentID uuid.UUID) (io.ReadCloser, error) {
	if r.storage == nil {
		return nil, storage.ErrDisabled
	}

	body, err := r.storage.Download(ctx, documents.ArchiveKey(documentID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, documentID)
	}
	return body, err
}

// ListByDocument returns a document's entries in the order they were written.
func ListByDocument(ctx context.Context, q repository.Querier, documentID uuid.UUID) ([]Entry, error) {
	sqlStr, args := query.
		NewBuilder(projection, chronological).
		WhereEquals("DocumentID", documentID).
		Build()

	entries, err := repository.QueryMany(ctx, q, sqlStr, args, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return entries, nil
}

// RecordTransition appends an assigned, completed, or returned entry.
func RecordTransition(ctx context.Context, q repository.Querier, e *Entry) error {
	if err := e.ValidateTransition(); err != nil {
		return err
	}
	return insert(ctx, q, e)
}

// RecordApprovalEvent appends an entry describing approval activity.
func RecordApprovalEvent(ctx context.Context, q repository.Querier, e *Entry) error {
	if err := e.ValidateApprovalEvent(); err != nil {
		return err
	}
	return insert(ctx, q, e)
}

func insert(ctx context.Context, q repository.Querier, e *Entry) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO history_entries(
			id, document_id, circuit_id, from_status_id, to_status_id, step_id,
			approval_request_id, reverts_entry_id, actor_id, comment, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq`,
		e.ID, e.DocumentID, e.CircuitID, e.FromStatusID, e.ToStatusID, e.StepID,
		e.ApprovalRequestID, e.RevertsEntryID, e.ActorID, e.Comment, e.Outcome, e.Timestamp,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("record %s: %w", e.Outcome, err)
	}
	return nil
}
