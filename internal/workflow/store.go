package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/internal/approvals"
	"github.com/JaimeStill/docflow/internal/circuits"
	"github.com/JaimeStill/docflow/internal/documents"
	"github.com/JaimeStill/docflow/internal/history"
	"github.com/JaimeStill/docflow/pkg/repository"
)

// Store is the persistence boundary of the engine.
type Store interface {
	// Tx runs fn in one transaction. Every write made through the Tx commits
	// together or not at all.
	Tx(ctx context.Context, fn func(Tx) error) error
	// View runs fn against committed state without locking. The Tx passed
	// to fn is safe for concurrent reads and rejects writes.
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of reads and writes one engine operation performs. Inside
// Tx, Document and Request hold their row locks until commit; operations on
// an existing request read the document first so the document row orders
// every writer.
type Tx interface {
	Document(ctx context.Context, id uuid.UUID) (*documents.Document, error)
	Circuit(ctx context.Context, id uuid.UUID) (*circuits.Circuit, error)
	Request(ctx context.Context, id uuid.UUID) (*approvals.Request, error)
	History(ctx context.Context, documentID uuid.UUID) ([]history.Entry, error)

	UpdateDocument(ctx context.Context, d *documents.Document) error
	InsertRequest(ctx context.Context, r *approvals.Request) error
	UpdateRequest(ctx context.Context, r *approvals.Request) error
	RecordTransition(ctx context.Context, e *history.Entry) error
	RecordApprovalEvent(ctx context.Context, e *history.Entry) error
}

// errReadOnly is returned by writes attempted inside View.
var errReadOnly = errors.New("workflow: write inside read-only view")

type pgStore struct {
	db *sql.DB
}

// NewStore creates the PostgreSQL Store.
func NewStore(db *sql.DB) Store {
	return &pgStore{db: db}
}

func (s *pgStore) Tx(ctx context.Context, fn func(Tx) error) error {
	_, err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, fn(&pgTx{q: tx, locking: true})
	})
	return err
}

func (s *pgStore) View(ctx context.Context, fn func(Tx) error) error {
	return fn(&pgTx{q: s.db})
}

// pgTx locks the document row without waiting and shares the circuit row
// when locking is set, so a competing instance fails fast instead of queueing.
type pgTx struct {
	q       repository.DB
	locking bool
}

func (t *pgTx) Document(ctx context.Context, id uuid.UUID) (*documents.Document, error) {
	if t.locking {
		var locked uuid.UUID
		err := t.q.QueryRowContext(ctx,
			"SELECT id FROM documents WHERE id = $1 FOR UPDATE NOWAIT", id,
		).Scan(&locked)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("%w: %s", documents.ErrNotFound, id)
		case repository.IsLockNotAvailable(err):
			return nil, fmt.Errorf("%w: %s", ErrTransitionInProgress, id)
		case err != nil:
			return nil, fmt.Errorf("lock document: %w", err)
		}
	}
	return documents.Get(ctx, t.q, id)
}

func (t *pgTx) Circuit(ctx context.Context, id uuid.UUID) (*circuits.Circuit, error) {
	if t.locking {
		if err := circuits.Lock(ctx, t.q, id, circuits.ForShare); err != nil {
			return nil, err
		}
	}
	return circuits.Load(ctx, t.q, id)
}

func (t *pgTx) Request(ctx context.Context, id uuid.UUID) (*approvals.Request, error) {
	if t.locking {
		return approvals.GetForUpdate(ctx, t.q, id)
	}
	return approvals.Get(ctx, t.q, id)
}

func (t *pgTx) History(ctx context.Context, documentID uuid.UUID) ([]history.Entry, error) {
	return history.ListByDocument(ctx, t.q, documentID)
}

func (t *pgTx) UpdateDocument(ctx context.Context, d *documents.Document) error {
	if !t.locking {
		return errReadOnly
	}
	return documents.Update(ctx, t.q, d)
}

func (t *pgTx) InsertRequest(ctx context.Context, r *approvals.Request) error {
	if !t.locking {
		return errReadOnly
	}
	return approvals.Insert(ctx, t.q, r)
}

func (t *pgTx) UpdateRequest(ctx context.Context, r *approvals.Request) error {
	if !t.locking {
		return errReadOnly
	}
	return approvals.Update(ctx, t.q, r)
}

func (t *pgTx) RecordTransition(ctx context.Context, e *history.Entry) error {
	if !t.locking {
		return errReadOnly
	}
	return history.RecordTransition(ctx, t.q, e)
}

func (t *pgTx) RecordApprovalEvent(ctx context.Context, e *history.Entry) error {
	if !t.locking {
		return errReadOnly
	}
	return history.RecordApprovalEvent(ctx, t.q, e)
}
