package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/internal/approvals"
	"github.com/JaimeStill/docflow/internal/circuits"
	"github.com/JaimeStill/docflow/internal/documents"
	"github.com/JaimeStill/docflow/internal/history"
	"github.com/JaimeStill/docflow/internal/workflow"
)

var errReadOnly = errors.New("memstore: write in view")

// memStore is an in-memory workflow.Store. Tx holds an exclusive lock for
// its whole duration and restores the prior state when fn fails.
type memStore struct {
	mu       sync.RWMutex
	docs     map[uuid.UUID]documents.Document
	circuits map[uuid.UUID]*circuits.Circuit
	requests map[uuid.UUID]approvals.Request
	entries  []history.Entry
	seq      int64

	// pause runs inside Tx before fn.
	pause func()
	// conflict fails the next document update with a version conflict.
	conflict bool
	// trace records "document" and "request" reads made inside Tx.
	trace []string
}

var _ workflow.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		docs:     make(map[uuid.UUID]documents.Document),
		circuits: make(map[uuid.UUID]*circuits.Circuit),
		requests: make(map[uuid.UUID]approvals.Request),
	}
}

func (s *memStore) addDocument(externalID string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	d := documents.Document{
		ID:               uuid.New(),
		ExternalID:       externalID,
		ExternalPlatform: "test",
		Title:            "test/" + externalID,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.docs[d.ID] = d
	return d.ID
}

func (s *memStore) addCircuit(c *circuits.Circuit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circuits[c.ID] = c
}

func (s *memStore) document(id uuid.UUID) *documents.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.docs[id]
	return &d
}

// reads returns the rows read inside write transactions, in order.
func (s *memStore) reads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.trace)
}

func (s *memStore) request(id uuid.UUID) approvals.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[id]
}

func (s *memStore) outcomes(documentID uuid.UUID) []history.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []history.Outcome
	for _, e := range s.entries {
		if e.DocumentID == documentID {
			out = append(out, e.Outcome)
		}
	}
	return out
}

func (s *memStore) Tx(_ context.Context, fn func(workflow.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pause != nil {
		s.pause()
	}

	docs, requests := maps.Clone(s.docs), maps.Clone(s.requests)
	n, seq := len(s.entries), s.seq

	if err := fn(&memTx{s: s, write: true}); err != nil {
		s.docs, s.requests = docs, requests
		s.entries, s.seq = s.entries[:n], seq
		return err
	}
	return nil
}

func (s *memStore) View(_ context.Context, fn func(workflow.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{s: s})
}

type memTx struct {
	s     *memStore
	write bool
}

func (t *memTx) Document(_ context.Context, id uuid.UUID) (*documents.Document, error) {
	t.read("document")
	d, ok := t.s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", documents.ErrNotFound, id)
	}
	return &d, nil
}

func (t *memTx) Circuit(_ context.Context, id uuid.UUID) (*circuits.Circuit, error) {
	c, ok := t.s.circuits[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", circuits.ErrNotFound, id)
	}
	return c, nil
}

func (t *memTx) Request(_ context.Context, id uuid.UUID) (*approvals.Request, error) {
	t.read("request")
	r, ok := t.s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", approvals.ErrNotFound, id)
	}
	return cloneRequest(r), nil
}

func (t *memTx) History(_ context.Context, documentID uuid.UUID) ([]history.Entry, error) {
	var out []history.Entry
	for _, e := range t.s.entries {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) UpdateDocument(_ context.Context, d *documents.Document) error {
	if !t.write {
		return errReadOnly
	}
	if t.s.conflict {
		t.s.conflict = false
		return fmt.Errorf("%w: %s", documents.ErrVersionConflict, d.ID)
	}

	current, ok := t.s.docs[d.ID]
	if !ok {
		return fmt.Errorf("%w: %s", documents.ErrNotFound, d.ID)
	}
	if current.Version != d.Version {
		return fmt.Errorf("%w: %s at version %d", documents.ErrVersionConflict, d.ID, d.Version)
	}

	d.Version++
	d.UpdatedAt = time.Now().UTC()
	t.s.docs[d.ID] = *d
	return nil
}

func (t *memTx) InsertRequest(_ context.Context, r *approvals.Request) error {
	if !t.write {
		return errReadOnly
	}
	for _, existing := range t.s.requests {
		if existing.DocumentID == r.DocumentID && existing.Open() && r.Open() {
			return fmt.Errorf("%w: %s", approvals.ErrOpenRequestExists, r.DocumentID)
		}
	}
	t.s.requests[r.ID] = *cloneRequest(*r)
	return nil
}

func (t *memTx) UpdateRequest(_ context.Context, r *approvals.Request) error {
	if !t.write {
		return errReadOnly
	}
	if current := t.s.requests[r.ID]; !current.Open() {
		return fmt.Errorf("%w: %s", approvals.ErrRequestClosed, r.ID)
	}
	t.s.requests[r.ID] = *cloneRequest(*r)
	return nil
}

func (t *memTx) RecordTransition(_ context.Context, e *history.Entry) error {
	if !t.write {
		return errReadOnly
	}
	if err := e.ValidateTransition(); err != nil {
		return err
	}
	t.append(e)
	return nil
}

func (t *memTx) RecordApprovalEvent(_ context.Context, e *history.Entry) error {
	if !t.write {
		return errReadOnly
	}
	if err := e.ValidateApprovalEvent(); err != nil {
		return err
	}
	t.append(e)
	return nil
}

func (t *memTx) read(row string) {
	if t.write {
		t.s.trace = append(t.s.trace, row)
	}
}

func (t *memTx) append(e *history.Entry) {
	t.s.seq++
	e.Seq = t.s.seq
	t.s.entries = append(t.s.entries, *e)
}

func cloneRequest(r approvals.Request) *approvals.Request {
	r.Responses = slices.Clone(r.Responses)
	r.Awaiting = slices.Clone(r.Awaiting)
	r.Rule.Approvers = slices.Clone(r.Rule.Approvers)
	return &r
}
