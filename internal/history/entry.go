// Package history implements the append-only log of workflow transitions
// and approval events.
package history

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a history entry.
type Outcome string

const (
	Assigned          Outcome = "assigned"
	Completed         Outcome = "completed"
	Returned          Outcome = "returned"
	ApprovalRequested Outcome = "approval_requested"
	ApprovalResponse  Outcome = "approval_response"
	Accepted          Outcome = "accepted"
	Rejected          Outcome = "rejected"
	Withdrawn         Outcome = "withdrawn"
)

// Transition reports whether o moves the document between statuses.
func (o Outcome) Transition() bool {
	return o == Assigned || o == Completed || o == Returned
}

// ApprovalEvent reports whether o records approval activity.
func (o Outcome) ApprovalEvent() bool {
	switch o {
	case ApprovalRequested, ApprovalResponse, Accepted, Rejected, Withdrawn:
		return true
	}
	return false
}

// Entry is one immutable record in a document's history. Seq orders entries
// written in the same instant.
type Entry struct {
	ID                uuid.UUID  `json:"id"`
	Seq               int64      `json:"seq"`
	DocumentID        uuid.UUID  `json:"document_id"`
	CircuitID         uuid.UUID  `json:"circuit_id"`
	FromStatusID      *uuid.UUID `json:"from_status_id"`
	ToStatusID        *uuid.UUID `json:"to_status_id"`
	StepID            *uuid.UUID `json:"step_id,omitempty"`
	ApprovalRequestID *uuid.UUID `json:"approval_request_id,omitempty"`
	RevertsEntryID    *uuid.UUID `json:"reverts_entry_id,omitempty"`
	ActorID           string     `json:"actor_id"`
	Comment           string     `json:"comment"`
	Outcome           Outcome    `json:"outcome"`
	Timestamp         time.Time  `json:"timestamp"`
}

func (e *Entry) prepare() error {
	if e.DocumentID == uuid.Nil || e.CircuitID == uuid.Nil {
		return fmt.Errorf("%w: document and circuit are required", ErrInvalidEntry)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return nil
}

// ValidateTransition checks the fields a status-changing entry must carry.
func (e *Entry) ValidateTransition() error {
	if !e.Outcome.Transition() {
		return fmt.Errorf("%w: %q is not a transition outcome", ErrInvalidEntry, e.Outcome)
	}
	if e.ToStatusID == nil {
		return fmt.Errorf("%w: transition without a target status", ErrInvalidEntry)
	}
	if e.Outcome == Assigned && e.FromStatusID != nil {
		return fmt.Errorf("%w: assignment has no source status", ErrInvalidEntry)
	}
	if e.Outcome != Assigned && e.FromStatusID == nil {
		return fmt.Errorf("%w: %s without a source status", ErrInvalidEntry, e.Outcome)
	}
	if e.Outcome == Returned && e.RevertsEntryID == nil {
		return fmt.Errorf("%w: return without the entry it reverts", ErrInvalidEntry)
	}
	return e.prepare()
}

// ValidateApprovalEvent checks the fields an approval entry must carry.
func (e *Entry) ValidateApprovalEvent() error {
	if !e.Outcome.ApprovalEvent() {
		return fmt.Errorf("%w: %q is not an approval outcome", ErrInvalidEntry, e.Outcome)
	}
	if e.ApprovalRequestID == nil {
		return fmt.Errorf("%w: approval event without a request", ErrInvalidEntry)
	}
	return e.prepare()
}

// Previous finds the completed entry a return from currentStatusID would
// undo: the most recent completed entry into currentStatusID that no later
// return has reverted. entries must be in chronological order.
func Previous(entries []Entry, currentStatusID uuid.UUID) (Entry, bool) {
	reverted := make(map[uuid.UUID]struct{})

	for _, e := range slices.Backward(entries) {
		switch e.Outcome {
		case Returned:
			if e.RevertsEntryID != nil {
				reverted[*e.RevertsEntryID] = struct{}{}
			}
		case Completed:
			if _, ok := reverted[e.ID]; ok {
				continue
			}
			if e.ToStatusID != nil && *e.ToStatusID == currentStatusID && e.FromStatusID != nil {
				return e, true
			}
		}
	}
	return Entry{}, false
}
