// Package workflow implements the document workflow engine: the state
// machine that assigns documents to circuits, moves them along steps, and
// drives the approval gate on gated steps.
package workflow

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/internal/approvals"
	"github.com/JaimeStill/docflow/internal/circuits"
	"github.com/JaimeStill/docflow/internal/directory"
	"github.com/JaimeStill/docflow/internal/documents"
	"github.com/JaimeStill/docflow/internal/history"
)

// Archiver stores a document's history once it reaches a final status.
type Archiver interface {
	Archive(ctx context.Context, documentID uuid.UUID) (*history.Archive, error)
}

// Runtime bundles the dependencies the engine requires. It is assembled by
// the API module from infrastructure and domain systems.
type Runtime struct {
	Store     Store
	Directory directory.Directory
	// Archiver may be nil, which disables archiving.
	Archiver Archiver
	Metrics  *Metrics
	Logger   *slog.Logger
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Transition is a step the document may take from its current status.
type Transition struct {
	StepID           uuid.UUID       `json:"step_id"`
	NextStatusID     uuid.UUID       `json:"next_status_id"`
	NextStatusTitle  string          `json:"next_status_title"`
	IsFinal          bool            `json:"is_final"`
	RequiresApproval bool            `json:"requires_approval"`
	Rule             *approvals.Spec `json:"rule,omitempty"`
}

// MoveResult reports the outcome of a move. A gated step returns the
// approval request it opened; AutoApproved means the request closed at once
// because no eligible approver remained.
type MoveResult struct {
	RequiresApproval bool                `json:"requires_approval"`
	ApprovalID       *uuid.UUID          `json:"approval_id,omitempty"`
	AutoApproved     bool                `json:"auto_approved,omitempty"`
	Document         *documents.Document `json:"document"`
}

// ResponseResult reports whether a response resolved its request.
type ResponseResult struct {
	Resolved bool               `json:"resolved"`
	Outcome  approvals.Verdict  `json:"outcome,omitempty"`
	Request  *approvals.Request `json:"request"`
}

// Status is the complete workflow position of a document.
type Status struct {
	Document             *documents.Document `json:"document"`
	State                documents.State     `json:"state"`
	Circuit              *circuits.Circuit   `json:"circuit,omitempty"`
	CurrentStatus        *circuits.Status    `json:"current_status,omitempty"`
	AvailableTransitions []Transition        `json:"available_transitions"`
	PendingApproval      *approvals.Request  `json:"pending_approval,omitempty"`
	History              []history.Entry     `json:"history"`
}

// System defines the workflow engine's operations.
type System interface {
	Handler(maxBodySize int64) *Handler

	AssignCircuit(ctx context.Context, documentID, circuitID uuid.UUID, actor, comment string) (*documents.Document, error)
	AvailableTransitions(ctx context.Context, documentID uuid.UUID) (iter.Seq[Transition], error)
	MoveToStatus(ctx context.Context, documentID, targetStatusID uuid.UUID, comment, actor string) (*MoveResult, error)
	MoveToNextStep(ctx context.Context, documentID uuid.UUID, comment, actor string) (*MoveResult, error)
	ReturnToPreviousStep(ctx context.Context, documentID uuid.UUID, comment, actor string) (*documents.Document, error)
	SubmitResponse(ctx context.Context, requestID uuid.UUID, approverID string, decision approvals.Decision, comment string) (*ResponseResult, error)
	WithdrawApproval(ctx context.Context, requestID uuid.UUID, actor, comment string) (*approvals.Request, error)
	Status(ctx context.Context, documentID uuid.UUID) (*Status, error)
}

// transitions lazily maps the steps leaving statusID to Transitions.
// Final statuses offer none.
func transitions(c *circuits.Circuit, statusID uuid.UUID) iter.Seq[Transition] {
	return func(yield func(Transition) bool) {
		if current, ok := c.Status(statusID); !ok || current.IsFinal {
			return
		}
		for step := range c.Outgoing(statusID) {
			next, _ := c.Status(step.NextStatusID)
			t := Transition{
				StepID:           step.ID,
				NextStatusID:     step.NextStatusID,
				NextStatusTitle:  next.Title,
				IsFinal:          next.IsFinal,
				RequiresApproval: step.RequiresApproval,
				Rule:             step.Rule,
			}
			if !yield(t) {
				return
			}
		}
	}
}

func empty[T any](func(T) bool) {}
