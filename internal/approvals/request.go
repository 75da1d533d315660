package approvals

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusOpen      Status = "open"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

// Request is the record of an attempted gated transition. Only Open requests
// change; every other status is terminal.
type Request struct {
	ID           uuid.UUID  `json:"id"`
	DocumentID   uuid.UUID  `json:"document_id"`
	CircuitID    uuid.UUID  `json:"circuit_id"`
	StepID       uuid.UUID  `json:"step_id"`
	FromStatusID uuid.UUID  `json:"from_status_id"`
	ToStatusID   uuid.UUID  `json:"to_status_id"`
	Rule         Spec       `json:"rule"`
	Responses    []Response `json:"responses"`
	Awaiting     []string   `json:"awaiting"`
	Status       Status     `json:"status"`
	AutoApproved bool       `json:"auto_approved"`
	RequestedBy  string     `json:"requested_by"`
	Comment      string     `json:"comment,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// NewRequest opens a request against a rule snapshot.
func NewRequest(documentID, circuitID, stepID, from, to uuid.UUID, snapshot Spec, requestedBy, comment string, at time.Time) *Request {
	r := &Request{
		ID:           uuid.New(),
		DocumentID:   documentID,
		CircuitID:    circuitID,
		StepID:       stepID,
		FromStatusID: from,
		ToStatusID:   to,
		Rule:         snapshot,
		Responses:    []Response{},
		Status:       StatusOpen,
		RequestedBy:  requestedBy,
		Comment:      comment,
		CreatedAt:    at,
	}
	r.settle()
	return r
}

// Open reports whether the request still accepts responses.
func (r *Request) Open() bool {
	return r.Status == StatusOpen
}

// Respond records approverID's decision and re-evaluates the rule.
// A verdict other than Pending closes the request.
func (r *Request) Respond(approverID string, decision Decision, comment string, at time.Time) (Verdict, error) {
	if !r.Open() {
		return "", fmt.Errorf("%w: request is %s", ErrRequestClosed, r.Status)
	}

	rule, err := r.Rule.Rule()
	if err != nil {
		return "", err
	}

	if !slices.Contains(rule.Approvers(), approverID) {
		return "", fmt.Errorf("%w: %s", ErrNotAnApprover, approverID)
	}

	if slices.ContainsFunc(r.Responses, func(resp Response) bool { return resp.ApproverID == approverID }) {
		return "", fmt.Errorf("%w: %s", ErrAlreadyResponded, approverID)
	}

	if g, ok := rule.(Group); ok && g.Type == Sequential {
		if next := Awaiting(rule, r.Responses); len(next) == 1 && next[0] != approverID {
			return "", fmt.Errorf("%w: waiting on %s", ErrNotYourTurn, next[0])
		}
	}

	if !decision.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	r.Responses = append(r.Responses, Response{
		ApproverID:  approverID,
		Decision:    decision,
		Comment:     comment,
		RespondedAt: at,
	})

	verdict := Evaluate(rule, r.Responses)
	switch verdict {
	case Accepted:
		r.close(StatusAccepted, at)
	case Rejected:
		r.close(StatusRejected, at)
	}
	r.settle()

	return verdict, nil
}

// Withdraw cancels an open request.
func (r *Request) Withdraw(at time.Time) error {
	if !r.Open() {
		return fmt.Errorf("%w: request is %s", ErrRequestClosed, r.Status)
	}
	r.close(StatusWithdrawn, at)
	r.settle()
	return nil
}

// AutoApprove accepts an open request that no approver could ever answer.
func (r *Request) AutoApprove(at time.Time) error {
	if !r.Open() {
		return fmt.Errorf("%w: request is %s", ErrRequestClosed, r.Status)
	}
	r.AutoApproved = true
	r.close(StatusAccepted, at)
	r.settle()
	return nil
}

func (r *Request) close(status Status, at time.Time) {
	r.Status = status
	r.ResolvedAt = &at
}

// settle recomputes Awaiting from the current status, rule, and responses.
func (r *Request) settle() {
	r.Awaiting = []string{}
	if !r.Open() {
		return
	}
	if rule, err := r.Rule.Rule(); err == nil {
		r.Awaiting = Awaiting(rule, r.Responses)
	}
}
