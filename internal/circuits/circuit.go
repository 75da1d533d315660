// Package circuits implements the circuit registry: the ordered statuses a
// document may occupy and the steps connecting them.
package circuits

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/internal/approvals"
)

// Circuit is a named collection of statuses and steps. While active its
// statuses and steps are frozen.
type Circuit struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	Statuses    []Status  `json:"statuses,omitempty"`
	Steps       []Step    `json:"steps,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Status is a named state within a circuit.
type Status struct {
	ID         uuid.UUID `json:"id"`
	CircuitID  uuid.UUID `json:"circuit_id"`
	Title      string    `json:"title"`
	IsRequired bool      `json:"is_required"`
	IsInitial  bool      `json:"is_initial"`
	IsFinal    bool      `json:"is_final"`
	Position   int       `json:"position"`
}

// Step is a directed edge between two statuses of the same circuit,
// optionally gated by an approval rule.
type Step struct {
	ID               uuid.UUID       `json:"id"`
	CircuitID        uuid.UUID       `json:"circuit_id"`
	CurrentStatusID  uuid.UUID       `json:"current_status_id"`
	NextStatusID     uuid.UUID       `json:"next_status_id"`
	RequiresApproval bool            `json:"requires_approval"`
	ApprovalRuleID   *uuid.UUID      `json:"approval_rule_id,omitempty"`
	Rule             *approvals.Spec `json:"rule,omitempty"`
	Position         int             `json:"position"`
}

// CreateCommand carries the metadata for a new circuit.
type CreateCommand struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UpdateCommand replaces circuit metadata. Allowed while active.
type UpdateCommand struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// StatusCommand defines or replaces a status. A nil Position appends.
type StatusCommand struct {
	Title      string `json:"title"`
	IsRequired bool   `json:"is_required"`
	IsInitial  bool   `json:"is_initial"`
	IsFinal    bool   `json:"is_final"`
	Position   *int   `json:"position,omitempty"`
}

// StepCommand defines or replaces a step. A nil Position appends.
type StepCommand struct {
	CurrentStatusID  uuid.UUID       `json:"current_status_id"`
	NextStatusID     uuid.UUID       `json:"next_status_id"`
	RequiresApproval bool            `json:"requires_approval"`
	Rule             *approvals.Spec `json:"rule,omitempty"`
	Position         *int            `json:"position,omitempty"`
}

func (c CreateCommand) validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidCircuit)
	}
	return nil
}

func (c UpdateCommand) validate() error {
	return CreateCommand(c).validate()
}

// Status returns the status with the given id.
func (c *Circuit) Status(id uuid.UUID) (Status, bool) {
	i := slices.IndexFunc(c.Statuses, func(s Status) bool { return s.ID == id })
	if i < 0 {
		return Status{}, false
	}
	return c.Statuses[i], true
}

// InitialStatus returns the circuit's initial status.
func (c *Circuit) InitialStatus() (Status, bool) {
	i := slices.IndexFunc(c.Statuses, func(s Status) bool { return s.IsInitial })
	if i < 0 {
		return Status{}, false
	}
	return c.Statuses[i], true
}

// Outgoing yields the steps leaving statusID in position order.
// The sequence is restartable and has no side effects.
func (c *Circuit) Outgoing(statusID uuid.UUID) iter.Seq[Step] {
	return func(yield func(Step) bool) {
		for _, s := range c.Steps {
			if s.CurrentStatusID != statusID {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Step returns the step from current to next.
func (c *Circuit) Step(current, next uuid.UUID) (Step, bool) {
	for s := range c.Outgoing(current) {
		if s.NextStatusID == next {
			return s, true
		}
	}
	return Step{}, false
}

// StepByID returns the step with the given id.
func (c *Circuit) StepByID(id uuid.UUID) (Step, bool) {
	i := slices.IndexFunc(c.Steps, func(s Step) bool { return s.ID == id })
	if i < 0 {
		return Step{}, false
	}
	return c.Steps[i], true
}

// Mutable fails with ErrCircuitActive when the structure is frozen.
func (c *Circuit) Mutable() error {
	if c.IsActive {
		return fmt.Errorf("%w: %s", ErrCircuitActive, c.Title)
	}
	return nil
}

// ValidateStatus checks cmd against the other statuses of the circuit.
// exclude names the status being replaced, or uuid.Nil for a new one.
func (c *Circuit) ValidateStatus(cmd StatusCommand, exclude uuid.UUID) error {
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return fmt.Errorf("%w: status title is required", ErrInvalidStatus)
	}
	if cmd.Position != nil && *cmd.Position < 0 {
		return fmt.Errorf("%w: position must be non-negative", ErrInvalidStatus)
	}

	for _, s := range c.Statuses {
		if s.ID == exclude {
			continue
		}
		if cmd.IsInitial && s.IsInitial {
			return fmt.Errorf("%w: %q is already initial", ErrDuplicateInitial, s.Title)
		}
		if strings.EqualFold(s.Title, title) {
			return fmt.Errorf("%w: %q", ErrDuplicateStatus, title)
		}
	}
	return nil
}

// ValidateStep checks cmd against the circuit's statuses and other steps.
// exclude names the step being replaced, or uuid.Nil for a new one.
func (c *Circuit) ValidateStep(cmd StepCommand, exclude uuid.UUID) error {
	if cmd.CurrentStatusID == cmd.NextStatusID {
		return fmt.Errorf("%w: a step cannot lead to its own status", ErrInvalidStep)
	}
	if _, ok := c.Status(cmd.CurrentStatusID); !ok {
		return fmt.Errorf("%w: current status %s is not in this circuit", ErrInvalidStep, cmd.CurrentStatusID)
	}
	if _, ok := c.Status(cmd.NextStatusID); !ok {
		return fmt.Errorf("%w: next status %s is not in this circuit", ErrInvalidStep, cmd.NextStatusID)
	}
	if cmd.Position != nil && *cmd.Position < 0 {
		return fmt.Errorf("%w: position must be non-negative", ErrInvalidStep)
	}

	switch {
	case cmd.RequiresApproval && cmd.Rule == nil:
		return fmt.Errorf("%w: a gated step needs an approval rule", ErrInvalidStep)
	case !cmd.RequiresApproval && cmd.Rule != nil:
		return fmt.Errorf("%w: approval rule given for an ungated step", ErrInvalidStep)
	case cmd.Rule != nil:
		if _, err := cmd.Rule.Rule(); err != nil {
			return err
		}
	}

	if s, ok := c.Step(cmd.CurrentStatusID, cmd.NextStatusID); ok && s.ID != exclude {
		return fmt.Errorf("%w: %s -> %s", ErrDuplicateStep, cmd.CurrentStatusID, cmd.NextStatusID)
	}
	return nil
}

// CanActivate reports why the circuit cannot be activated, if it cannot.
func (c *Circuit) CanActivate() error {
	if len(c.Steps) == 0 {
		return fmt.Errorf("%w: %s", ErrNoSteps, c.Title)
	}
	if _, ok := c.InitialStatus(); !ok {
		return fmt.Errorf("%w: %s", ErrNoInitialStatus, c.Title)
	}
	return nil
}

// referenced reports whether any step uses statusID.
func (c *Circuit) referenced(statusID uuid.UUID) bool {
	return slices.ContainsFunc(c.Steps, func(s Step) bool {
		return s.CurrentStatusID == statusID || s.NextStatusID == statusID
	})
}

// normalize canonicalizes a rule the way it is persisted.
func normalize(spec *approvals.Spec) (*approvals.Spec, error) {
	if spec == nil {
		return nil, nil
	}
	rule, err := spec.Rule()
	if err != nil {
		return nil, err
	}
	out := approvals.SpecOf(rule)
	return &out, nil
}
