package circuits

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/JaimeStill/docflow/internal/approvals"
)

// Definition is a complete circuit described in YAML. Steps refer to
// statuses by title.
//
//	title: Publication
//	statuses:
//	  - title: Draft
//	    initial: true
//	  - title: Published
//	    final: true
//	steps:
//	  - from: Draft
//	    to: Published
//	    rule: {kind: single, approvers: ["42"]}
//	activate: true
type Definition struct {
	Title       string             `yaml:"title"`
	Description string             `yaml:"description"`
	Activate    bool               `yaml:"activate"`
	Statuses    []StatusDefinition `yaml:"statuses"`
	Steps       []StepDefinition   `yaml:"steps"`
}

// StatusDefinition declares one status of a Definition.
type StatusDefinition struct {
	Title    string `yaml:"title"`
	Required bool   `yaml:"required"`
	Initial  bool   `yaml:"initial"`
	Final    bool   `yaml:"final"`
}

// StepDefinition declares one step of a Definition. A rule gates the step.
type StepDefinition struct {
	From string          `yaml:"from"`
	To   string          `yaml:"to"`
	Rule *approvals.Spec `yaml:"rule"`
}

// ParseDefinition decodes a YAML circuit definition. Unknown keys are rejected.
func ParseDefinition(r io.Reader) (Definition, error) {
	var def Definition

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return def, fmt.Errorf("%w: empty document", ErrInvalidImport)
		}
		return def, fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}
	return def, nil
}

// Build assembles an unsaved circuit from the definition, applying the same
// validation as incremental edits.
func (d Definition) Build(at time.Time) (*Circuit, error) {
	cmd := CreateCommand{Title: d.Title, Description: d.Description}
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	c := &Circuit{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(d.Title),
		Description: d.Description,
		Statuses:    []Status{},
		Steps:       []Step{},
		CreatedAt:   at,
		UpdatedAt:   at,
	}

	byTitle := make(map[string]uuid.UUID, len(d.Statuses))

	for i, sd := range d.Statuses {
		sc := StatusCommand{
			Title:      sd.Title,
			IsRequired: sd.Required,
			IsInitial:  sd.Initial,
			IsFinal:    sd.Final,
		}
		if err := c.ValidateStatus(sc, uuid.Nil); err != nil {
			return nil, fmt.Errorf("status %d: %w", i+1, err)
		}

		s := newStatus(c.ID, sc, i)
		c.Statuses = append(c.Statuses, s)
		byTitle[strings.ToLower(s.Title)] = s.ID
	}

	for i, sd := range d.Steps {
		from, ok := byTitle[strings.ToLower(strings.TrimSpace(sd.From))]
		if !ok {
			return nil, fmt.Errorf("step %d: %w: unknown status %q", i+1, ErrInvalidImport, sd.From)
		}
		to, ok := byTitle[strings.ToLower(strings.TrimSpace(sd.To))]
		if !ok {
			return nil, fmt.Errorf("step %d: %w: unknown status %q", i+1, ErrInvalidImport, sd.To)
		}

		sc := StepCommand{
			CurrentStatusID:  from,
			NextStatusID:     to,
			RequiresApproval: sd.Rule != nil,
			Rule:             sd.Rule,
		}
		if err := c.ValidateStep(sc, uuid.Nil); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}

		s, err := newStep(c.ID, sc, i)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		c.Steps = append(c.Steps, s)
	}

	if d.Activate {
		if err := c.CanActivate(); err != nil {
			return nil, err
		}
		c.IsActive = true
	}

	return c, nil
}

func newStatus(circuitID uuid.UUID, cmd StatusCommand, fallback int) Status {
	position := fallback
	if cmd.Position != nil {
		position = *cmd.Position
	}
	return Status{
		ID:         uuid.New(),
		CircuitID:  circuitID,
		Title:      strings.TrimSpace(cmd.Title),
		IsRequired: cmd.IsRequired,
		IsInitial:  cmd.IsInitial,
		IsFinal:    cmd.IsFinal,
		Position:   position,
	}
}

func newStep(circuitID uuid.UUID, cmd StepCommand, fallback int) (Step, error) {
	position := fallback
	if cmd.Position != nil {
		position = *cmd.Position
	}

	rule, err := normalize(cmd.Rule)
	if err != nil {
		return Step{}, err
	}

	s := Step{
		ID:               uuid.New(),
		CircuitID:        circuitID,
		CurrentStatusID:  cmd.CurrentStatusID,
		NextStatusID:     cmd.NextStatusID,
		RequiresApproval: cmd.RequiresApproval,
		Rule:             rule,
		Position:         position,
	}
	if rule != nil {
		id := uuid.New()
		s.ApprovalRuleID = &id
	}
	return s, nil
}
