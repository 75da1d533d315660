package circuits

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/JaimeStill/docflow/internal/approvals"
	"github.com/JaimeStill/docflow/pkg/query"
	"github.com/JaimeStill/docflow/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "circuits", "c").
	Project("id", "ID").
	Project("title", "Title").
	Project("description", "Description").
	Project("is_active", "IsActive").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{
	Field: "Title",
}

var statusProjection = query.
	NewProjectionMap("public", "circuit_statuses", "s").
	Project("id", "ID").
	Project("circuit_id", "CircuitID").
	Project("title", "Title").
	Project("is_required", "IsRequired").
	Project("is_initial", "IsInitial").
	Project("is_final", "IsFinal").
	Project("position", "Position")

var stepProjection = query.
	NewProjectionMap("public", "circuit_steps", "st").
	Project("id", "ID").
	Project("circuit_id", "CircuitID").
	Project("current_status_id", "CurrentStatusID").
	Project("next_status_id", "NextStatusID").
	Project("requires_approval", "RequiresApproval").
	Project("approval_rule_id", "ApprovalRuleID").
	Project("position", "Position").
	Join("public", "approval_rules", "r", "LEFT JOIN", "st.approval_rule_id = r.id").
	Project("kind", "RuleKind").
	Project("rule_type", "RuleType").
	Project("approver_ids", "RuleApprovers")

var positionSort = []query.SortField{
	{Field: "Position"},
	{Field: "ID"},
}

// Filters contains optional filtering criteria for circuit queries.
type Filters struct {
	Title    *string `json:"title,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereContains("Title", f.Title).
		WhereEquals("IsActive", f.IsActive)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if t := values.Get("title"); t != "" {
		f.Title = &t
	}

	if a := values.Get("is_active"); a != "" {
		if v, err := strconv.ParseBool(a); err == nil {
			f.IsActive = &v
		}
	}

	return f
}

func scanCircuit(s repository.Scanner) (Circuit, error) {
	var c Circuit
	err := s.Scan(
		&c.ID,
		&c.Title,
		&c.Description,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func scanStatus(s repository.Scanner) (Status, error) {
	var st Status
	err := s.Scan(
		&st.ID,
		&st.CircuitID,
		&st.Title,
		&st.IsRequired,
		&st.IsInitial,
		&st.IsFinal,
		&st.Position,
	)
	return st, err
}

func scanStep(s repository.Scanner) (Step, error) {
	var (
		st        Step
		kind      sql.NullString
		ruleType  sql.NullString
		approvers []byte
	)

	err := s.Scan(
		&st.ID,
		&st.CircuitID,
		&st.CurrentStatusID,
		&st.NextStatusID,
		&st.RequiresApproval,
		&st.ApprovalRuleID,
		&st.Position,
		&kind,
		&ruleType,
		&approvers,
	)
	if err != nil {
		return st, err
	}

	if kind.Valid {
		spec := approvals.Spec{
			Kind: approvals.Kind(kind.String),
			Type: approvals.RuleType(ruleType.String),
		}
		if err := json.Unmarshal(approvers, &spec.Approvers); err != nil {
			return st, fmt.Errorf("decode approval rule %s: %w", st.ApprovalRuleID, err)
		}
		st.Rule = &spec
	}

	return st, nil
}
