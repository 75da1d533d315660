package approvals

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/pkg/query"
	"github.com/JaimeStill/docflow/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "approval_requests", "a").
	Project("id", "ID").
	Project("document_id", "DocumentID").
	Project("circuit_id", "CircuitID").
	Project("step_id", "StepID").
	Project("from_status_id", "FromStatusID").
	Project("to_status_id", "ToStatusID").
	Project("rule", "Rule").
	Project("responses", "Responses").
	Project("status", "Status").
	Project("auto_approved", "AutoApproved").
	Project("requested_by", "RequestedBy").
	Project("comment", "Comment").
	Project("created_at", "CreatedAt").
	Project("resolved_at", "ResolvedAt").
	Project("approver_ids", "ApproverIDs").
	Project("awaiting", "Awaiting")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for approval request queries.
// Approver matches requests naming the approver; Awaiting matches open
// requests the approver may answer now.
type Filters struct {
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	CircuitID  *uuid.UUID `json:"circuit_id,omitempty"`
	Status     *string    `json:"status,omitempty"`
	Approver   *string    `json:"approver,omitempty"`
	Awaiting   *string    `json:"awaiting,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("DocumentID", f.DocumentID).
		WhereEquals("CircuitID", f.CircuitID).
		WhereEquals("Status", f.Status).
		WhereJSONContains("ApproverIDs", f.Approver).
		WhereJSONContains("Awaiting", f.Awaiting)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if v := values.Get("document_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			f.DocumentID = &id
		}
	}
	if v := values.Get("circuit_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			f.CircuitID = &id
		}
	}
	if v := values.Get("status"); v != "" {
		f.Status = &v
	}
	if v := values.Get("approver"); v != "" {
		f.Approver = &v
	}
	if v := values.Get("awaiting"); v != "" {
		f.Awaiting = &v
	}

	return f
}

func scanRequest(s repository.Scanner) (Request, error) {
	var (
		r         Request
		rule      []byte
		responses []byte
		approvers []byte
		awaiting  []byte
	)

	err := s.Scan(
		&r.ID,
		&r.DocumentID,
		&r.CircuitID,
		&r.StepID,
		&r.FromStatusID,
		&r.ToStatusID,
		&rule,
		&responses,
		&r.Status,
		&r.AutoApproved,
		&r.RequestedBy,
		&r.Comment,
		&r.CreatedAt,
		&r.ResolvedAt,
		&approvers,
		&awaiting,
	)
	if err != nil {
		return r, err
	}

	if err := json.Unmarshal(rule, &r.Rule); err != nil {
		return r, fmt.Errorf("decode rule snapshot: %w", err)
	}
	if err := json.Unmarshal(responses, &r.Responses); err != nil {
		return r, fmt.Errorf("decode responses: %w", err)
	}
	if err := json.Unmarshal(awaiting, &r.Awaiting); err != nil {
		return r, fmt.Errorf("decode awaiting: %w", err)
	}
	if r.Responses == nil {
		r.Responses = []Response{}
	}

	return r, nil
}
