package documents

import (
	"net/url"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/pkg/query"
	"github.com/JaimeStill/docflow/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "documents", "d").
	Project("id", "ID").
	Project("external_id", "ExternalID").
	Project("external_platform", "ExternalPlatform").
	Project("title", "Title").
	Project("circuit_id", "CircuitID").
	Project("current_status_id", "CurrentStatusID").
	Project("pending_approval_id", "PendingApprovalID").
	Project("version", "Version").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt").
	Join("public", "circuits", "c", "LEFT JOIN", "d.circuit_id = c.id").
	Project("title", "CircuitTitle").
	Join("public", "circuit_statuses", "s", "LEFT JOIN", "d.current_status_id = s.id").
	Project("title", "StatusTitle")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for document queries.
// Nil fields are ignored. Title uses case-insensitive contains matching;
// the rest match exactly.
type Filters struct {
	ExternalID       *string    `json:"external_id,omitempty"`
	ExternalPlatform *string    `json:"external_platform,omitempty"`
	Title            *string    `json:"title,omitempty"`
	CircuitID        *uuid.UUID `json:"circuit_id,omitempty"`
	CurrentStatusID  *uuid.UUID `json:"current_status_id,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("ExternalID", f.ExternalID).
		WhereEquals("ExternalPlatform", f.ExternalPlatform).
		WhereContains("Title", f.Title).
		WhereEquals("CircuitID", f.CircuitID).
		WhereEquals("CurrentStatusID", f.CurrentStatusID)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if eid := values.Get("external_id"); eid != "" {
		f.ExternalID = &eid
	}

	if ep := values.Get("external_platform"); ep != "" {
		f.ExternalPlatform = &ep
	}

	if t := values.Get("title"); t != "" {
		f.Title = &t
	}

	if cid := values.Get("circuit_id"); cid != "" {
		if v, err := uuid.Parse(cid); err == nil {
			f.CircuitID = &v
		}
	}

	if sid := values.Get("current_status_id"); sid != "" {
		if v, err := uuid.Parse(sid); err == nil {
			f.CurrentStatusID = &v
		}
	}

	return f
}

func scanDocument(s repository.Scanner) (Document, error) {
	var d Document
	err := s.Scan(
		&d.ID,
		&d.ExternalID,
		&d.ExternalPlatform,
		&d.Title,
		&d.CircuitID,
		&d.CurrentStatusID,
		&d.PendingApprovalID,
		&d.Version,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.CircuitTitle,
		&d.StatusTitle,
	)
	return d, err
}
