package history

import (
	"github.com/JaimeStill/docflow/pkg/query"
	"github.com/JaimeStill/docflow/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "history_entries", "h").
	Project("id", "ID").
	Project("seq", "Seq").
	Project("document_id", "DocumentID").
	Project("circuit_id", "CircuitID").
	Project("from_status_id", "FromStatusID").
	Project("to_status_id", "ToStatusID").
	Project("step_id", "StepID").
	Project("approval_request_id", "ApprovalRequestID").
	Project("reverts_entry_id", "RevertsEntryID").
	Project("actor_id", "ActorID").
	Project("comment", "Comment").
	Project("outcome", "Outcome").
	Project("created_at", "Timestamp")

var chronological = query.SortField{
	Field: "Seq",
}

func scanEntry(s repository.Scanner) (Entry, error) {
	var e Entry
	err := s.Scan(
		&e.ID,
		&e.Seq,
		&e.DocumentID,
		&e.CircuitID,
		&e.FromStatusID,
		&e.ToStatusID,
		&e.StepID,
		&e.ApprovalRequestID,
		&e.RevertsEntryID,
		&e.ActorID,
		&e.Comment,
		&e.Outcome,
		&e.Timestamp,
	)
	return e, err
}
