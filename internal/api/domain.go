package api

import (
	"github.com/JaimeStill/docflow/internal/approvals"
	"github.com/JaimeStill/docflow/internal/circuits"
	"github.com/JaimeStill/docflow/internal/directory"
	"github.com/JaimeStill/docflow/internal/documents"
	"github.com/JaimeStill/docflow/internal/history"
	"github.com/JaimeStill/docflow/internal/workflow"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Approvals approvals.System
	Circuits  circuits.System
	Documents documents.System
	History   history.System
	Workflow  workflow.System
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(runtime *Runtime) *Domain {
	db := runtime.Database.Connection()

	historySystem := history.New(db, runtime.Storage, runtime.Logger)

	workflowSystem := workflow.New(&workflow.Runtime{
		Store:     workflow.NewStore(db),
		Directory: directory.New(&runtime.Directory, runtime.Logger),
		Archiver:  historySystem,
		Metrics:   workflow.NewMetrics(runtime.Metrics),
		Logger:    runtime.Logger,
	})

	return &Domain{
		Approvals: approvals.New(db, runtime.Logger, runtime.Pagination),
		Circuits:  circuits.New(db, runtime.Logger, runtime.Pagination),
		Documents: documents.New(db, runtime.Storage, runtime.Logger, runtime.Pagination),
		History:   historySystem,
		Workflow:  workflowSystem,
	}
}
