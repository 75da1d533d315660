package documents

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/pkg/pagination"
)

// System defines the public contract for document registry operations.
// Workflow fields are written by the workflow engine through Update.
type System interface {
	Handler(maxBodySize int64) *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Document], error)

	Find(ctx context.Context, id uuid.UUID) (*Document, error)
	Create(ctx context.Context, cmd CreateCommand) (*Document, error)
	CreateBatch(ctx context.Context, cmds []CreateCommand) []BatchResult
	Delete(ctx context.Context, id uuid.UUID) error
}
