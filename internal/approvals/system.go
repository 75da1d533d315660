package approvals

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/pkg/pagination"
)

// System defines the read contract for approval requests. Requests are
// written by the workflow engine through Insert and Update.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Request], error)

	Find(ctx context.Context, id uuid.UUID) (*Request, error)
}
