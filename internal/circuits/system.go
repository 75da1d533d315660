package circuits

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/pkg/pagination"
)

// System defines the public contract for circuit registry operations.
// Structural edits fail with ErrCircuitActive while the circuit is active.
type System interface {
	Handler(maxBodySize int64) *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Circuit], error)

	Find(ctx context.Context, id uuid.UUID) (*Circuit, error)
	Create(ctx context.Context, cmd CreateCommand) (*Circuit, error)
	Update(ctx context.Context, id uuid.UUID, cmd UpdateCommand) (*Circuit, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Import(ctx context.Context, def Definition) (*Circuit, error)

	AddStatus(ctx context.Context, circuitID uuid.UUID, cmd StatusCommand) (*Status, error)
	UpdateStatus(ctx context.Context, circuitID, statusID uuid.UUID, cmd StatusCommand) (*Status, error)
	RemoveStatus(ctx context.Context, circuitID, statusID uuid.UUID) error

	CreateStep(ctx context.Context, circuitID uuid.UUID, cmd StepCommand) (*Step, error)
	UpdateStep(ctx context.Context, circuitID, stepID uuid.UUID, cmd StepCommand) (*Step, error)
	DeleteStep(ctx context.Context, circuitID, stepID uuid.UUID) error

	Activate(ctx context.Context, id uuid.UUID) (*Circuit, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*Circuit, error)
}
