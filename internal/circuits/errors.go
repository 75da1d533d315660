package circuits

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/docflow/internal/approvals"
)

// Domain errors for circuit operations.
var (
	ErrNotFound         = errors.New("circuit not found")
	ErrStatusNotFound   = errors.New("status not found")
	ErrStepNotFound     = errors.New("step not found")
	ErrDuplicate        = errors.New("circuit title already exists")
	ErrDuplicateStatus  = errors.New("status title already exists in circuit")
	ErrDuplicateStep    = errors.New("step already exists between these statuses")
	ErrDuplicateInitial = errors.New("circuit already has an initial status")
	ErrCircuitActive    = errors.New("circuit is active")
	ErrCircuitInactive  = errors.New("circuit is not active")
	ErrNoSteps          = errors.New("circuit has no steps")
	ErrNoInitialStatus  = errors.New("circuit has no initial status")
	ErrInUse            = errors.New("circuit element is in use")
	ErrInvalidCircuit   = errors.New("invalid circuit")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidStep      = errors.New("invalid step")
	ErrInvalidImport    = errors.New("invalid circuit definition")
)

// MapHTTPStatus maps circuit domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStatusNotFound),
		errors.Is(err, ErrStepNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidCircuit),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidStep),
		errors.Is(err, ErrInvalidImport),
		errors.Is(err, approvals.ErrInvalidRule):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrDuplicateStatus),
		errors.Is(err, ErrDuplicateStep),
		errors.Is(err, ErrDuplicateInitial),
		errors.Is(err, ErrCircuitActive),
		errors.Is(err, ErrCircuitInactive),
		errors.Is(err, ErrNoSteps),
		errors.Is(err, ErrNoInitialStatus),
		errors.Is(err, ErrInUse):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
