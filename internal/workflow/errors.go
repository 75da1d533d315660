package workflow

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/docflow/internal/approvals"
	"github.com/JaimeStill/docflow/internal/circuits"
	"github.com/JaimeStill/docflow/internal/documents"
)

// Engine errors. Errors from the approvals, circuits, and documents packages
// pass through unchanged.
var (
	ErrInvalidRequest       = errors.New("invalid workflow request")
	ErrNotAssigned          = errors.New("document is not assigned to a circuit")
	ErrAlreadyAssigned      = errors.New("document is already assigned to a circuit")
	ErrNoSuchTransition     = errors.New("no step leads from the current status to the target")
	ErrAmbiguousTransition  = errors.New("more than one step leaves the current status")
	ErrNoHistory            = errors.New("no completed transition to return from")
	ErrFinalStatus          = errors.New("document is at a final status")
	ErrTransitionInProgress = errors.New("another transition is in progress for this document")
	ErrNotAuthorized        = errors.New("actor may not withdraw this approval request")
	ErrInconsistentState    = errors.New("document and approval request disagree")
)

// MapHTTPStatus maps engine errors, and the domain errors they wrap, to HTTP
// status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotAssigned),
		errors.Is(err, ErrAlreadyAssigned),
		errors.Is(err, ErrNoSuchTransition),
		errors.Is(err, ErrAmbiguousTransition),
		errors.Is(err, ErrNoHistory),
		errors.Is(err, ErrFinalStatus),
		errors.Is(err, ErrTransitionInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrInconsistentState):
		return http.StatusInternalServerError
	}

	for _, mapStatus := range []func(error) int{
		approvals.MapHTTPStatus,
		circuits.MapHTTPStatus,
		documents.MapHTTPStatus,
	} {
		if status := mapStatus(err); status != http.StatusInternalServerError {
			return status
		}
	}
	return http.StatusInternalServerError
}
