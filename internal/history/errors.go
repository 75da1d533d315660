package history

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/docflow/internal/documents"
	"github.com/JaimeStill/docflow/pkg/storage"
)

// Domain errors for history operations.
var (
	ErrInvalidEntry    = errors.New("invalid history entry")
	ErrArchiveNotFound = errors.New("history archive not found")
)

// MapHTTPStatus maps history errors to HTTP status codes. Archive failures
// fall through to the storage mapping.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrArchiveNotFound),
		errors.Is(err, documents.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidEntry):
		return http.StatusBadRequest
	default:
		return storage.MapHTTPStatus(err)
	}
}
