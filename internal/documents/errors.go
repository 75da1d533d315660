package documents

import (
	"errors"
	"net/http"
)

// Domain errors for document operations.
var (
	ErrNotFound        = errors.New("document not found")
	ErrDuplicate       = errors.New("document already registered")
	ErrInvalidDocument = errors.New("invalid document")
	ErrVersionConflict = errors.New("document was modified concurrently")
	ErrInUse           = errors.New("document has workflow history")
)

// MapHTTPStatus maps document domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrInUse) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidDocument) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
