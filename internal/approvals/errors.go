package approvals

import (
	"errors"
	"net/http"
)

// Domain errors for approval operations.
var (
	ErrNotFound          = errors.New("approval request not found")
	ErrInvalidRule       = errors.New("invalid approval rule")
	ErrInvalidDecision   = errors.New("decision must be approve or reject")
	ErrNotAnApprover     = errors.New("not an approver on this request")
	ErrAlreadyResponded  = errors.New("approver already responded")
	ErrRequestClosed     = errors.New("approval request is closed")
	ErrNotYourTurn       = errors.New("another approver must respond first")
	ErrOpenRequestExists = errors.New("document already has an open approval request")
)

// MapHTTPStatus maps approval domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRule), errors.Is(err, ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAnApprover):
		return http.StatusForbidden
	case errors.Is(err, ErrAlreadyResponded),
		errors.Is(err, ErrRequestClosed),
		errors.Is(err, ErrNotYourTurn),
		errors.Is(err, ErrOpenRequestExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
