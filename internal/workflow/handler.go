package workflow

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"

	"github.com/JaimeStill/docflow/internal/approvals"
	"github.com/JaimeStill/docflow/pkg/auth"
	"github.com/JaimeStill/docflow/pkg/handlers"
	"github.com/JaimeStill/docflow/pkg/routes"
)

// Handler provides HTTP endpoints for workflow engine operations.
type Handler struct {
	sys         System
	logger      *slog.Logger
	maxBodySize int64
}

// AssignRequest is the body of the circuit assignment endpoint.
type AssignRequest struct {
	CircuitID uuid.UUID `json:"circuit_id"`
	Comment   string    `json:"comment"`
}

// MoveRequest is the body of the move endpoint.
type MoveRequest struct {
	TargetStatusID uuid.UUID `json:"target_status_id"`
	Comment        string    `json:"comment"`
}

// CommentRequest is the body of endpoints that take only a comment.
type CommentRequest struct {
	Comment string `json:"comment"`
}

// ResponseRequest is the body of the approval response endpoint. The
// responding approver is the request's actor.
type ResponseRequest struct {
	Decision approvals.Decision `json:"decision"`
	Comment  string             `json:"comment"`
}

// NewHandler creates a Handler with the given system, logger, and body size limit.
func NewHandler(sys System, logger *slog.Logger, maxBodySize int64) *Handler {
	return &Handler{
		sys:         sys,
		logger:      logger.With("handler", "workflow"),
		maxBodySize: maxBodySize,
	}
}

// Routes returns the route groups for document transitions and approval
// responses.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Children: []routes.Group{
			{
				Prefix: "/documents/{id}",
				Routes: []routes.Route{
					{Method: "POST", Pattern: "/circuit", Handler: h.AssignCircuit},
					{Method: "GET", Pattern: "/transitions", Handler: h.AvailableTransitions},
					{Method: "POST", Pattern: "/move", Handler: h.MoveToStatus},
					{Method: "POST", Pattern: "/next", Handler: h.MoveToNextStep},
					{Method: "POST", Pattern: "/return", Handler: h.ReturnToPreviousStep},
					{Method: "GET", Pattern: "/workflow", Handler: h.Status},
				},
			},
			{
				Prefix: "/approvals/{id}",
				Routes: []routes.Route{
					{Method: "POST", Pattern: "/responses", Handler: h.SubmitResponse},
					{Method: "POST", Pattern: "/withdraw", Handler: h.WithdrawApproval},
				},
			},
		},
	}
}

// AssignCircuit places an idle document at the initial status of a circuit.
func (h *Handler) AssignCircuit(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}

	body, err := handlers.DecodeJSON[AssignRequest](r, h.maxBodySize)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	d, err := h.sys.AssignCircuit(r.Context(), id, body.CircuitID, actor, body.Comment)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, d)
}

// AvailableTransitions lists the steps leaving the document's current status.
func (h *Handler) AvailableTransitions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	seq, err := h.sys.AvailableTransitions(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	out := slices.Collect(seq)
	if out == nil {
		out = []Transition{}
	}
	handlers.RespondJSON(w, http.StatusOK, out)
}

// MoveToStatus moves the document to the given status along its step.
func (h *Handler) MoveToStatus(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}

	body, err := handlers.DecodeJSON[MoveRequest](r, h.maxBodySize)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.MoveToStatus(r.Context(), id, body.TargetStatusID, body.Comment, actor)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// MoveToNextStep follows the single step leaving the current status.
func (h *Handler) MoveToNextStep(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}

	body, err := handlers.DecodeJSON[CommentRequest](r, h.maxBodySize)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.MoveToNextStep(r.Context(), id, body.Comment, actor)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// ReturnToPreviousStep undoes the most recent completed transition.
func (h *Handler) ReturnToPreviousStep(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}

	body, err := handlers.DecodeJSON[CommentRequest](r, h.maxBodySize)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	d, err := h.sys.ReturnToPreviousStep(r.Context(), id, body.Comment, actor)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, d)
}

// Status returns the document's complete workflow position.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	s, err := h.sys.Status(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, s)
}

// SubmitResponse records the actor's decision on an approval request.
func (h *Handler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}

	body, err := handlers.DecodeJSON[ResponseRequest](r, h.maxBodySize)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.SubmitResponse(r.Context(), id, actor, body.Decision, body.Comment)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// WithdrawApproval cancels an open approval request.
func (h *Handler) WithdrawApproval(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}

	body, err := handlers.DecodeJSON[CommentRequest](r, h.maxBodySize)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	req, err := h.sys.WithdrawApproval(r.Context(), id, actor, body.Comment)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, req)
}

// target resolves the path id and the acting identity of a write.
func (h *Handler) target(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	id, ok := h.pathID(w, r)
	if !ok {
		return uuid.Nil, "", false
	}

	actor, err := auth.RequireActor(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, err)
		return uuid.Nil, "", false
	}
	return id, actor, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("invalid id: %w", err))
		return uuid.Nil, false
	}
	return id, true
}
