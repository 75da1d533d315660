// Package documents implements the document store the workflow engine
// drives. A document is registered against an external record and carries
// its circuit assignment, current status, and pending approval marker.
package documents

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the workflow position of a document.
type State string

const (
	// Idle documents have no circuit and are inert.
	Idle State = "idle"
	// Active documents sit at a status and accept transitions.
	Active State = "active"
	// PendingApproval documents wait on an open approval request.
	PendingApproval State = "pending_approval"
)

// Document represents a registered document and its workflow position.
// Version increments on every workflow write.
type Document struct {
	ID                uuid.UUID  `json:"id"`
	ExternalID        string     `json:"external_id"`
	ExternalPlatform  string     `json:"external_platform"`
	Title             string     `json:"title"`
	CircuitID         *uuid.UUID `json:"circuit_id"`
	CurrentStatusID   *uuid.UUID `json:"current_status_id"`
	PendingApprovalID *uuid.UUID `json:"pending_approval_id"`
	Version           int        `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CircuitTitle      *string    `json:"circuit_title,omitempty"`
	StatusTitle       *string    `json:"status_title,omitempty"`
}

// State derives the workflow position from the document's markers.
func (d *Document) State() State {
	switch {
	case d.CircuitID == nil || d.CurrentStatusID == nil:
		return Idle
	case d.PendingApprovalID != nil:
		return PendingApproval
	default:
		return Active
	}
}

// Removable reports whether the document may be deleted. Once assigned to a
// circuit a document owns history and approval records, which outlive it.
func (d *Document) Removable() error {
	if d.CircuitID != nil {
		return fmt.Errorf("%w: %s is assigned to circuit %s", ErrInUse, d.ID, *d.CircuitID)
	}
	return nil
}

// CreateCommand carries the data needed to register a document.
type CreateCommand struct {
	ExternalID       string `json:"external_id"`
	ExternalPlatform string `json:"external_platform"`
	Title            string `json:"title"`
}

func (c *CreateCommand) normalize() error {
	c.ExternalID = strings.TrimSpace(c.ExternalID)
	c.ExternalPlatform = strings.TrimSpace(c.ExternalPlatform)
	c.Title = strings.TrimSpace(c.Title)

	if c.ExternalID == "" {
		return fmt.Errorf("%w: external_id is required", ErrInvalidDocument)
	}
	if c.ExternalPlatform == "" {
		return fmt.Errorf("%w: external_platform is required", ErrInvalidDocument)
	}
	if c.Title == "" {
		c.Title = c.ExternalPlatform + "/" + c.ExternalID
	}
	return nil
}

// BatchResult reports the outcome of a single registration within a batch.
// On success, Document is populated and Error is empty.
// On failure, Error describes the problem and Document is nil.
type BatchResult struct {
	Document   *Document `json:"document,omitempty"`
	ExternalID string    `json:"external_id"`
	Error      string    `json:"error,omitempty"`
}

// ArchiveKey is the blob key holding a document's archived history.
func ArchiveKey(id uuid.UUID) string {
	return id.String() + ".json"
}
