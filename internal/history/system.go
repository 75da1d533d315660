package history

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// System defines the read and archive operations over the history log.
// Entries are written only through RecordTransition and RecordApprovalEvent
// inside the workflow engine's transactions.
type System interface {
	Handler() *Handler

	List(ctx context.Context, documentID uuid.UUID) ([]Entry, error)
	Archive(ctx context.Context, documentID uuid.UUID) (*Archive, error)
	Download(ctx context.Context, documentID uuid.UUID) (io.ReadCloser, error)
}
