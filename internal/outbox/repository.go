package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the durable outbox. Producers only Insert; the reconciler is
// the only caller of Advance.
type Repository interface {
	Insert(ctx context.Context, msgs ...Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)

	// Advance moves a message to `to` only if its current status allows the
	// move. When it does not, the current row is returned with changed=false.
	Advance(ctx context.Context, id uuid.UUID, to Status, errMsg *string, at time.Time) (msg *Message, changed bool, err error)
}
