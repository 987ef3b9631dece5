package pairing

import (
	"context"
	"time"
)

// Store is the persistence boundary for pairing sessions.
type Store interface {
	// Create inserts sess; an existing code yields ErrConflict.
	Create(ctx context.Context, sess Session) error
	// Get returns ErrNotFound for unknown codes.
	Get(ctx context.Context, code string) (Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
