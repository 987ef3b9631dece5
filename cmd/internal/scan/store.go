package scan

import "context"

// Store persists jobs and the last-scan pointer.
type Store interface {
	Create(ctx context.Context, job Job) error
	Update(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)

	SetLastScan(ctx context.Context, ls LastScan) error
	// LastScan returns ok=false when no scan has produced an artifact yet.
	LastScan(ctx context.Context) (ls LastScan, ok bool, err error)
}
