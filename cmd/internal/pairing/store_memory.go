package pairing

import (
	"context"
	"sync"
	"time"
)

const defaultMemoryCapacity = 4096

// MemoryStore keeps sessions in process memory, bounded by capacity.
// When full, expired sessions are dropped first, then the oldest session.
type MemoryStore struct {
	mu       sync.RWMutex
	byCode   map[string]Session
	capacity int
	now      func() time.Time
}

// NewMemoryStore returns a MemoryStore; capacity <= 0 selects the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{
		byCode:   make(map[string]Session),
		capacity: capacity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Create(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byCode[sess.Code]; exists {
		return ErrConflict
	}
	if len(m.byCode) >= m.capacity {
		m.evictLocked(sess.CreatedAt)
	}
	m.byCode[sess.Code] = sess
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, code string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.byCode[code]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteExpiredLocked(now), nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byCode)
}

func (m *MemoryStore) deleteExpiredLocked(now time.Time) int {
	n := 0
	for code, s := range m.byCode {
		if !s.ExpiresAt.After(now) {
			delete(m.byCode, code)
			n++
		}
	}
	return n
}

func (m *MemoryStore) evictLocked(now time.Time) {
	if now.IsZero() {
		now = m.now()
	}
	if m.deleteExpiredLocked(now) > 0 {
		return
	}
	var (
		oldestCode string
		oldestAt   time.Time
	)
	for code, s := range m.byCode {
		if oldestCode == "" || s.CreatedAt.Before(oldestAt) {
			oldestCode, oldestAt = code, s.CreatedAt
		}
	}
	delete(m.byCode, oldestCode)
}
