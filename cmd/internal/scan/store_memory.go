package scan

import (
	"context"
	"sync"
)

const defaultMemoryJobs = 200

// MemoryStore keeps the newest jobs in process memory. When full, the oldest
// finished job is evicted; if every job is still active, the oldest job is.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]Job
	order    []string
	capacity int
	last     *LastScan
}

// NewMemoryStore returns a MemoryStore; capacity <= 0 selects the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryJobs
	}
	return &MemoryStore{jobs: make(map[string]Job), capacity: capacity}
}

func (m *MemoryStore) Create(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		m.jobs[job.ID] = job
		return nil
	}
	for len(m.order) >= m.capacity {
		m.evictLocked()
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (m *MemoryStore) SetLastScan(ctx context.Context, ls LastScan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.last = &ls
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LastScan(ctx context.Context) (LastScan, bool, error) {
	if err := ctx.Err(); err != nil {
		return LastScan{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return LastScan{}, false, nil
	}
	return *m.last, true, nil
}

// Len returns the number of retained jobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

func (m *MemoryStore) evictLocked() {
	victim := 0
	for i, id := range m.order {
		if m.jobs[id].Status.Terminal() {
			victim = i
			break
		}
	}
	delete(m.jobs, m.order[victim])
	m.order = append(m.order[:victim], m.order[victim+1:]...)
}
