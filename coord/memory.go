package coord

import (
	"context"
	"sync"
	"time"
)

type memLease struct {
	owner   string
	expires time.Time
}

// MemoryLeaser is a single-process Leaser with the same semantics as Redis
type MemoryLeaser struct {
	mu     sync.Mutex
	leases map[string]memLease
	now    func() time.Time
}

// NewMemoryLeaser creates an in-memory leaser on the wall clock
func NewMemoryLeaser() *MemoryLeaser {
	return NewMemoryLeaserWithClock(time.Now)
}

// NewMemoryLeaserWithClock creates an in-memory leaser reading time from now
func NewMemoryLeaserWithClock(now func() time.Time) *MemoryLeaser {
	return &MemoryLeaser{
		leases: make(map[string]memLease),
		now:    now,
	}
}

func (m *MemoryLeaser) TryAcquire(_ context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	if err := validate(resource, owner, ttl); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.leases[resource]; ok && now.Before(l.expires) {
		return false, nil
	}
	m.leases[resource] = memLease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryLeaser) Release(_ context.Context, resource, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[resource]
	if !ok || l.owner != owner {
		return false, nil
	}
	delete(m.leases, resource)
	return m.now().Before(l.expires), nil
}

// Holder returns the live owner of resource, if any
func (m *MemoryLeaser) Holder(resource string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[resource]
	if !ok || !m.now().Before(l.expires) {
		return "", false
	}
	return l.owner, true
}
