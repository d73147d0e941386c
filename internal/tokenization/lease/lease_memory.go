// Package lease provides the per-asset exclusive leases that serialize mints.
package lease

import (
	"context"
	"sync"

	"attestra/internal/tokenization/ports"
)

// InMemoryLease is a process-local lease table. It never blocks: a held key
// fails fast with ports.ErrLeaseHeld.
type InMemoryLease struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewInMemoryLease() *InMemoryLease {
	return &InMemoryLease{held: make(map[string]struct{})}
}

func (l *InMemoryLease) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ports.ErrLeaseHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
