package metadata

import (
	"context"
	"sync"

	"attestra/pkg/platform/sentinel"
)

// InMemoryStore keeps documents in process memory keyed by content id.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[string][]byte)}
}

func (s *InMemoryStore) Put(_ context.Context, doc []byte) (string, error) {
	c, err := ContentID(doc)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[c.KeyString()]; !ok {
		s.docs[c.KeyString()] = append([]byte(nil), doc...)
	}
	return RefScheme + c.String(), nil
}

func (s *InMemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	c, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[c.KeyString()]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}
