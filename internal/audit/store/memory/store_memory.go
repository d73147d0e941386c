package memory

import (
	"context"
	"sync"
	"time"

	"attestra/internal/audit"
	tokenmodels "attestra/internal/tokenization/models"
	"attestra/pkg/platform/sentinel"

	"github.com/google/uuid"
)

// InMemoryStore implements audit.TrailStore with a single lock so token
// writes and their audit entries commit together.
type InMemoryStore struct {
	mu            sync.RWMutex
	entries       []audit.Entry
	bySubject     map[string][]int
	tokens        map[string]tokenmodels.TokenRecord
	activeByAsset map[string]string
	mappings      map[string]tokenmodels.TokenMapping
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		bySubject:     make(map[string][]int),
		tokens:        make(map[string]tokenmodels.TokenRecord),
		activeByAsset: make(map[string]string),
		mappings:      make(map[string]tokenmodels.TokenMapping),
	}
}

// Clear drops all state. Test helper.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.bySubject = make(map[string][]int)
	s.tokens = make(map[string]tokenmodels.TokenRecord)
	s.activeByAsset = make(map[string]string)
	s.mappings = make(map[string]tokenmodels.TokenMapping)
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(entry), nil
}

func (s *InMemoryStore) appendLocked(entry audit.Entry) string {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Payload = append([]byte(nil), entry.Payload...)
	entry.Labels = cloneLabels(entry.Labels)
	s.entries = append(s.entries, entry)
	s.bySubject[entry.SubjectID] = append(s.bySubject[entry.SubjectID], len(s.entries)-1)
	return entry.ID
}

func (s *InMemoryStore) Latest(_ context.Context, subjectID string, kind audit.Kind) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.bySubject[subjectID]
	for i := len(idx) - 1; i >= 0; i-- {
		e := s.entries[idx[i]]
		if kind == "" || e.Kind == kind {
			out := copyEntry(e)
			return &out, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Query(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []audit.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if !filter.Matches(e) {
			continue
		}
		result = append(result, copyEntry(e))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *InMemoryStore) CreateToken(_ context.Context, record tokenmodels.TokenRecord, entry audit.Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activeByAsset[record.AssetID]; exists {
		return "", sentinel.ErrConflict
	}
	if _, exists := s.tokens[record.TokenID]; exists {
		return "", sentinel.ErrConflict
	}
	s.tokens[record.TokenID] = record
	s.activeByAsset[record.AssetID] = record.TokenID
	s.mappings[record.TokenID] = tokenmodels.TokenMapping{
		TokenID:   record.TokenID,
		DealID:    record.DealID,
		AssetID:   record.AssetID,
		CreatedAt: record.MintedAt,
	}
	return s.appendLocked(entry), nil
}

func (s *InMemoryStore) FindToken(_ context.Context, tokenID string) (*tokenmodels.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.tokens[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &record, nil
}

func (s *InMemoryStore) FindActiveTokenByAsset(_ context.Context, assetID string) (*tokenmodels.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokenID, ok := s.activeByAsset[assetID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	record := s.tokens[tokenID]
	return &record, nil
}

func (s *InMemoryStore) FindMapping(_ context.Context, tokenID string) (*tokenmodels.TokenMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mapping, ok := s.mappings[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &mapping, nil
}

func (s *InMemoryStore) RevokeToken(_ context.Context, tokenID, reason, revokedBy string, revokedAt time.Time, entry audit.Entry) (*tokenmodels.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if record.Revoked {
		return &record, sentinel.ErrInvalidState
	}
	record.Revoked = true
	record.RevocationReason = reason
	record.RevokedBy = revokedBy
	record.RevokedAt = &revokedAt
	s.tokens[tokenID] = record
	if s.activeByAsset[record.AssetID] == tokenID {
		delete(s.activeByAsset, record.AssetID)
	}
	s.appendLocked(entry)
	return &record, nil
}

func copyEntry(e audit.Entry) audit.Entry {
	e.Payload = append([]byte(nil), e.Payload...)
	e.Labels = cloneLabels(e.Labels)
	return e
}

func cloneLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
