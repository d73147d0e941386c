package store

import (
	"context"
	"sync"

	"attestra/internal/asset/models"
	"attestra/pkg/platform/sentinel"
)

// InMemoryAssetStore stands in for the deal module's asset records.
type InMemoryAssetStore struct {
	mu     sync.RWMutex
	assets map[string]models.AssetBatch
}

func NewInMemoryAssetStore() *InMemoryAssetStore {
	return &InMemoryAssetStore{assets: make(map[string]models.AssetBatch)}
}

func (s *InMemoryAssetStore) Get(_ context.Context, assetID string) (*models.AssetBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[assetID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneAsset(asset), nil
}

// Put stores the batch. The Verified flag of an existing record is preserved:
// only SetVerified changes it.
func (s *InMemoryAssetStore) Put(_ context.Context, asset models.AssetBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.assets[asset.ID]; ok {
		asset.Verified = existing.Verified
	} else {
		asset.Verified = false
	}
	s.assets[asset.ID] = *cloneAsset(asset)
	return nil
}

func (s *InMemoryAssetStore) SetVerified(_ context.Context, assetID string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[assetID]
	if !ok {
		return sentinel.ErrNotFound
	}
	asset.Verified = verified
	s.assets[assetID] = asset
	return nil
}

func cloneAsset(a models.AssetBatch) *models.AssetBatch {
	out := a
	if a.Metal != nil {
		m := *a.Metal
		out.Metal = &m
	}
	if a.Property != nil {
		p := *a.Property
		out.Property = &p
	}
	return &out
}
