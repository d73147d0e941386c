package ports

import (
	"context"

	"attestra/internal/asset/models"
)

// Repository is the boundary to the deal/escrow module that owns asset batches.
// This core reads batches and annotates only the Verified flag.
type Repository interface {
	Get(ctx context.Context, assetID string) (*models.AssetBatch, error)
	Put(ctx context.Context, asset models.AssetBatch) error
	SetVerified(ctx context.Context, assetID string, verified bool) error
}
