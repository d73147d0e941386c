package audit

import (
	"context"
	"time"

	tokenmodels "attestra/internal/tokenization/models"
)

// Store is the append-only audit log. Append must not lose entries under
// concurrent writers. Latest returns sentinel.ErrNotFound when the subject has
// no entry of that kind.
type Store interface {
	Append(ctx context.Context, entry Entry) (string, error)
	Latest(ctx context.Context, subjectID string, kind Kind) (*Entry, error)
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// TokenStore persists token records together with their audit entries so a
// record never exists without its mint entry, and a revocation never without
// its revoke entry.
//
// CreateToken returns sentinel.ErrConflict when the asset already has an
// active token. RevokeToken is an atomic check-and-set: it returns
// sentinel.ErrNotFound for unknown tokens and sentinel.ErrInvalidState when
// the token is already revoked.
type TokenStore interface {
	CreateToken(ctx context.Context, record tokenmodels.TokenRecord, entry Entry) (string, error)
	FindToken(ctx context.Context, tokenID string) (*tokenmodels.TokenRecord, error)
	FindActiveTokenByAsset(ctx context.Context, assetID string) (*tokenmodels.TokenRecord, error)
	FindMapping(ctx context.Context, tokenID string) (*tokenmodels.TokenMapping, error)
	RevokeToken(ctx context.Context, tokenID, reason, revokedBy string, revokedAt time.Time, entry Entry) (*tokenmodels.TokenRecord, error)
}

// TrailStore is the full audit trail: entries plus token records.
type TrailStore interface {
	Store
	TokenStore
}
