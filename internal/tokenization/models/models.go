package models

import "time"

// TokenRecord is the off-ledger record of one minted asset token.
// Revocation is a one-way transition: once Revoked is true the reason,
// actor and time never change.
type TokenRecord struct {
	TokenID          string     `json:"token_id"`
	AssetID          string     `json:"asset_id"`
	DealID           string     `json:"deal_id"`
	MetadataRef      string     `json:"metadata_ref"`
	ProvenanceHash   string     `json:"provenance_hash"`
	TxHash           string     `json:"tx_hash,omitempty"`
	MintedAt         time.Time  `json:"minted_at"`
	Revoked          bool       `json:"revoked"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	RevokedBy        string     `json:"revoked_by,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the token still represents its asset.
func (r TokenRecord) Active() bool { return !r.Revoked }

// TokenMapping is the reverse index from a ledger token to the deal and asset
// it was minted for.
type TokenMapping struct {
	TokenID   string    `json:"token_id"`
	DealID    string    `json:"deal_id"`
	AssetID   string    `json:"asset_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Metadata is the content-addressed document describing a token.
type Metadata struct {
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Attributes     []MetadataTrait   `json:"attributes"`
	Certificate    string            `json:"certificate"`
	ProvenanceHash string            `json:"provenance_hash"`
	DealID         string            `json:"deal_id"`
	Properties     map[string]string `json:"properties,omitempty"`
}

// MetadataTrait follows the common token-metadata trait layout.
type MetadataTrait struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}
