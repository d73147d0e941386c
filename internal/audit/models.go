package audit

import (
	"encoding/json"
	"time"
)

// Kind classifies an audit entry.
type Kind string

const (
	KindVerification Kind = "verification"
	KindMint         Kind = "mint"
	KindRevoke       Kind = "revoke"
)

// Labels used by the verification flow.
const (
	// LabelOracleSource marks verification entries whose payload carries a raw
	// oracle response fetched live, usable as last-known-good data.
	LabelOracleSource = "oracle_source"
	OracleSourceLive  = "live"
	OracleSourceCache = "cache"
)

// Entry is one append-only audit row. It is never updated or deleted.
// SubjectID is the asset id for verification entries and the token id for
// mint and revoke entries; AssetID, DealID and TokenID are denormalized for
// querying.
type Entry struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	SubjectID string            `json:"subject_id"`
	AssetID   string            `json:"asset_id,omitempty"`
	DealID    string            `json:"deal_id,omitempty"`
	TokenID   string            `json:"token_id,omitempty"`
	Actor     string            `json:"actor"`
	RequestID string            `json:"request_id,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Payload   json.RawMessage   `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
}

// Filter selects entries; zero fields are ignored. Results are newest first.
type Filter struct {
	Kind      Kind
	SubjectID string
	AssetID   string
	DealID    string
	TokenID   string
	Actor     string
	Labels    map[string]string
	Since     time.Time
	Limit     int
}

// Matches reports whether e satisfies every set field of f.
func (f Filter) Matches(e Entry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.AssetID != "" && e.AssetID != f.AssetID {
		return false
	}
	if f.DealID != "" && e.DealID != f.DealID {
		return false
	}
	if f.TokenID != "" && e.TokenID != f.TokenID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	for k, v := range f.Labels {
		if e.Labels[k] != v {
			return false
		}
	}
	return true
}

// NewEntry builds an entry with the payload marshalled to JSON.
func NewEntry(kind Kind, subjectID, actor string, payload any) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Kind:      kind,
		SubjectID: subjectID,
		Actor:     actor,
		Payload:   raw,
	}, nil
}

// DecodePayload unmarshals the entry payload into v.
func (e Entry) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}
