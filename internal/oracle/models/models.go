package models

import (
	"encoding/json"
	"time"
)

// Params are the request parameters sent to the oracle job.
type Params map[string]string

// Standard parameter keys.
const (
	ParamAssetID   = "assetId"
	ParamAssetType = "assetType"
)

// EndpointResponse is the envelope every oracle gateway call returns.
type EndpointResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Response is an attestation about one asset as reported by the oracle
// network. Nothing in it is trusted until validated.
type Response struct {
	AssetID          string          `json:"assetId"`
	AssetType        string          `json:"assetType"`
	Attributes       json.RawMessage `json:"attributes"`
	IssuingAuthority string          `json:"issuingAuthority"`
	CertificateRef   string          `json:"certificateRef"`
	CertificateHash  string          `json:"certificateHash,omitempty"`
	DocumentHash     string          `json:"documentHash,omitempty"`
	Signature        string          `json:"signature,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Event is one ledger-emitted event delivered to subscribers.
type Event struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Target      string          `json:"target"`
	BlockNumber uint64          `json:"blockNumber"`
	Payload     json.RawMessage `json:"payload"`
	EmittedAt   time.Time       `json:"emittedAt"`
}
