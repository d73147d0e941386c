package models

import (
	"errors"
	"time"

	assetmodels "attestra/internal/asset/models"
	"attestra/internal/oracle"
	oraclemodels "attestra/internal/oracle/models"

	"github.com/shopspring/decimal"
)

// ReasonCode names the first condition a failed verification did not meet.
type ReasonCode string

const (
	ReasonOracleUnavailable  ReasonCode = "oracle-unavailable"
	ReasonSchemaInvalid      ReasonCode = "schema-invalid"
	ReasonThresholdNotMet    ReasonCode = "threshold-not-met"
	ReasonCertificateInvalid ReasonCode = "certificate-invalid"
	ReasonSignatureInvalid   ReasonCode = "signature-invalid"
)

var (
	ErrSchemaValidation   = errors.New("oracle response failed schema validation")
	ErrThresholdNotMet    = errors.New("purity threshold not met")
	ErrCertificateInvalid = errors.New("certificate reference invalid")
	ErrSignatureInvalid   = errors.New("document signature invalid")
)

// Result is the outcome of one verification attempt. It is never mutated
// after it is recorded. Reason and ReasonCode are set iff Verified is false.
type Result struct {
	AssetID        string                 `json:"asset_id"`
	AssetType      assetmodels.AssetType  `json:"asset_type"`
	Verified       bool                   `json:"verified"`
	ReasonCode     ReasonCode             `json:"reason_code,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	ThresholdUsed  *decimal.Decimal       `json:"threshold_used,omitempty"`
	MeetsThreshold bool                   `json:"meets_threshold"`
	ValuationBand  string                 `json:"valuation_band,omitempty"`
	RawResponse    *oraclemodels.Response `json:"raw_response"`
	// CertificateDigest is the sha256 of the fetched certificate body.
	CertificateDigest string    `json:"certificate_digest,omitempty"`
	FallbackUsed      bool      `json:"fallback_used"`
	AttemptedAt       time.Time `json:"attempted_at"`
}

// Fail marks r as not verified with the given reason, unless an earlier
// failure was already recorded.
func (r *Result) Fail(code ReasonCode, reason string) {
	if r.ReasonCode != "" {
		return
	}
	r.Verified = false
	r.ReasonCode = code
	r.Reason = reason
}

// Err maps a failed result to its sentinel error; nil when verified.
func (r *Result) Err() error {
	if r == nil || r.Verified {
		return nil
	}
	switch r.ReasonCode {
	case ReasonOracleUnavailable:
		return oracle.ErrOracleUnavailable
	case ReasonSchemaInvalid:
		return ErrSchemaValidation
	case ReasonThresholdNotMet:
		return ErrThresholdNotMet
	case ReasonCertificateInvalid:
		return ErrCertificateInvalid
	case ReasonSignatureInvalid:
		return ErrSignatureInvalid
	default:
		return errors.New("verification failed")
	}
}
