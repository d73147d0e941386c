package ports

import (
	"context"

	oraclemodels "attestra/internal/oracle/models"
)

// OracleClient fetches attestations; implemented by oracle.Client.
type OracleClient interface {
	Fetch(ctx context.Context, requestID string, params oraclemodels.Params) (*oraclemodels.Response, error)
}

// CertificateFetcher retrieves the document behind a certificate reference.
type CertificateFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}
