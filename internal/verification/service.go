// Package verification decides whether an asset's oracle attestation meets
// policy: schema, purity threshold or signed deed, and certificate checks.
// Every decision is recorded in the audit trail before it is returned.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	assetmodels "attestra/internal/asset/models"
	assetports "attestra/internal/asset/ports"
	"attestra/internal/audit"
	oraclemodels "attestra/internal/oracle/models"
	"attestra/internal/verification/models"
	"attestra/internal/verification/ports"
	"attestra/internal/verification/schema"
	dErrors "attestra/pkg/domain-errors"
	"attestra/pkg/platform/sentinel"
	"attestra/pkg/requestcontext"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("attestra/verification")

// Re-exported so callers need not import the models package for errors.is.
var (
	ErrSchemaValidation   = models.ErrSchemaValidation
	ErrThresholdNotMet    = models.ErrThresholdNotMet
	ErrCertificateInvalid = models.ErrCertificateInvalid
	ErrSignatureInvalid   = models.ErrSignatureInvalid
)

// Service verifies assets against oracle attestations.
type Service struct {
	assets       assetports.Repository
	oracle       ports.OracleClient
	certificates ports.CertificateFetcher
	trail        audit.Store

	jobID      string
	thresholds ThresholdTable
	signers    SignerRegistry

	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithThresholds replaces the default purity table.
func WithThresholds(t ThresholdTable) Option {
	return func(s *Service) {
		if t != nil {
			s.thresholds = t
		}
	}
}

// WithSigners registers the expected property-document signers.
func WithSigners(r SignerRegistry) Option {
	return func(s *Service) {
		if r != nil {
			s.signers = r
		}
	}
}

// WithClock overrides the time source used for AttemptedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a verification service. jobID is the oracle job run for every
// request.
func New(
	assets assetports.Repository,
	oracle ports.OracleClient,
	certificates ports.CertificateFetcher,
	trail audit.Store,
	jobID string,
	opts ...Option,
) (*Service, error) {
	if assets == nil {
		return nil, errors.New("asset repository is required")
	}
	if oracle == nil {
		return nil, errors.New("oracle client is required")
	}
	if certificates == nil {
		return nil, errors.New("certificate fetcher is required")
	}
	if trail == nil {
		return nil, errors.New("audit store is required")
	}
	if jobID == "" {
		return nil, errors.New("oracle job id is required")
	}
	s := &Service{
		assets:       assets,
		oracle:       oracle,
		certificates: certificates,
		trail:        trail,
		jobID:        jobID,
		thresholds:   DefaultThresholds(),
		signers:      SignerRegistry{},
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Verify fetches and evaluates the attestation for assetID. A policy failure
// is a Result with Verified=false and a nil error; the error return is for
// invalid input, unknown assets, audit failure and cancellation.
func (s *Service) Verify(ctx context.Context, assetID string) (*models.Result, error) {
	ctx, span := tracer.Start(ctx, "verification.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("asset.id", assetID))

	start := time.Now()
	result, err := s.verify(ctx, assetID)
	s.metrics.observeDuration(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("verification.verified", result.Verified),
		attribute.String("verification.reason_code", string(result.ReasonCode)),
		attribute.Bool("verification.fallback_used", result.FallbackUsed),
	)
	return result, nil
}

func (s *Service) verify(ctx context.Context, assetID string) (*models.Result, error) {
	if assetID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "asset id is required")
	}
	asset, err := s.assets.Get(ctx, assetID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("asset %s not found", assetID))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load asset")
	}

	result := &models.Result{
		AssetID:     asset.ID,
		AssetType:   asset.Type,
		Verified:    true,
		AttemptedAt: s.now(),
	}

	resp, source, err := s.fetch(ctx, asset)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		result.Fail(models.ReasonOracleUnavailable, "oracle unavailable and no cached attestation exists")
	} else {
		result.RawResponse = resp
		result.FallbackUsed = source == audit.OracleSourceCache
		s.evaluate(ctx, asset, resp, result)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.record(ctx, result, source); err != nil {
		return nil, err
	}
	if err := s.assets.SetVerified(ctx, asset.ID, result.Verified); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update asset verification flag")
	}

	s.metrics.observeOutcome(string(asset.Type), string(result.ReasonCode))
	s.logger.InfoContext(ctx, "asset verification completed",
		"asset_id", asset.ID,
		"asset_type", asset.Type,
		"verified", result.Verified,
		"reason_code", result.ReasonCode,
		"fallback_used", result.FallbackUsed,
	)
	return result, nil
}

// fetch returns the oracle response and where it came from. A nil response
// with a nil error means neither the oracle nor the trail could supply one.
func (s *Service) fetch(ctx context.Context, asset *assetmodels.AssetBatch) (*oraclemodels.Response, string, error) {
	resp, err := s.oracle.Fetch(ctx, s.jobID, oraclemodels.Params{
		oraclemodels.ParamAssetID:   asset.ID,
		oraclemodels.ParamAssetType: string(asset.Type),
	})
	if err == nil {
		return resp, audit.OracleSourceLive, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, "", ctxErr
	}

	s.logger.WarnContext(ctx, "oracle fetch failed, trying last known good attestation",
		"asset_id", asset.ID,
		"error", err,
	)
	cached, cacheErr := s.lastKnownGood(ctx, asset.ID)
	if cacheErr != nil {
		s.logger.ErrorContext(ctx, "fallback lookup failed",
			"asset_id", asset.ID,
			"error", cacheErr,
		)
		return nil, "", nil
	}
	if cached == nil {
		return nil, "", nil
	}
	s.metrics.incFallback()
	return cached, audit.OracleSourceCache, nil
}

func (s *Service) lastKnownGood(ctx context.Context, assetID string) (*oraclemodels.Response, error) {
	entries, err := s.trail.Query(ctx, audit.Filter{
		Kind:      audit.KindVerification,
		SubjectID: assetID,
		Labels:    map[string]string{audit.LabelOracleSource: audit.OracleSourceLive},
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	var prior models.Result
	if err := entries[0].DecodePayload(&prior); err != nil {
		return nil, fmt.Errorf("decode cached verification: %w", err)
	}
	return prior.RawResponse, nil
}

// evaluate applies schema, threshold or signature, and certificate checks.
// The first failure becomes the reason.
func (s *Service) evaluate(ctx context.Context, asset *assetmodels.AssetBatch, resp *oraclemodels.Response, result *models.Result) {
	claims, err := schema.Validate(resp, asset)
	if err != nil {
		result.Fail(models.ReasonSchemaInvalid, err.Error())
		return
	}

	switch claims.Type.Category() {
	case assetmodels.CategoryMetal:
		s.checkThreshold(claims, result)
	case assetmodels.CategoryProperty:
		result.ValuationBand = ValuationBand(claims.Property.Valuation)
		result.MeetsThreshold = true
		if err := s.signers.VerifyDocument(resp.IssuingAuthority, resp.DocumentHash, resp.Signature); err != nil {
			result.Fail(models.ReasonSignatureInvalid, err.Error())
		}
	}

	if err := s.checkCertificate(ctx, asset, resp, result); err != nil {
		result.Fail(models.ReasonCertificateInvalid, err.Error())
	}
}

func (s *Service) checkThreshold(claims *schema.Claims, result *models.Result) {
	threshold, ok := s.thresholds.Lookup(claims.Type)
	if !ok {
		result.MeetsThreshold = false
		result.Fail(models.ReasonThresholdNotMet, fmt.Sprintf("no threshold configured for %s", claims.Type))
		return
	}
	result.ThresholdUsed = &threshold
	result.MeetsThreshold = claims.Metal.Purity.GreaterThanOrEqual(threshold)
	if !result.MeetsThreshold {
		result.Fail(models.ReasonThresholdNotMet, fmt.Sprintf("purity %s below threshold %s for %s",
			claims.Metal.Purity, threshold, claims.Type))
	}
}

func (s *Service) checkCertificate(ctx context.Context, asset *assetmodels.AssetBatch, resp *oraclemodels.Response, result *models.Result) error {
	ref := resp.CertificateRef
	if ref == "" {
		ref = asset.CertificateRef
	}
	if ref == "" {
		return errors.New("no certificate reference")
	}
	if resp.CertificateHash != "" && !ValidCertificateHash(resp.CertificateHash) {
		return fmt.Errorf("reported certificate hash %q is malformed", resp.CertificateHash)
	}
	body, err := s.certificates.Fetch(ctx, ref)
	if err != nil {
		return fmt.Errorf("certificate %s not retrievable: %w", ref, err)
	}
	if len(body) == 0 {
		return fmt.Errorf("certificate %s is empty", ref)
	}
	result.CertificateDigest = digest(body)
	return nil
}

func (s *Service) record(ctx context.Context, result *models.Result, source string) error {
	entry, err := audit.NewEntry(audit.KindVerification, result.AssetID, requestcontext.Actor(ctx), result)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode verification result")
	}
	entry.AssetID = result.AssetID
	entry.RequestID = requestcontext.RequestID(ctx)
	entry.Timestamp = result.AttemptedAt
	if source != "" {
		entry.Labels = map[string]string{audit.LabelOracleSource: source}
	}
	if _, err := s.trail.Append(ctx, entry); err != nil {
		s.metrics.incAuditFailure()
		s.logger.ErrorContext(ctx, "verification audit append failed",
			"asset_id", result.AssetID,
			"error", err,
		)
		return dErrors.Wrap(fmt.Errorf("%w: %w", audit.ErrAuditUnavailable, err), dErrors.CodeUnavailable, "failed to record verification")
	}
	return nil
}

// BatchResult pairs an asset id with its verification outcome.
type BatchResult struct {
	AssetID string
	Result  *models.Result
	Err     error
}

// VerifyBatch verifies assets with at most concurrency in flight. Per-asset
// errors are reported in the results; the returned error is only the
// context's.
func (s *Service) VerifyBatch(ctx context.Context, assetIDs []string, concurrency int) ([]BatchResult, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	results := make([]BatchResult, len(assetIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range assetIDs {
		g.Go(func() error {
			res, err := s.Verify(gctx, id)
			results[i] = BatchResult{AssetID: id, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
