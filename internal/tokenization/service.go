// Package tokenization mints and revokes ledger tokens for verified assets
// and keeps the off-ledger token records and audit entries in step.
package tokenization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	assetmodels "attestra/internal/asset/models"
	assetports "attestra/internal/asset/ports"
	"attestra/internal/audit"
	"attestra/internal/tokenization/models"
	"attestra/internal/tokenization/ports"
	"attestra/internal/tokenization/provenance"
	verificationmodels "attestra/internal/verification/models"
	dErrors "attestra/pkg/domain-errors"
	"attestra/pkg/platform/sentinel"
	"attestra/pkg/requestcontext"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("attestra/tokenization")

const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeConflict = "conflict"
	outcomeLedger   = "ledger_error"
	outcomeAudit    = "audit_error"
)

// Service mints and revokes asset tokens. Safe for concurrent use; mints for
// one asset are serialized by the lease.
type Service struct {
	ledger   ports.LedgerClient
	target   string
	metadata ports.MetadataStore
	lease    ports.Lease
	trail    audit.TrailStore
	assets   assetports.Repository

	// revoking holds token ids with a revoke call in flight; the reconciler
	// leaves their ledger events to this service.
	revoking sync.Map

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

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a tokenization service calling the ledger contract at target.
func New(
	ledger ports.LedgerClient,
	target string,
	metadata ports.MetadataStore,
	trail audit.TrailStore,
	assets assetports.Repository,
	lease ports.Lease,
	opts ...Option,
) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("ledger client is required")
	}
	if target == "" {
		return nil, errors.New("ledger target is required")
	}
	if metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if trail == nil {
		return nil, errors.New("audit trail store is required")
	}
	if assets == nil {
		return nil, errors.New("asset repository is required")
	}
	if lease == nil {
		return nil, errors.New("lease is required")
	}
	s := &Service{
		ledger:   ledger,
		target:   target,
		metadata: metadata,
		lease:    lease,
		trail:    trail,
		assets:   assets,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Mint tokenizes a verified asset under dealID. On any failure before the
// store commit nothing is persisted.
func (s *Service) Mint(ctx context.Context, dealID string, asset assetmodels.AssetBatch) (*models.TokenRecord, error) {
	ctx, span := tracer.Start(ctx, "tokenization.Mint", trace.WithAttributes(
		attribute.String("asset.id", asset.ID),
		attribute.String("deal.id", dealID),
	))
	defer span.End()

	record, err := s.mint(ctx, dealID, asset)
	if err != nil {
		s.metrics.observeMint(mintOutcome(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.metrics.observeMint(outcomeSuccess)
	span.SetAttributes(attribute.String("token.id", record.TokenID))
	return record, nil
}

func (s *Service) mint(ctx context.Context, dealID string, asset assetmodels.AssetBatch) (*models.TokenRecord, error) {
	if dealID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "deal id is required")
	}
	if err := asset.Validate(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid asset")
	}
	if err := s.requireRegistered(ctx, asset); err != nil {
		return nil, err
	}
	if err := s.requireVerified(ctx, asset.ID); err != nil {
		return nil, err
	}

	release, err := s.lease.Acquire(ctx, "mint:"+asset.ID)
	if err != nil {
		if errors.Is(err, ports.ErrLeaseHeld) {
			return nil, dErrors.Wrap(ErrConcurrentMintConflict, dErrors.CodeConflict, fmt.Sprintf("asset %s is being minted", asset.ID))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to acquire mint lease")
	}
	defer release()

	if _, err := s.trail.FindActiveTokenByAsset(ctx, asset.ID); err == nil {
		return nil, dErrors.Wrap(ErrAlreadyTokenized, dErrors.CodeConflict, fmt.Sprintf("asset %s already tokenized", asset.ID))
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, s.auditError(ctx, err, "failed to check existing tokens")
	}

	provenanceHash, err := provenance.Hash(asset)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute provenance hash")
	}
	doc, err := json.Marshal(buildMetadata(asset, dealID, provenanceHash))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode token metadata")
	}
	metadataRef, err := s.metadata.Put(ctx, doc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store token metadata")
	}

	receipt, err := s.call(ctx, ports.MethodMint, map[string]string{
		"to":             asset.Owner,
		"assetId":        asset.ID,
		"dealId":         dealID,
		"metadataUri":    metadataRef,
		"provenanceHash": provenanceHash,
	})
	if err != nil {
		return nil, err
	}
	tokenLog, ok := receipt.FindLog(ports.EventAssetTokenized)
	if !ok || tokenLog.Fields["tokenId"] == "" {
		return nil, dErrors.Wrap(fmt.Errorf("%w: receipt %s has no %s log", ErrLedgerCallFailed, receipt.TxHash, ports.EventAssetTokenized),
			dErrors.CodeBadGateway, "ledger mint returned no token id")
	}

	if err := ctx.Err(); err != nil {
		s.logger.ErrorContext(ctx, "mint confirmed on ledger but request canceled before recording",
			"asset_id", asset.ID,
			"tx_hash", receipt.TxHash,
		)
		return nil, err
	}

	record := models.TokenRecord{
		TokenID:        tokenLog.Fields["tokenId"],
		AssetID:        asset.ID,
		DealID:         dealID,
		MetadataRef:    metadataRef,
		ProvenanceHash: provenanceHash,
		TxHash:         receipt.TxHash,
		MintedAt:       s.now(),
	}
	entry, err := s.entry(ctx, audit.KindMint, record, record)
	if err != nil {
		return nil, err
	}
	if _, err := s.trail.CreateToken(ctx, record, entry); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(ErrAlreadyTokenized, dErrors.CodeConflict, fmt.Sprintf("asset %s already tokenized", asset.ID))
		}
		s.logger.ErrorContext(ctx, "mint confirmed on ledger but token record not stored",
			"asset_id", asset.ID,
			"token_id", record.TokenID,
			"tx_hash", receipt.TxHash,
			"error", err,
		)
		return nil, s.auditError(ctx, err, "failed to record minted token")
	}

	s.logger.InfoContext(ctx, "asset tokenized",
		"asset_id", asset.ID,
		"deal_id", dealID,
		"token_id", record.TokenID,
		"tx_hash", record.TxHash,
	)
	return &record, nil
}

// requireRegistered checks that asset is the batch held by the asset
// repository, compared by provenance hash.
func (s *Service) requireRegistered(ctx context.Context, asset assetmodels.AssetBatch) error {
	stored, err := s.assets.Get(ctx, asset.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("asset %s not found", asset.ID))
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load asset")
	}
	want, err := provenance.Hash(*stored)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute provenance hash")
	}
	got, err := provenance.Hash(asset)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid asset")
	}
	if got != want {
		return dErrors.Wrap(ErrAssetMismatch, dErrors.CodeInvalidInput,
			fmt.Sprintf("asset %s does not match the registered batch", asset.ID))
	}
	return nil
}

// requireVerified checks that the newest verification of assetID passed and
// that no token for it was revoked since. Entries are scanned newest first.
func (s *Service) requireVerified(ctx context.Context, assetID string) error {
	entries, err := s.trail.Query(ctx, audit.Filter{AssetID: assetID})
	if err != nil {
		return s.auditError(ctx, err, "failed to read verification history")
	}
	for _, entry := range entries {
		switch entry.Kind {
		case audit.KindRevoke:
			return dErrors.Wrap(ErrNotVerified, dErrors.CodeUnprocessable,
				fmt.Sprintf("asset %s must be verified again after revocation", assetID))
		case audit.KindVerification:
			var result verificationmodels.Result
			if err := entry.DecodePayload(&result); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode verification result")
			}
			if !result.Verified {
				return dErrors.Wrap(ErrNotVerified, dErrors.CodeUnprocessable,
					fmt.Sprintf("latest verification of asset %s failed: %s", assetID, result.ReasonCode))
			}
			return nil
		}
	}
	return dErrors.Wrap(ErrNotVerified, dErrors.CodeUnprocessable, fmt.Sprintf("asset %s has never been verified", assetID))
}

type revocationPayload struct {
	TokenID   string    `json:"token_id"`
	AssetID   string    `json:"asset_id"`
	DealID    string    `json:"deal_id"`
	Reason    string    `json:"reason"`
	RevokedBy string    `json:"revoked_by"`
	RevokedAt time.Time `json:"revoked_at"`
	TxHash    string    `json:"tx_hash,omitempty"`
}

// Revoke revokes tokenID on the ledger and records the transition. The first
// revocation wins; later calls return ErrAlreadyRevoked.
func (s *Service) Revoke(ctx context.Context, tokenID, reason, actor string) error {
	ctx, span := tracer.Start(ctx, "tokenization.Revoke", trace.WithAttributes(
		attribute.String("token.id", tokenID),
	))
	defer span.End()

	err := s.revoke(ctx, tokenID, reason, actor)
	if err != nil {
		s.metrics.observeRevoke(revokeOutcome(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.metrics.observeRevoke(outcomeSuccess)
	return nil
}

func (s *Service) revoke(ctx context.Context, tokenID, reason, actor string) error {
	if tokenID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "token id is required")
	}
	if reason == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "revocation reason is required")
	}
	if actor == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "revocation actor is required")
	}

	record, err := s.findToken(ctx, tokenID)
	if err != nil {
		return err
	}
	if record.Revoked {
		return alreadyRevoked(tokenID)
	}

	s.revoking.Store(tokenID, struct{}{})
	defer s.revoking.Delete(tokenID)

	receipt, err := s.call(ctx, ports.MethodRevoke, map[string]string{
		"tokenId": tokenID,
		"reason":  reason,
	})
	if err != nil {
		// A concurrent revoke may have won the ledger race.
		if current, findErr := s.trail.FindToken(ctx, tokenID); findErr == nil && current.Revoked {
			return alreadyRevoked(tokenID)
		}
		return err
	}

	return s.applyRevocation(ctx, record, reason, actor, receipt.TxHash)
}

// applyRevocation records an already-executed ledger revocation.
func (s *Service) applyRevocation(ctx context.Context, record *models.TokenRecord, reason, actor, txHash string) error {
	revokedAt := s.now()
	entry, err := s.entry(ctx, audit.KindRevoke, *record, revocationPayload{
		TokenID:   record.TokenID,
		AssetID:   record.AssetID,
		DealID:    record.DealID,
		Reason:    reason,
		RevokedBy: actor,
		RevokedAt: revokedAt,
		TxHash:    txHash,
	})
	if err != nil {
		return err
	}
	entry.Actor = actor

	if _, err := s.trail.RevokeToken(ctx, record.TokenID, reason, actor, revokedAt, entry); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			return alreadyRevoked(record.TokenID)
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Wrap(ErrTokenNotFound, dErrors.CodeNotFound, fmt.Sprintf("token %s not found", record.TokenID))
		default:
			return s.auditError(ctx, err, "failed to record revocation")
		}
	}

	if err := s.assets.SetVerified(ctx, record.AssetID, false); err != nil {
		s.logger.ErrorContext(ctx, "token revoked but asset verification flag not cleared",
			"token_id", record.TokenID,
			"asset_id", record.AssetID,
			"error", err,
		)
	}

	s.logger.InfoContext(ctx, "token revoked",
		"token_id", record.TokenID,
		"asset_id", record.AssetID,
		"revoked_by", actor,
		"tx_hash", txHash,
	)
	return nil
}

// GetToken returns the record for tokenID.
func (s *Service) GetToken(ctx context.Context, tokenID string) (*models.TokenRecord, error) {
	if tokenID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token id is required")
	}
	return s.findToken(ctx, tokenID)
}

// ActiveTokenForAsset returns the non-revoked token of assetID.
func (s *Service) ActiveTokenForAsset(ctx context.Context, assetID string) (*models.TokenRecord, error) {
	record, err := s.trail.FindActiveTokenByAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(ErrTokenNotFound, dErrors.CodeNotFound, fmt.Sprintf("asset %s has no active token", assetID))
		}
		return nil, s.auditError(ctx, err, "failed to load token")
	}
	return record, nil
}

// Mapping returns the deal and asset a token was minted for.
func (s *Service) Mapping(ctx context.Context, tokenID string) (*models.TokenMapping, error) {
	m, err := s.trail.FindMapping(ctx, tokenID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(ErrTokenNotFound, dErrors.CodeNotFound, fmt.Sprintf("token %s not found", tokenID))
		}
		return nil, s.auditError(ctx, err, "failed to load token mapping")
	}
	return m, nil
}

func (s *Service) findToken(ctx context.Context, tokenID string) (*models.TokenRecord, error) {
	record, err := s.trail.FindToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(ErrTokenNotFound, dErrors.CodeNotFound, fmt.Sprintf("token %s not found", tokenID))
		}
		return nil, s.auditError(ctx, err, "failed to load token")
	}
	return record, nil
}

// call invokes the ledger and requires a confirmed receipt.
func (s *Service) call(ctx context.Context, method string, args map[string]string) (*ports.Receipt, error) {
	start := time.Now()
	receipt, err := s.ledger.Call(ctx, s.target, method, args)
	s.metrics.observeLedger(method, time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.WarnContext(ctx, "ledger call failed",
			"method", method,
			"error", err,
		)
		return nil, dErrors.Wrap(fmt.Errorf("%w: %s: %w", ErrLedgerCallFailed, method, err), dErrors.CodeBadGateway, "ledger call failed")
	}
	if !receipt.Confirmed() {
		status := ports.ReceiptStatus("missing")
		txHash := ""
		if receipt != nil {
			status, txHash = receipt.Status, receipt.TxHash
		}
		return nil, dErrors.Wrap(fmt.Errorf("%w: %s receipt %s is %s", ErrLedgerCallFailed, method, txHash, status),
			dErrors.CodeBadGateway, "ledger call not confirmed")
	}
	return receipt, nil
}

func (s *Service) entry(ctx context.Context, kind audit.Kind, record models.TokenRecord, payload any) (audit.Entry, error) {
	entry, err := audit.NewEntry(kind, record.TokenID, requestcontext.Actor(ctx), payload)
	if err != nil {
		return audit.Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode audit payload")
	}
	entry.AssetID = record.AssetID
	entry.DealID = record.DealID
	entry.TokenID = record.TokenID
	entry.RequestID = requestcontext.RequestID(ctx)
	return entry, nil
}

func (s *Service) auditError(ctx context.Context, err error, msg string) error {
	s.metrics.incAuditFailure()
	s.logger.ErrorContext(ctx, msg, "error", err)
	return dErrors.Wrap(fmt.Errorf("%w: %w", audit.ErrAuditUnavailable, err), dErrors.CodeUnavailable, msg)
}

func alreadyRevoked(tokenID string) error {
	return dErrors.Wrap(ErrAlreadyRevoked, dErrors.CodeConflict, fmt.Sprintf("token %s already revoked", tokenID))
}

func mintOutcome(err error) string {
	switch {
	case errors.Is(err, ErrConcurrentMintConflict), errors.Is(err, ErrAlreadyTokenized):
		return outcomeConflict
	case errors.Is(err, ErrLedgerCallFailed):
		return outcomeLedger
	case errors.Is(err, audit.ErrAuditUnavailable):
		return outcomeAudit
	default:
		return outcomeRejected
	}
}

func revokeOutcome(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyRevoked):
		return outcomeConflict
	case errors.Is(err, ErrLedgerCallFailed):
		return outcomeLedger
	case errors.Is(err, audit.ErrAuditUnavailable):
		return outcomeAudit
	default:
		return outcomeRejected
	}
}

func (s *Service) revokeInFlight(tokenID string) bool {
	_, ok := s.revoking.Load(tokenID)
	return ok
}
