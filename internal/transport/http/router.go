package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	assetmodels "attestra/internal/asset/models"
	assetports "attestra/internal/asset/ports"
	"attestra/internal/audit"
	"attestra/internal/platform/metrics"
	"attestra/internal/platform/middleware"
	tokenmodels "attestra/internal/tokenization/models"
	"attestra/internal/verification"
	verificationmodels "attestra/internal/verification/models"
	"attestra/pkg/platform/httputil"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// VerificationService verifies assets against the oracle.
type VerificationService interface {
	Verify(ctx context.Context, assetID string) (*verificationmodels.Result, error)
	VerifyBatch(ctx context.Context, assetIDs []string, concurrency int) ([]verification.BatchResult, error)
}

// TokenizationService mints, revokes and looks up tokens.
type TokenizationService interface {
	Mint(ctx context.Context, dealID string, asset assetmodels.AssetBatch) (*tokenmodels.TokenRecord, error)
	Revoke(ctx context.Context, tokenID, reason, actor string) error
	GetToken(ctx context.Context, tokenID string) (*tokenmodels.TokenRecord, error)
	ActiveTokenForAsset(ctx context.Context, assetID string) (*tokenmodels.TokenRecord, error)
	Mapping(ctx context.Context, tokenID string) (*tokenmodels.TokenMapping, error)
}

// AuditReader exposes audit queries.
type AuditReader interface {
	Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

// HealthCheck reports dependency health; nil means healthy.
type HealthCheck func(ctx context.Context) error

// Handler is the thin HTTP layer. It delegates to domain services without
// embedding business logic.
type Handler struct {
	assets       assetports.Repository
	verification VerificationService
	tokens       TokenizationService
	audit        AuditReader
	logger       *slog.Logger
	health       map[string]HealthCheck
}

func NewHandler(
	assets assetports.Repository,
	verification VerificationService,
	tokens TokenizationService,
	audit AuditReader,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		assets:       assets,
		verification: verification,
		tokens:       tokens,
		audit:        audit,
		logger:       logger,
		health:       make(map[string]HealthCheck),
	}
}

// AddHealthCheck registers a named dependency probe for /health.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.health[name] = check
}

// NewRouter wires all public endpoints. Everything under /v1 requires a
// bearer token.
func NewRouter(h *Handler, validator middleware.JWTValidator, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestContext)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(m))

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, logger))

		r.Post("/assets", h.handleRegisterAsset)
		r.Post("/assets/verify", h.handleVerifyBatch)
		r.Get("/assets/{assetID}", h.handleGetAsset)
		r.Post("/assets/{assetID}/verify", h.handleVerify)
		r.Get("/assets/{assetID}/token", h.handleAssetToken)

		r.Post("/tokens", h.handleMint)
		r.Get("/tokens/{tokenID}", h.handleGetToken)
		r.Get("/tokens/{tokenID}/mapping", h.handleMapping)
		r.Post("/tokens/{tokenID}/revoke", h.handleRevoke)

		r.Get("/audit", h.handleAuditQuery)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for name, check := range h.health {
		if err := check(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", "check", name, "error", err)
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}
