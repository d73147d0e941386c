package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	assetstore "attestra/internal/asset/store"
	"attestra/internal/audit"
	jwttoken "attestra/internal/jwt_token"
	ledgermemory "attestra/internal/ledger/memory"
	"attestra/internal/oracle"
	"attestra/internal/platform/config"
	"attestra/internal/platform/httpserver"
	"attestra/internal/platform/logger"
	"attestra/internal/platform/metrics"
	"attestra/internal/tokenization"
	httptransport "attestra/internal/transport/http"
	"attestra/internal/verification"
	"attestra/pkg/platform/circuit"
)

const shutdownTimeout = 15 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := buildInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.close(log)

	assets := assetstore.NewInMemoryAssetStore()

	if cfg.Oracle.URL == "" {
		return errors.New("ORACLE_URL is required")
	}
	oracleOpts := []oracle.Option{
		oracle.WithLogger(log),
		oracle.WithMetrics(oracle.NewMetrics()),
	}
	if cfg.Oracle.BreakerThreshold > 0 {
		oracleOpts = append(oracleOpts, oracle.WithBreaker(circuit.New("oracle",
			circuit.WithFailureThreshold(cfg.Oracle.BreakerThreshold),
			circuit.WithCooldown(cfg.Oracle.BreakerCooldown),
		)))
	}
	oracleClient, err := oracle.New(
		oracle.NewHTTPEndpoint(cfg.Oracle.URL, cfg.Oracle.AttemptTimeout),
		oracle.Config{
			MaxRetries:     cfg.Oracle.MaxRetries,
			BaseDelay:      cfg.Oracle.BaseDelay,
			MaxDelay:       cfg.Oracle.MaxDelay,
			AttemptTimeout: cfg.Oracle.AttemptTimeout,
			JobIDPattern:   cfg.Oracle.JobIDPattern,
		},
		oracleOpts...,
	)
	if err != nil {
		return fmt.Errorf("create oracle client: %w", err)
	}
	defer oracleClient.Close()

	verificationService, err := newVerificationService(cfg, log, assets, oracleClient, infra.trail)
	if err != nil {
		return err
	}

	ledger := ledgermemory.New(ledgermemory.WithLogger(log))
	tokenService, err := tokenization.New(
		ledger,
		cfg.Verification.LedgerTarget,
		infra.metadata,
		infra.trail,
		assets,
		infra.lease,
		tokenization.WithLogger(log),
		tokenization.WithMetrics(tokenization.NewMetrics()),
	)
	if err != nil {
		return fmt.Errorf("create tokenization service: %w", err)
	}

	reconciler, err := tokenization.NewReconciler(tokenService, oracleClient, ledger, log)
	if err != nil {
		return fmt.Errorf("create reconciler: %w", err)
	}
	if err := reconciler.Start(); err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer)
	handler := httptransport.NewHandler(assets, verificationService, tokenService, infra.trail, log)
	for name, check := range infra.health {
		handler.AddHealthCheck(name, check)
	}
	router := httptransport.NewRouter(handler, jwttoken.NewJWTServiceAdapter(jwtService), metrics.New(), log)
	srv := httpserver.New(cfg.Server.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting attestra", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := reconciler.Stop(shutdownCtx); err != nil {
		log.Warn("reconciler did not stop in time", "error", err)
	}
	if err := infra.flush(shutdownCtx); err != nil {
		log.Warn("audit stream not fully flushed", "error", err)
	}
	return nil
}

func newVerificationService(
	cfg config.Config,
	log *slog.Logger,
	assets *assetstore.InMemoryAssetStore,
	oracleClient *oracle.Client,
	trail audit.Store,
) (*verification.Service, error) {
	thresholds := verification.DefaultThresholds()
	if cfg.Verification.ThresholdFile != "" {
		loaded, err := verification.LoadThresholds(cfg.Verification.ThresholdFile)
		if err != nil {
			return nil, fmt.Errorf("load thresholds: %w", err)
		}
		thresholds = loaded
	}
	signers, err := verification.ParseSignerKeys(cfg.Verification.SignerKeys)
	if err != nil {
		return nil, fmt.Errorf("parse signer keys: %w", err)
	}

	svc, err := verification.New(
		assets,
		oracleClient,
		verification.NewHTTPCertificateFetcher(cfg.Verification.IPFSGateway, cfg.Oracle.AttemptTimeout),
		trail,
		cfg.Oracle.JobID,
		verification.WithLogger(log),
		verification.WithMetrics(verification.NewMetrics()),
		verification.WithThresholds(thresholds),
		verification.WithSigners(signers),
	)
	if err != nil {
		return nil, fmt.Errorf("create verification service: %w", err)
	}
	return svc, nil
}
