package tokenization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"attestra/internal/oracle"
	oraclemodels "attestra/internal/oracle/models"
	"attestra/internal/tokenization/ports"
)

// LedgerActor is recorded as the actor of revocations observed on the ledger
// rather than requested through this service.
const LedgerActor = "ledger"

// revokedEvent is the payload of a TokenRevoked ledger event.
type revokedEvent struct {
	TokenID string `json:"tokenId"`
	Reason  string `json:"reason"`
	TxHash  string `json:"txHash"`
}

// Reconciler applies revocations executed directly on the ledger to the
// token store.
type Reconciler struct {
	service *Service
	client  *oracle.Client
	source  oracle.EventSource
	logger  *slog.Logger

	sub *oracle.Subscription
}

// NewReconciler wires svc to TokenRevoked events from source.
func NewReconciler(svc *Service, client *oracle.Client, source oracle.EventSource, logger *slog.Logger) (*Reconciler, error) {
	if svc == nil {
		return nil, errors.New("tokenization service is required")
	}
	if client == nil {
		return nil, errors.New("oracle client is required")
	}
	if source == nil {
		return nil, errors.New("event source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{service: svc, client: client, source: source, logger: logger}, nil
}

// Start subscribes to revocation events on the service's ledger target.
func (r *Reconciler) Start() error {
	if r.sub != nil {
		return errors.New("reconciler already started")
	}
	sub, err := r.client.Subscribe(r.source, ports.EventTokenRevoked, r.handle, oracle.WithTarget(r.service.target))
	if err != nil {
		return fmt.Errorf("subscribe to revocations: %w", err)
	}
	r.sub = sub
	return nil
}

// Stop unsubscribes and waits for an in-flight event to finish or ctx to end.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.sub == nil {
		return nil
	}
	r.client.Unsubscribe(r.sub)
	select {
	case <-r.sub.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) handle(ctx context.Context, event oraclemodels.Event) error {
	var payload revokedEvent
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		r.service.metrics.observeReconciled("invalid")
		return fmt.Errorf("decode %s event %s: %w", event.Name, event.ID, err)
	}
	if payload.TokenID == "" {
		r.service.metrics.observeReconciled("invalid")
		return fmt.Errorf("%s event %s has no token id", event.Name, event.ID)
	}

	if r.service.revokeInFlight(payload.TokenID) {
		r.service.metrics.observeReconciled("in_flight")
		return nil
	}

	record, err := r.service.findToken(ctx, payload.TokenID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			r.service.metrics.observeReconciled("unknown_token")
			r.logger.WarnContext(ctx, "revocation event for unknown token",
				"token_id", payload.TokenID,
				"event_id", event.ID,
			)
			return nil
		}
		r.service.metrics.observeReconciled("error")
		return err
	}
	if record.Revoked {
		r.service.metrics.observeReconciled("already_revoked")
		return nil
	}

	reason := payload.Reason
	if reason == "" {
		reason = "revoked on ledger"
	}
	err = r.service.applyRevocation(ctx, record, reason, LedgerActor, payload.TxHash)
	switch {
	case err == nil:
		r.service.metrics.observeReconciled("applied")
	case errors.Is(err, ErrAlreadyRevoked):
		r.service.metrics.observeReconciled("already_revoked")
		return nil
	default:
		r.service.metrics.observeReconciled("error")
	}
	return err
}
