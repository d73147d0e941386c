package tokenization

import (
	"context"
	"encoding/json"
	"time"

	"attestra/internal/audit"
	"attestra/internal/oracle"
	oraclemodels "attestra/internal/oracle/models"
	"attestra/internal/tokenization/ports"
)

type idleEndpoint struct{}

func (idleEndpoint) Request(context.Context, string, oraclemodels.Params) (*oraclemodels.EndpointResponse, error) {
	return &oraclemodels.EndpointResponse{Success: true}, nil
}

func (s *TokenizationServiceSuite) startReconciler(svc *Service) (*Reconciler, *oracle.Client) {
	client, err := oracle.New(idleEndpoint{}, oracle.Config{}, oracle.WithLogger(s.logger))
	s.Require().NoError(err)
	rec, err := NewReconciler(svc, client, s.ledger, s.logger)
	s.Require().NoError(err)
	s.Require().NoError(rec.Start())
	s.T().Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rec.Stop(ctx)
		client.Close()
	})
	return rec, client
}

func (s *TokenizationServiceSuite) TestReconcilerAppliesLedgerRevocation() {
	svc := s.newService(s.ledger, s.trail)
	s.startReconciler(svc)

	record, err := svc.Mint(s.ctx, "deal-1", s.verified(gold("asset-1"), true))
	s.Require().NoError(err)

	receipt, err := s.ledger.Call(s.ctx, contract, ports.MethodRevoke, map[string]string{
		"tokenId": record.TokenID,
		"reason":  "court order",
	})
	s.Require().NoError(err)
	s.Require().True(receipt.Confirmed())

	s.Eventually(func() bool {
		got, err := svc.GetToken(s.ctx, record.TokenID)
		return err == nil && got.Revoked
	}, 2*time.Second, 10*time.Millisecond)

	got, err := svc.GetToken(s.ctx, record.TokenID)
	s.Require().NoError(err)
	s.Equal("court order", got.RevocationReason)
	s.Equal(LedgerActor, got.RevokedBy)

	entries, err := s.trail.Query(s.ctx, audit.Filter{Kind: audit.KindRevoke, TokenID: record.TokenID})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(LedgerActor, entries[0].Actor)
}

func (s *TokenizationServiceSuite) TestReconcilerLeavesServiceRevocationsAlone() {
	svc := s.newService(s.ledger, s.trail)
	s.startReconciler(svc)

	record, err := svc.Mint(s.ctx, "deal-1", s.verified(gold("asset-1"), true))
	s.Require().NoError(err)
	s.Require().NoError(svc.Revoke(s.ctx, record.TokenID, "fraud", "compliance-1"))

	// Give the event time to reach the reconciler.
	time.Sleep(50 * time.Millisecond)

	got, err := svc.GetToken(s.ctx, record.TokenID)
	s.Require().NoError(err)
	s.Equal("compliance-1", got.RevokedBy)

	entries, err := s.trail.Query(s.ctx, audit.Filter{Kind: audit.KindRevoke, TokenID: record.TokenID})
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *TokenizationServiceSuite) TestReconcilerHandle() {
	svc := s.newService(s.ledger, s.trail)
	client, err := oracle.New(idleEndpoint{}, oracle.Config{}, oracle.WithLogger(s.logger))
	s.Require().NoError(err)
	rec, err := NewReconciler(svc, client, s.ledger, s.logger)
	s.Require().NoError(err)

	event := func(payload any) oraclemodels.Event {
		raw, err := json.Marshal(payload)
		s.Require().NoError(err)
		return oraclemodels.Event{ID: "ev-1", Name: ports.EventTokenRevoked, Payload: raw}
	}

	s.Run("malformed payload", func() {
		s.Error(rec.handle(s.ctx, oraclemodels.Event{ID: "ev", Payload: json.RawMessage(`{`)}))
	})

	s.Run("missing token id", func() {
		s.Error(rec.handle(s.ctx, event(map[string]string{"reason": "x"})))
	})

	s.Run("unknown token is ignored", func() {
		s.NoError(rec.handle(s.ctx, event(map[string]string{"tokenId": "999"})))
	})

	s.Run("already revoked is a no-op", func() {
		record, err := svc.Mint(s.ctx, "deal-1", s.verified(gold("asset-9"), true))
		s.Require().NoError(err)
		s.Require().NoError(svc.Revoke(s.ctx, record.TokenID, "fraud", "ops"))
		s.NoError(rec.handle(s.ctx, event(map[string]string{"tokenId": record.TokenID})))

		got, err := svc.GetToken(s.ctx, record.TokenID)
		s.Require().NoError(err)
		s.Equal("ops", got.RevokedBy)
	})

	s.Run("start twice", func() {
		s.Require().NoError(rec.Start())
		s.Error(rec.Start())
		s.NoError(rec.Stop(s.ctx))
	})
}
