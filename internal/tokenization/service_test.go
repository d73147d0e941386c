package tokenization

//go:generate mockgen -source=ports/ports.go -destination=mocks/mocks.go -package=mocks LedgerClient MetadataStore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	assetmodels "attestra/internal/asset/models"
	assetstore "attestra/internal/asset/store"
	"attestra/internal/audit"
	auditmemory "attestra/internal/audit/store/memory"
	ledgermemory "attestra/internal/ledger/memory"
	"attestra/internal/tokenization/lease"
	"attestra/internal/tokenization/metadata"
	"attestra/internal/tokenization/mocks"
	"attestra/internal/tokenization/models"
	"attestra/internal/tokenization/ports"
	verificationmodels "attestra/internal/verification/models"
	dErrors "attestra/pkg/domain-errors"
	"attestra/pkg/requestcontext"
)

// =============================================================================
// Tokenization Service Test Suite
// =============================================================================
// Justification: a token must only exist for a verified asset, at most one
// active token per asset may exist even under concurrent requests, and a
// failed ledger call must leave no token record behind.

const contract = "0xassettoken"

// gatedLedger blocks the first call until release is closed.
type gatedLedger struct {
	ports.LedgerClient
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedLedger(inner ports.LedgerClient) *gatedLedger {
	return &gatedLedger{
		LedgerClient: inner,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (g *gatedLedger) Call(ctx context.Context, target, method string, args map[string]string) (*ports.Receipt, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.LedgerClient.Call(ctx, target, method, args)
}

// confirmingLedger confirms every revoke, leaving conflict detection to the
// token store.
type confirmingLedger struct{}

func (confirmingLedger) Call(_ context.Context, _, method string, args map[string]string) (*ports.Receipt, error) {
	return &ports.Receipt{
		TxHash: "0xrevoke-" + args["tokenId"],
		Status: ports.ReceiptConfirmed,
		Logs:   []ports.Log{{Event: ports.EventTokenRevoked, Fields: args}},
	}, nil
}

type failingTokenTrail struct {
	audit.TrailStore
}

func (failingTokenTrail) CreateToken(context.Context, models.TokenRecord, audit.Entry) (string, error) {
	return "", errors.New("connection reset")
}

type TokenizationServiceSuite struct {
	suite.Suite
	ctx      context.Context
	trail    *auditmemory.InMemoryStore
	assets   *assetstore.InMemoryAssetStore
	ledger   *ledgermemory.Ledger
	metadata *metadata.InMemoryStore
	logger   *slog.Logger
}

func TestTokenizationServiceSuite(t *testing.T) {
	suite.Run(t, new(TokenizationServiceSuite))
}

func (s *TokenizationServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithActor(context.Background(), "dealer-7")
	s.trail = auditmemory.NewInMemoryStore()
	s.assets = assetstore.NewInMemoryAssetStore()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ledger = ledgermemory.New(ledgermemory.WithLogger(s.logger))
	s.metadata = metadata.NewInMemoryStore()
}

func (s *TokenizationServiceSuite) newService(ledger ports.LedgerClient, trail audit.TrailStore) *Service {
	svc, err := New(ledger, contract, s.metadata, trail, s.assets, lease.NewInMemoryLease(), WithLogger(s.logger))
	s.Require().NoError(err)
	return svc
}

func gold(id string) assetmodels.AssetBatch {
	return assetmodels.AssetBatch{
		ID:   id,
		Type: assetmodels.AssetTypeGold,
		Metal: &assetmodels.MetalAttributes{
			Purity:      decimal.RequireFromString("99.95"),
			WeightGrams: decimal.RequireFromString("1000"),
			Origin:      "Perth Mint",
		},
		CertificateRef: "ipfs://bafkreicertificate",
		Owner:          "0xowner",
	}
}

// verified registers asset and records a verification outcome for it.
func (s *TokenizationServiceSuite) verified(asset assetmodels.AssetBatch, ok bool) assetmodels.AssetBatch {
	asset.Verified = ok
	s.Require().NoError(s.assets.Put(s.ctx, asset))
	result := verificationmodels.Result{
		AssetID:     asset.ID,
		AssetType:   asset.Type,
		Verified:    ok,
		AttemptedAt: time.Now(),
	}
	if !ok {
		result.Fail(verificationmodels.ReasonThresholdNotMet, "purity below threshold")
	}
	entry, err := audit.NewEntry(audit.KindVerification, asset.ID, "verifier", result)
	s.Require().NoError(err)
	entry.AssetID = asset.ID
	_, err = s.trail.Append(s.ctx, entry)
	s.Require().NoError(err)
	return asset
}

func (s *TokenizationServiceSuite) mintEntries() []audit.Entry {
	entries, err := s.trail.Query(s.ctx, audit.Filter{Kind: audit.KindMint})
	s.Require().NoError(err)
	return entries
}

func (s *TokenizationServiceSuite) TestNew() {
	lse := lease.NewInMemoryLease()
	cases := []struct {
		name string
		fn   func() (*Service, error)
		msg  string
	}{
		{"ledger", func() (*Service, error) { return New(nil, contract, s.metadata, s.trail, s.assets, lse) }, "ledger client is required"},
		{"target", func() (*Service, error) { return New(s.ledger, "", s.metadata, s.trail, s.assets, lse) }, "ledger target is required"},
		{"metadata", func() (*Service, error) { return New(s.ledger, contract, nil, s.trail, s.assets, lse) }, "metadata store is required"},
		{"trail", func() (*Service, error) { return New(s.ledger, contract, s.metadata, nil, s.assets, lse) }, "audit trail store is required"},
		{"assets", func() (*Service, error) { return New(s.ledger, contract, s.metadata, s.trail, nil, lse) }, "asset repository is required"},
		{"lease", func() (*Service, error) { return New(s.ledger, contract, s.metadata, s.trail, s.assets, nil) }, "lease is required"},
	}
	for _, tc := range cases {
		s.Run("requires "+tc.name, func() {
			svc, err := tc.fn()
			s.Nil(svc)
			s.EqualError(err, tc.msg)
		})
	}
}

func (s *TokenizationServiceSuite) TestMint() {
	svc := s.newService(s.ledger, s.trail)
	asset := s.verified(gold("asset-1"), true)

	record, err := svc.Mint(s.ctx, "deal-1", asset)
	s.Require().NoError(err)

	s.Run("returns the ledger token id and stored references", func() {
		s.NotEmpty(record.TokenID)
		s.Equal("asset-1", record.AssetID)
		s.Equal("deal-1", record.DealID)
		s.Regexp(`^0x[0-9a-f]{64}$`, record.ProvenanceHash)
		s.Regexp(`^0x[0-9a-f]{64}$`, record.TxHash)
		s.False(record.Revoked)
	})

	s.Run("metadata document is retrievable by its reference", func() {
		doc, err := s.metadata.Get(s.ctx, record.MetadataRef)
		s.Require().NoError(err)
		var meta models.Metadata
		s.Require().NoError(json.Unmarshal(doc, &meta))
		s.Equal(record.ProvenanceHash, meta.ProvenanceHash)
		s.Equal("deal-1", meta.DealID)
	})

	s.Run("records a mint entry with the caller as actor", func() {
		entries := s.mintEntries()
		s.Require().Len(entries, 1)
		s.Equal(record.TokenID, entries[0].SubjectID)
		s.Equal("asset-1", entries[0].AssetID)
		s.Equal("deal-1", entries[0].DealID)
		s.Equal("dealer-7", entries[0].Actor)
	})

	s.Run("lookups", func() {
		got, err := svc.GetToken(s.ctx, record.TokenID)
		s.Require().NoError(err)
		s.Equal(*record, *got)

		active, err := svc.ActiveTokenForAsset(s.ctx, "asset-1")
		s.Require().NoError(err)
		s.Equal(record.TokenID, active.TokenID)

		mapping, err := svc.Mapping(s.ctx, record.TokenID)
		s.Require().NoError(err)
		s.Equal("deal-1", mapping.DealID)
		s.Equal("asset-1", mapping.AssetID)
	})

	s.Run("second mint for the same asset is rejected", func() {
		_, err := svc.Mint(s.ctx, "deal-2", asset)
		s.ErrorIs(err, ErrAlreadyTokenized)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Len(s.mintEntries(), 1)
	})
}

func (s *TokenizationServiceSuite) TestMintRequiresPassingVerification() {
	svc := s.newService(s.ledger, s.trail)

	s.Run("never verified", func() {
		asset := gold("asset-new")
		s.Require().NoError(s.assets.Put(s.ctx, asset))
		_, err := svc.Mint(s.ctx, "deal-1", asset)
		s.ErrorIs(err, ErrNotVerified)
		s.True(dErrors.HasCode(err, dErrors.CodeUnprocessable))
	})

	s.Run("latest verification failed", func() {
		asset := s.verified(gold("asset-flip"), true)
		s.verified(asset, false)
		_, err := svc.Mint(s.ctx, "deal-1", asset)
		s.ErrorIs(err, ErrNotVerified)
	})

	s.Empty(s.mintEntries())
}

func (s *TokenizationServiceSuite) TestRevokedAssetNeedsFreshVerification() {
	svc := s.newService(s.ledger, s.trail)
	asset := s.verified(gold("asset-cycle"), true)
	first, err := svc.Mint(s.ctx, "deal-1", asset)
	s.Require().NoError(err)
	s.Require().NoError(svc.Revoke(s.ctx, first.TokenID, "fraud", "compliance-1"))

	s.Run("verification from before the revocation no longer counts", func() {
		_, err := svc.Mint(s.ctx, "deal-2", asset)
		s.ErrorIs(err, ErrNotVerified)
		s.True(dErrors.HasCode(err, dErrors.CodeUnprocessable))
		s.Len(s.mintEntries(), 1)
	})

	s.Run("a new passing verification allows the next token", func() {
		s.verified(asset, true)
		second, err := svc.Mint(s.ctx, "deal-2", asset)
		s.Require().NoError(err)
		s.NotEqual(first.TokenID, second.TokenID)
		s.Equal(first.ProvenanceHash, second.ProvenanceHash)
	})
}

func (s *TokenizationServiceSuite) TestMintRejectsAlteredAsset() {
	svc := s.newService(s.ledger, s.trail)
	asset := s.verified(gold("asset-q"), true)

	s.Run("different owner", func() {
		altered := asset
		altered.Owner = "0xattacker"
		_, err := svc.Mint(s.ctx, "deal-1", altered)
		s.ErrorIs(err, ErrAssetMismatch)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("different attributes", func() {
		altered := asset
		metal := *asset.Metal
		metal.Purity = decimal.RequireFromString("50")
		altered.Metal = &metal
		_, err := svc.Mint(s.ctx, "deal-1", altered)
		s.ErrorIs(err, ErrAssetMismatch)
	})

	s.Run("unregistered asset", func() {
		_, err := svc.Mint(s.ctx, "deal-1", gold("asset-unknown"))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Empty(s.mintEntries())
	_, err := svc.ActiveTokenForAsset(s.ctx, "asset-q")
	s.ErrorIs(err, ErrTokenNotFound)
}

func (s *TokenizationServiceSuite) TestMintInputErrors() {
	svc := s.newService(s.ledger, s.trail)
	asset := s.verified(gold("asset-1"), true)

	_, err := svc.Mint(s.ctx, "", asset)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	bad := asset
	bad.Owner = ""
	_, err = svc.Mint(s.ctx, "deal-1", bad)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *TokenizationServiceSuite) TestConcurrentMintsProduceOneToken() {
	gate := newGatedLedger(s.ledger)
	svc := s.newService(gate, s.trail)
	asset := s.verified(gold("asset-race"), true)

	type outcome struct {
		record *models.TokenRecord
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		record, err := svc.Mint(s.ctx, "deal-1", asset)
		first <- outcome{record, err}
	}()
	<-gate.entered

	const contenders = 9
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Mint(s.ctx, "deal-1", asset)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(gate.release)

	winner := <-first
	s.Require().NoError(winner.err)
	s.Require().Len(errs, contenders)
	for _, err := range errs {
		s.ErrorIs(err, ErrConcurrentMintConflict)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	}
	s.Len(s.mintEntries(), 1)

	_, err := svc.Mint(s.ctx, "deal-1", asset)
	s.ErrorIs(err, ErrAlreadyTokenized)
}

func (s *TokenizationServiceSuite) TestLedgerFailurePersistsNothing() {
	asset := s.verified(gold("asset-1"), true)

	s.Run("call error", func() {
		s.ledger.SetFault(func(string, map[string]string) error { return errors.New("rpc timeout") })
		defer s.ledger.SetFault(nil)

		_, err := s.newService(s.ledger, s.trail).Mint(s.ctx, "deal-1", asset)
		s.ErrorIs(err, ErrLedgerCallFailed)
		s.True(dErrors.HasCode(err, dErrors.CodeBadGateway))
	})

	s.Run("receipt not confirmed", func() {
		ctrl := gomock.NewController(s.T())
		ledger := mocks.NewMockLedgerClient(ctrl)
		ledger.EXPECT().Call(gomock.Any(), contract, ports.MethodMint, gomock.Any()).
			Return(&ports.Receipt{TxHash: "0xreverted", Status: ports.ReceiptFailed}, nil)

		_, err := s.newService(ledger, s.trail).Mint(s.ctx, "deal-1", asset)
		s.ErrorIs(err, ErrLedgerCallFailed)
	})

	s.Run("confirmed receipt without token event", func() {
		ctrl := gomock.NewController(s.T())
		ledger := mocks.NewMockLedgerClient(ctrl)
		ledger.EXPECT().Call(gomock.Any(), contract, ports.MethodMint, gomock.Any()).
			Return(&ports.Receipt{TxHash: "0xnolog", Status: ports.ReceiptConfirmed}, nil)

		_, err := s.newService(ledger, s.trail).Mint(s.ctx, "deal-1", asset)
		s.ErrorIs(err, ErrLedgerCallFailed)
	})

	s.Run("metadata store unavailable", func() {
		ctrl := gomock.NewController(s.T())
		meta := mocks.NewMockMetadataStore(ctrl)
		meta.EXPECT().Put(gomock.Any(), gomock.Any()).Return("", errors.New("bucket unreachable"))
		ledger := mocks.NewMockLedgerClient(ctrl)

		svc, err := New(ledger, contract, meta, s.trail, s.assets, lease.NewInMemoryLease(), WithLogger(s.logger))
		s.Require().NoError(err)
		_, err = svc.Mint(s.ctx, "deal-1", asset)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	_, err := s.trail.FindActiveTokenByAsset(s.ctx, "asset-1")
	s.Error(err)
	s.Empty(s.mintEntries())
}

func (s *TokenizationServiceSuite) TestStoreFailureAfterLedgerMint() {
	asset := s.verified(gold("asset-1"), true)
	svc := s.newService(s.ledger, failingTokenTrail{TrailStore: s.trail})

	_, err := svc.Mint(s.ctx, "deal-1", asset)
	s.ErrorIs(err, audit.ErrAuditUnavailable)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *TokenizationServiceSuite) TestCanceledBeforeMint() {
	svc := s.newService(s.ledger, s.trail)
	asset := s.verified(gold("asset-1"), true)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := svc.Mint(ctx, "deal-1", asset)
	s.ErrorIs(err, context.Canceled)
	s.Empty(s.mintEntries())
}

func (s *TokenizationServiceSuite) TestRevoke() {
	svc := s.newService(s.ledger, s.trail)
	asset := s.verified(gold("asset-1"), true)
	record, err := svc.Mint(s.ctx, "deal-1", asset)
	s.Require().NoError(err)

	s.Require().NoError(svc.Revoke(s.ctx, record.TokenID, "fraud detected", "compliance-1"))

	s.Run("record carries the first revocation", func() {
		got, err := svc.GetToken(s.ctx, record.TokenID)
		s.Require().NoError(err)
		s.True(got.Revoked)
		s.Equal("fraud detected", got.RevocationReason)
		s.Equal("compliance-1", got.RevokedBy)
		s.NotNil(got.RevokedAt)
	})

	s.Run("ledger token revoked", func() {
		revoked, ok := s.ledger.Revoked(contract, record.TokenID)
		s.True(ok)
		s.True(revoked)
	})

	s.Run("asset no longer marked verified", func() {
		got, err := s.assets.Get(s.ctx, "asset-1")
		s.Require().NoError(err)
		s.False(got.Verified)
	})

	s.Run("second revoke keeps the first reason", func() {
		err := svc.Revoke(s.ctx, record.TokenID, "duplicate", "compliance-2")
		s.ErrorIs(err, ErrAlreadyRevoked)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		got, err := svc.GetToken(s.ctx, record.TokenID)
		s.Require().NoError(err)
		s.Equal("fraud detected", got.RevocationReason)
	})

	s.Run("one revoke entry", func() {
		entries, err := s.trail.Query(s.ctx, audit.Filter{Kind: audit.KindRevoke, TokenID: record.TokenID})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("compliance-1", entries[0].Actor)
	})

	s.Run("asset has no active token", func() {
		_, err := svc.ActiveTokenForAsset(s.ctx, "asset-1")
		s.ErrorIs(err, ErrTokenNotFound)
	})
}

func (s *TokenizationServiceSuite) TestConcurrentRevokesHaveOneWinner() {
	svc := s.newService(s.ledger, s.trail)
	asset := s.verified(gold("asset-1"), true)
	record, err := svc.Mint(s.ctx, "deal-1", asset)
	s.Require().NoError(err)

	racer := s.newService(confirmingLedger{}, s.trail)
	const n = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		lost int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := racer.Revoke(s.ctx, record.TokenID, "expired", "ops")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyRevoked):
				lost++
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)
	s.Equal(n-1, lost)
}

func (s *TokenizationServiceSuite) TestRevokeErrors() {
	svc := s.newService(s.ledger, s.trail)

	s.Run("unknown token", func() {
		err := svc.Revoke(s.ctx, "404", "reason", "ops")
		s.ErrorIs(err, ErrTokenNotFound)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("missing arguments", func() {
		s.True(dErrors.HasCode(svc.Revoke(s.ctx, "", "r", "a"), dErrors.CodeInvalidInput))
		s.True(dErrors.HasCode(svc.Revoke(s.ctx, "1", "", "a"), dErrors.CodeInvalidInput))
		s.True(dErrors.HasCode(svc.Revoke(s.ctx, "1", "r", ""), dErrors.CodeInvalidInput))
	})

	s.Run("ledger failure leaves token active", func() {
		asset := s.verified(gold("asset-2"), true)
		record, err := svc.Mint(s.ctx, "deal-1", asset)
		s.Require().NoError(err)

		s.ledger.SetFault(func(method string, _ map[string]string) error {
			if method == ports.MethodRevoke {
				return errors.New("rpc down")
			}
			return nil
		})
		defer s.ledger.SetFault(nil)

		err = svc.Revoke(s.ctx, record.TokenID, "fraud", "ops")
		s.ErrorIs(err, ErrLedgerCallFailed)
		got, err := svc.GetToken(s.ctx, record.TokenID)
		s.Require().NoError(err)
		s.False(got.Revoked)
	})
}
