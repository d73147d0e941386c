package verification

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	assetmodels "attestra/internal/asset/models"
)

func TestParseThresholds(t *testing.T) {
	t.Run("decimal strings keep precision", func(t *testing.T) {
		table, err := ParseThresholds([]byte("thresholds:\n  gold: \"99.99\"\n  silver: \"99.5\"\n"))
		require.NoError(t, err)
		gold, ok := table.Lookup(assetmodels.AssetTypeGold)
		require.True(t, ok)
		assert.True(t, gold.Equal(decimal.RequireFromString("99.99")))
		_, ok = table.Lookup(assetmodels.AssetTypePlatinum)
		assert.False(t, ok)
	})

	t.Run("property types rejected", func(t *testing.T) {
		_, err := ParseThresholds([]byte("thresholds:\n  land: \"50\"\n"))
		assert.Error(t, err)
	})

	t.Run("out of range rejected", func(t *testing.T) {
		_, err := ParseThresholds([]byte("thresholds:\n  gold: \"100.1\"\n"))
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		d := DefaultThresholds()
		assert.Equal(t, "99.9", d[assetmodels.AssetTypeGold].String())
		assert.Equal(t, "99.95", d[assetmodels.AssetTypePlatinum].String())
		assert.Equal(t, "99", d[assetmodels.AssetTypeSilver].String())
		assert.Equal(t, "99.95", d[assetmodels.AssetTypePalladium].String())
	})
}

func TestValuationBand(t *testing.T) {
	cases := map[int64]string{
		99_999:    BandUnder100K,
		100_000:   Band100KTo500K,
		499_999:   Band100KTo500K,
		500_000:   Band500KTo1M,
		1_000_000: Band1MTo5M,
		5_000_000: Band1MTo5M,
		5_000_001: BandOver5M,
	}
	for valuation, want := range cases {
		assert.Equal(t, want, ValuationBand(decimal.NewFromInt(valuation)), "valuation %d", valuation)
	}
	assert.Equal(t, Band1MTo5M, ValuationBand(decimal.RequireFromString("5000000.00")))
	assert.Equal(t, BandOver5M, ValuationBand(decimal.RequireFromString("5000000.01")))
	assert.Equal(t, Band500KTo1M, ValuationBand(decimal.RequireFromString("999999.99")))
}

func TestValidCertificateHash(t *testing.T) {
	good := "0x" + hex.EncodeToString(make([]byte, 32))
	assert.True(t, ValidCertificateHash(good))
	assert.False(t, ValidCertificateHash(good[2:]))
	assert.False(t, ValidCertificateHash(good+"00"))
	assert.False(t, ValidCertificateHash("0x"+string(make([]byte, 64))))
}

func TestSignerRegistry(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	reg, err := ParseSignerKeys(map[string]string{"registry": hex.EncodeToString(pub)})
	require.NoError(t, err)

	hash := make([]byte, 32)
	hash[0] = 0xab
	docHash := "0x" + hex.EncodeToString(hash)
	sig := hex.EncodeToString(ed25519.Sign(priv, hash))

	assert.NoError(t, reg.VerifyDocument("registry", docHash, sig))
	assert.Error(t, reg.VerifyDocument("other", docHash, sig))
	assert.Error(t, reg.VerifyDocument("registry", "0xdead", sig))
	assert.Error(t, reg.VerifyDocument("registry", docHash, "zz"))

	hash[0] = 0xac
	assert.Error(t, reg.VerifyDocument("registry", "0x"+hex.EncodeToString(hash), sig))

	_, err = ParseSignerKeys(map[string]string{"short": "abcd"})
	assert.Error(t, err)
}

func TestHTTPCertificateFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ipfs/bafkcert":
			_, _ = w.Write([]byte("certificate"))
		case "/ipfs/bafkexact":
			_, _ = w.Write(bytes.Repeat([]byte("a"), maxCertificateBytes))
		case "/ipfs/bafkhuge":
			_, _ = w.Write(bytes.Repeat([]byte("a"), maxCertificateBytes+1))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPCertificateFetcher(srv.URL+"/ipfs", time.Second)

	t.Run("ipfs references go through the gateway", func(t *testing.T) {
		resolved, err := f.Resolve("ipfs://bafkcert")
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/ipfs/bafkcert", resolved)

		body, err := f.Fetch(context.Background(), "ipfs://bafkcert")
		require.NoError(t, err)
		assert.Equal(t, "certificate", string(body))
	})

	t.Run("missing document is an error", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), srv.URL+"/nope")
		assert.Error(t, err)
	})

	t.Run("body at the size limit is read whole", func(t *testing.T) {
		body, err := f.Fetch(context.Background(), "ipfs://bafkexact")
		require.NoError(t, err)
		assert.Len(t, body, maxCertificateBytes)
	})

	t.Run("oversized body is rejected rather than truncated", func(t *testing.T) {
		body, err := f.Fetch(context.Background(), "ipfs://bafkhuge")
		assert.ErrorIs(t, err, ErrCertificateTooLarge)
		assert.Nil(t, body)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := f.Resolve("ftp://example/cert")
		assert.Error(t, err)
	})
}
