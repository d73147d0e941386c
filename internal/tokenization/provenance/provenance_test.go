package provenance

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	assetmodels "attestra/internal/asset/models"
)

func gold() assetmodels.AssetBatch {
	return assetmodels.AssetBatch{
		ID:   "asset-1",
		Type: assetmodels.AssetTypeGold,
		Metal: &assetmodels.MetalAttributes{
			Purity:      decimal.RequireFromString("99.99"),
			WeightGrams: decimal.RequireFromString("1000"),
			Origin:      "CH",
		},
		CertificateRef: "ipfs://cert",
		Owner:          "owner-1",
	}
}

func TestCanonical(t *testing.T) {
	raw, err := Canonical(gold())
	require.NoError(t, err)
	assert.Equal(t,
		`{"attributes":{"origin":"CH","purity":"99.99","weight_grams":"1000"},"id":"asset-1","owner":"owner-1","type":"gold"}`,
		string(raw))
}

func TestHash(t *testing.T) {
	t.Run("is keccak256 of canonical bytes", func(t *testing.T) {
		raw, err := Canonical(gold())
		require.NoError(t, err)
		h := sha3.NewLegacyKeccak256()
		h.Write(raw)

		got, err := Hash(gold())
		require.NoError(t, err)
		assert.Equal(t, "0x"+hex.EncodeToString(h.Sum(nil)), got)
		assert.Len(t, got, 66)
	})

	t.Run("deterministic and ignores non-identifying fields", func(t *testing.T) {
		a := gold()
		b := gold()
		b.Verified = true
		b.CertificateRef = "ipfs://other"
		b.Metal.Purity = decimal.RequireFromString("99.990")

		ha, err := Hash(a)
		require.NoError(t, err)
		hb, err := Hash(b)
		require.NoError(t, err)
		assert.Equal(t, ha, hb)
	})

	t.Run("owner change changes the hash", func(t *testing.T) {
		a := gold()
		b := gold()
		b.Owner = "owner-2"
		ha, _ := Hash(a)
		hb, _ := Hash(b)
		assert.NotEqual(t, ha, hb)
		assert.True(t, strings.HasPrefix(ha, "0x"))
	})
}
