package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goldBatch() AssetBatch {
	return AssetBatch{
		ID:   "asset-gold-1",
		Type: AssetTypeGold,
		Metal: &MetalAttributes{
			Purity:      decimal.RequireFromString("99.95"),
			WeightGrams: decimal.RequireFromString("1000"),
			Origin:      "Perth Mint",
		},
		CertificateRef: "https://certs.example.com/assay/1",
		Owner:          "owner-1",
	}
}

func TestAssetBatch_Validate(t *testing.T) {
	t.Run("valid metal batch", func(t *testing.T) {
		require.NoError(t, goldBatch().Validate())
	})

	t.Run("purity above 100 rejected", func(t *testing.T) {
		a := goldBatch()
		a.Metal.Purity = decimal.RequireFromString("100.5")
		err := a.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "purity")
	})

	t.Run("missing purity rejected", func(t *testing.T) {
		a := goldBatch()
		a.Metal.Purity = decimal.Decimal{}
		require.Error(t, a.Validate())
	})

	t.Run("metal type without metal attributes rejected", func(t *testing.T) {
		a := goldBatch()
		a.Metal = nil
		err := a.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires metal attributes")
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		a := goldBatch()
		a.Type = "uranium"
		require.Error(t, a.Validate())
	})

	t.Run("certificate ref must be a URI", func(t *testing.T) {
		a := goldBatch()
		a.CertificateRef = "not a uri"
		err := a.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "certificate_ref")
	})

	t.Run("property coordinates bounded", func(t *testing.T) {
		a := AssetBatch{
			ID:   "prop-1",
			Type: AssetTypeResidential,
			Property: &PropertyAttributes{
				Location:  "12 Harbour St",
				SizeSqm:   decimal.NewFromInt(120),
				Valuation: decimal.NewFromInt(450000),
				Latitude:  95,
				Longitude: 10,
			},
			CertificateRef: "ipfs://bafkreideed",
			Owner:          "owner-2",
		}
		err := a.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "latitude")
	})
}

func TestAssetType_Category(t *testing.T) {
	assert.Equal(t, CategoryMetal, AssetTypePlatinum.Category())
	assert.Equal(t, CategoryProperty, AssetTypeLand.Category())
	assert.False(t, AssetType("").IsValid())
}
