package models

import (
	"github.com/shopspring/decimal"
)

// AssetType enumerates the real-world asset classes this core can tokenize.
type AssetType string

const (
	AssetTypeGold      AssetType = "gold"
	AssetTypeSilver    AssetType = "silver"
	AssetTypePlatinum  AssetType = "platinum"
	AssetTypePalladium AssetType = "palladium"

	AssetTypeResidential AssetType = "residential"
	AssetTypeCommercial  AssetType = "commercial"
	AssetTypeLand        AssetType = "land"
)

// Category groups asset types by the attribute schema they carry.
type Category string

const (
	CategoryMetal    Category = "metal"
	CategoryProperty Category = "property"
	CategoryUnknown  Category = "unknown"
)

// Category returns the attribute schema family for t.
func (t AssetType) Category() Category {
	switch t {
	case AssetTypeGold, AssetTypeSilver, AssetTypePlatinum, AssetTypePalladium:
		return CategoryMetal
	case AssetTypeResidential, AssetTypeCommercial, AssetTypeLand:
		return CategoryProperty
	default:
		return CategoryUnknown
	}
}

// IsValid reports whether t is a known asset type.
func (t AssetType) IsValid() bool {
	return t.Category() != CategoryUnknown
}

func (t AssetType) String() string { return string(t) }

// MetalAttributes describe an assayed metal batch. Purity is a percentage.
type MetalAttributes struct {
	Purity      decimal.Decimal `json:"purity" validate:"required,gt=0,lte=100"`
	WeightGrams decimal.Decimal `json:"weight_grams" validate:"required,gt=0"`
	Origin      string          `json:"origin" validate:"required"`
}

// PropertyAttributes describe a deeded property. Valuation is in USD.
type PropertyAttributes struct {
	Location  string          `json:"location" validate:"required"`
	SizeSqm   decimal.Decimal `json:"size_sqm" validate:"required,gt=0"`
	Valuation decimal.Decimal `json:"valuation" validate:"required,gt=0"`
	Latitude  float64         `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64         `json:"longitude" validate:"gte=-180,lte=180"`
}

// AssetBatch is one unit of a real-world asset as supplied by the deal module.
// Exactly one of Metal or Property is set, matching Type.Category().
//
// Verified is derived: only the verification service sets it, and revocation
// clears it. It is not authoritative without a verification audit entry.
type AssetBatch struct {
	ID             string              `json:"asset_id" validate:"required"`
	Type           AssetType           `json:"asset_type" validate:"required"`
	Metal          *MetalAttributes    `json:"metal,omitempty"`
	Property       *PropertyAttributes `json:"property,omitempty"`
	CertificateRef string              `json:"certificate_ref" validate:"required,uri"`
	Owner          string              `json:"owner" validate:"required"`
	Verified       bool                `json:"verified"`
}
