package verification

import (
	"fmt"
	"os"

	assetmodels "attestra/internal/asset/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ThresholdTable maps a metal asset type to the minimum purity percentage.
type ThresholdTable map[assetmodels.AssetType]decimal.Decimal

// DefaultThresholds returns the built-in purity policy.
func DefaultThresholds() ThresholdTable {
	return ThresholdTable{
		assetmodels.AssetTypeGold:      decimal.RequireFromString("99.9"),
		assetmodels.AssetTypePlatinum:  decimal.RequireFromString("99.95"),
		assetmodels.AssetTypeSilver:    decimal.RequireFromString("99.0"),
		assetmodels.AssetTypePalladium: decimal.RequireFromString("99.95"),
	}
}

// Lookup returns the threshold for t.
func (t ThresholdTable) Lookup(assetType assetmodels.AssetType) (decimal.Decimal, bool) {
	d, ok := t[assetType]
	return d, ok
}

type thresholdFile struct {
	Thresholds map[string]string `yaml:"thresholds"`
}

// LoadThresholds reads a YAML table of the form
//
//	thresholds:
//	  gold: "99.9"
//	  silver: "99.0"
//
// Values are decimal strings so no precision is lost. Only metal types are
// accepted.
func LoadThresholds(path string) (ThresholdTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read threshold file: %w", err)
	}
	return ParseThresholds(raw)
}

// ParseThresholds decodes a YAML threshold table.
func ParseThresholds(raw []byte) (ThresholdTable, error) {
	var f thresholdFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode threshold file: %w", err)
	}
	table := make(ThresholdTable, len(f.Thresholds))
	for name, value := range f.Thresholds {
		t := assetmodels.AssetType(name)
		if t.Category() != assetmodels.CategoryMetal {
			return nil, fmt.Errorf("threshold for %q: not a metal asset type", name)
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("threshold for %q: %w", name, err)
		}
		if d.LessThanOrEqual(decimal.Zero) || d.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("threshold for %q must be in (0, 100], got %s", name, d)
		}
		table[t] = d
	}
	return table, nil
}

// Valuation band labels for property assets (USD).
const (
	BandUnder100K  = "<$100k"
	Band100KTo500K = "$100k-$500k"
	Band500KTo1M   = "$500k-$1M"
	Band1MTo5M     = "$1M-$5M"
	BandOver5M     = ">$5M"
)

var (
	bound100K = decimal.NewFromInt(100_000)
	bound500K = decimal.NewFromInt(500_000)
	bound1M   = decimal.NewFromInt(1_000_000)
	bound5M   = decimal.NewFromInt(5_000_000)
)

// ValuationBand labels a property valuation. The bands below $1M include
// their lower bound; $1M-$5M includes both ends, so only values above $5M
// are labelled over $5M.
func ValuationBand(valuation decimal.Decimal) string {
	switch {
	case valuation.LessThan(bound100K):
		return BandUnder100K
	case valuation.LessThan(bound500K):
		return Band100KTo500K
	case valuation.LessThan(bound1M):
		return Band500KTo1M
	case valuation.LessThanOrEqual(bound5M):
		return Band1MTo5M
	default:
		return BandOver5M
	}
}
