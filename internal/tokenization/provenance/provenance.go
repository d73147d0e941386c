// Package provenance computes the deterministic fingerprint of an asset that
// is written on the ledger next to its token.
package provenance

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	assetmodels "attestra/internal/asset/models"

	"golang.org/x/crypto/sha3"
)

// Canonical returns the sorted-key JSON encoding of the asset fields that
// identify it: id, owner, type and type-specific attributes. Decimals are
// rendered as strings so equal values always encode the same way.
func Canonical(asset assetmodels.AssetBatch) ([]byte, error) {
	doc := map[string]any{
		"id":         asset.ID,
		"owner":      asset.Owner,
		"type":       string(asset.Type),
		"attributes": attributes(asset),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode provenance document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the 0x-prefixed Keccak-256 of the canonical encoding.
func Hash(asset assetmodels.AssetBatch) (string, error) {
	canonical, err := Canonical(asset)
	if err != nil {
		return "", err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(canonical)
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

func attributes(asset assetmodels.AssetBatch) map[string]string {
	attrs := map[string]string{}
	if m := asset.Metal; m != nil {
		attrs["purity"] = m.Purity.String()
		attrs["weight_grams"] = m.WeightGrams.String()
		attrs["origin"] = m.Origin
	}
	if p := asset.Property; p != nil {
		attrs["location"] = p.Location
		attrs["size_sqm"] = p.SizeSqm.String()
		attrs["valuation"] = p.Valuation.String()
		attrs["latitude"] = strconv.FormatFloat(p.Latitude, 'f', -1, 64)
		attrs["longitude"] = strconv.FormatFloat(p.Longitude, 'f', -1, 64)
	}
	return attrs
}
