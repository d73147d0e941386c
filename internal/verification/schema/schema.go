// Package schema checks an untrusted oracle response against the attribute
// schema of the asset it claims to describe.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	assetmodels "attestra/internal/asset/models"
	oraclemodels "attestra/internal/oracle/models"
)

// Claims are the attributes the oracle attested, decoded and validated.
type Claims struct {
	Type     assetmodels.AssetType
	Metal    *assetmodels.MetalAttributes
	Property *assetmodels.PropertyAttributes
}

type envelope struct {
	AssetID          string `json:"assetId" validate:"required"`
	AssetType        string `json:"assetType" validate:"required"`
	IssuingAuthority string `json:"issuingAuthority" validate:"required"`
	CertificateRef   string `json:"certificateRef" validate:"omitempty,uri"`
}

// Validate decodes resp.Attributes for the declared asset type. The response
// must name the same asset id and type as asset.
func Validate(resp *oraclemodels.Response, asset *assetmodels.AssetBatch) (*Claims, error) {
	if resp == nil {
		return nil, errors.New("oracle response is empty")
	}
	if asset == nil {
		return nil, errors.New("asset is required")
	}
	err := assetmodels.ValidateStruct(envelope{
		AssetID:          resp.AssetID,
		AssetType:        resp.AssetType,
		IssuingAuthority: resp.IssuingAuthority,
		CertificateRef:   resp.CertificateRef,
	})
	if err != nil {
		return nil, err
	}
	if resp.AssetID != asset.ID {
		return nil, fmt.Errorf("response describes asset %q, expected %q", resp.AssetID, asset.ID)
	}
	declared := assetmodels.AssetType(resp.AssetType)
	if !declared.IsValid() {
		return nil, fmt.Errorf("unknown asset type %q", resp.AssetType)
	}
	if declared != asset.Type {
		return nil, fmt.Errorf("response asset type %q does not match %q", declared, asset.Type)
	}
	if len(bytes.TrimSpace(resp.Attributes)) == 0 {
		return nil, errors.New("response carries no attributes")
	}

	claims := &Claims{Type: declared}
	switch declared.Category() {
	case assetmodels.CategoryMetal:
		var m assetmodels.MetalAttributes
		if err := json.Unmarshal(resp.Attributes, &m); err != nil {
			return nil, fmt.Errorf("decode metal attributes: %w", err)
		}
		claims.Metal = &m
	case assetmodels.CategoryProperty:
		var p assetmodels.PropertyAttributes
		if err := json.Unmarshal(resp.Attributes, &p); err != nil {
			return nil, fmt.Errorf("decode property attributes: %w", err)
		}
		claims.Property = &p
	}
	if err := assetmodels.ValidateAttributes(declared, claims.Metal, claims.Property); err != nil {
		return nil, err
	}
	return claims, nil
}
