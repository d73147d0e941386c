package tokenization

import (
	"fmt"
	"strconv"

	assetmodels "attestra/internal/asset/models"
	"attestra/internal/tokenization/models"
	"attestra/internal/verification"
)

// buildMetadata assembles the public metadata document for a token.
func buildMetadata(asset assetmodels.AssetBatch, dealID, provenanceHash string) models.Metadata {
	doc := models.Metadata{
		Name:           fmt.Sprintf("%s %s", asset.Type, asset.ID),
		Description:    fmt.Sprintf("Tokenized %s asset %s under deal %s", asset.Type.Category(), asset.ID, dealID),
		Certificate:    asset.CertificateRef,
		ProvenanceHash: provenanceHash,
		DealID:         dealID,
		Properties: map[string]string{
			"asset_id": asset.ID,
			"owner":    asset.Owner,
		},
	}
	doc.Attributes = append(doc.Attributes, models.MetadataTrait{TraitType: "asset_type", Value: string(asset.Type)})
	if m := asset.Metal; m != nil {
		doc.Attributes = append(doc.Attributes,
			models.MetadataTrait{TraitType: "purity", Value: m.Purity.String()},
			models.MetadataTrait{TraitType: "weight_grams", Value: m.WeightGrams.String()},
			models.MetadataTrait{TraitType: "origin", Value: m.Origin},
		)
	}
	if p := asset.Property; p != nil {
		doc.Attributes = append(doc.Attributes,
			models.MetadataTrait{TraitType: "location", Value: p.Location},
			models.MetadataTrait{TraitType: "size_sqm", Value: p.SizeSqm.String()},
			models.MetadataTrait{TraitType: "valuation_band", Value: verification.ValuationBand(p.Valuation)},
			models.MetadataTrait{TraitType: "coordinates", Value: strconv.FormatFloat(p.Latitude, 'f', -1, 64) +
				"," + strconv.FormatFloat(p.Longitude, 'f', -1, 64)},
		)
	}
	return doc
}
