package httptransport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	assetmodels "attestra/internal/asset/models"
	oraclemodels "attestra/internal/oracle/models"
	verificationmodels "attestra/internal/verification/models"
	dErrors "attestra/pkg/domain-errors"
	"attestra/pkg/platform/httputil"
	"attestra/pkg/platform/sentinel"
	liststr "attestra/pkg/platform/strings"

	"github.com/go-chi/chi/v5"
)

const maxBatchSize = 100

type verifyBatchRequest struct {
	AssetIDs    []string `json:"asset_ids"`
	Concurrency int      `json:"concurrency"`
}

type verificationResponse struct {
	AssetID           string                        `json:"asset_id"`
	AssetType         assetmodels.AssetType         `json:"asset_type"`
	Verified          bool                          `json:"verified"`
	ReasonCode        verificationmodels.ReasonCode `json:"reason_code,omitempty"`
	Reason            string                        `json:"reason,omitempty"`
	ThresholdUsed     string                        `json:"threshold_used,omitempty"`
	MeetsThreshold    bool                          `json:"meets_threshold"`
	ValuationBand     string                        `json:"valuation_band,omitempty"`
	CertificateDigest string                        `json:"certificate_digest,omitempty"`
	FallbackUsed      bool                          `json:"fallback_used"`
	AttemptedAt       time.Time                     `json:"attempted_at"`
	Oracle            *oraclemodels.Response        `json:"oracle_response,omitempty"`
}

type batchItem struct {
	AssetID string                  `json:"asset_id"`
	Result  *verificationResponse   `json:"result,omitempty"`
	Error   *httputil.ErrorResponse `json:"error,omitempty"`
}

func toVerificationResponse(res *verificationmodels.Result) *verificationResponse {
	out := &verificationResponse{
		AssetID:           res.AssetID,
		AssetType:         res.AssetType,
		Verified:          res.Verified,
		ReasonCode:        res.ReasonCode,
		Reason:            res.Reason,
		MeetsThreshold:    res.MeetsThreshold,
		ValuationBand:     res.ValuationBand,
		CertificateDigest: res.CertificateDigest,
		FallbackUsed:      res.FallbackUsed,
		AttemptedAt:       res.AttemptedAt,
		Oracle:            res.RawResponse,
	}
	if res.ThresholdUsed != nil {
		out.ThresholdUsed = res.ThresholdUsed.String()
	}
	return out
}

// handleRegisterAsset stores an asset batch handed over by the deal module.
func (h *Handler) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var asset assetmodels.AssetBatch
	if err := httputil.DecodeJSON(r, &asset); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := asset.Validate(); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, err.Error()))
		return
	}
	if err := h.assets.Put(r.Context(), asset); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store asset"))
		return
	}
	stored, err := h.assets.Get(r.Context(), asset.ID)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load asset"))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, stored)
}

func (h *Handler) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	asset, err := h.assets.Get(r.Context(), assetID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("asset %s not found", assetID)))
			return
		}
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load asset"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, asset)
}

// handleVerify returns 200 for both passing and failing verifications; the
// outcome is in the body. Errors mean no outcome was recorded.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := h.verification.Verify(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVerificationResponse(res))
}

func (h *Handler) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	var req verifyBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req.AssetIDs = liststr.DedupeAndTrim(req.AssetIDs)
	if len(req.AssetIDs) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "asset_ids is required"))
		return
	}
	if len(req.AssetIDs) > maxBatchSize {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("at most %d assets per batch", maxBatchSize)))
		return
	}

	results, err := h.verification.VerifyBatch(r.Context(), req.AssetIDs, req.Concurrency)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	items := make([]batchItem, 0, len(results))
	for _, res := range results {
		item := batchItem{AssetID: res.AssetID}
		if res.Err != nil {
			code := dErrors.CodeOf(res.Err)
			item.Error = &httputil.ErrorResponse{Error: string(code)}
			if code != dErrors.CodeInternal {
				item.Error.ErrorDescription = res.Err.Error()
			}
		} else {
			item.Result = toVerificationResponse(res.Result)
		}
		items = append(items, item)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": items})
}

func (h *Handler) handleAssetToken(w http.ResponseWriter, r *http.Request) {
	record, err := h.tokens.ActiveTokenForAsset(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}
