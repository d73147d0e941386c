package httptransport

import (
	"errors"
	"fmt"
	"net/http"

	dErrors "attestra/pkg/domain-errors"
	"attestra/pkg/platform/httputil"
	"attestra/pkg/platform/sentinel"
	"attestra/pkg/requestcontext"

	"github.com/go-chi/chi/v5"
)

type mintRequest struct {
	DealID  string `json:"deal_id"`
	AssetID string `json:"asset_id"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.AssetID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "asset_id is required"))
		return
	}
	asset, err := h.assets.Get(r.Context(), req.AssetID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("asset %s not found", req.AssetID)))
			return
		}
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load asset"))
		return
	}

	record, err := h.tokens.Mint(r.Context(), req.DealID, *asset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleGetToken(w http.ResponseWriter, r *http.Request) {
	record, err := h.tokens.GetToken(r.Context(), chi.URLParam(r, "tokenID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := h.tokens.Mapping(r.Context(), chi.URLParam(r, "tokenID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mapping)
}

// handleRevoke revokes as the authenticated caller.
func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	tokenID := chi.URLParam(r, "tokenID")
	actor := requestcontext.Actor(r.Context())
	if err := h.tokens.Revoke(r.Context(), tokenID, req.Reason, actor); err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.tokens.GetToken(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}
