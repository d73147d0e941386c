package httptransport

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"attestra/internal/audit"
	dErrors "attestra/pkg/domain-errors"
	"attestra/pkg/platform/httputil"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// handleAuditQuery lists audit entries newest first. Labels are passed as
// repeated label=key:value parameters.
func (h *Handler) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit trail unavailable"))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		Kind:      audit.Kind(q.Get("kind")),
		SubjectID: q.Get("subject_id"),
		AssetID:   q.Get("asset_id"),
		DealID:    q.Get("deal_id"),
		TokenID:   q.Get("token_id"),
		Actor:     q.Get("actor"),
		Limit:     defaultAuditLimit,
	}
	switch filter.Kind {
	case "", audit.KindVerification, audit.KindMint, audit.KindRevoke:
	default:
		return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "unknown audit kind "+string(filter.Kind))
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
		}
		filter.Limit = min(n, maxAuditLimit)
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "since must be RFC3339")
		}
		filter.Since = since
	}
	for _, l := range q["label"] {
		k, v, ok := strings.Cut(l, ":")
		if !ok || k == "" {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "label must be key:value")
		}
		if filter.Labels == nil {
			filter.Labels = make(map[string]string)
		}
		filter.Labels[k] = v
	}
	return filter, nil
}
