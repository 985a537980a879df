package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mapindex/tollgate/internal/quota"
	"github.com/mapindex/tollgate/internal/tier"
)

// QuotaState is the API representation of one client's counter.
type QuotaState struct {
	ClientKey string `json:"client_key"`
	Tier      string `json:"tier"`
	Count     int64  `json:"count"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
}

// QuotaHandler exposes per-client counter inspection and reset. Resetting
// clears a client's counter; it never alters tier policy.
type QuotaHandler struct {
	store      quota.Store
	classifier *tier.Classifier
}

// NewQuotaHandler creates a quota admin handler.
func NewQuotaHandler(store quota.Store, classifier *tier.Classifier) *QuotaHandler {
	return &QuotaHandler{store: store, classifier: classifier}
}

// ServeHTTP handles:
// - GET    /admin/quota/{clientKey}
// - DELETE /admin/quota/{clientKey}
//
// Client keys are tier-prefixed, e.g. "scraper:1.2.3.4".
func (h *QuotaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/admin/quota/")
	if key == "" || key == r.URL.Path {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, key)
	case http.MethodDelete:
		h.handleReset(w, r, key)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (h *QuotaHandler) handleGet(w http.ResponseWriter, r *http.Request, key string) {
	tierName, _, found := strings.Cut(key, ":")
	if !found {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "client key must be tier-prefixed (tier:identity)"})
		return
	}

	pol, ok := h.classifier.Policy(tierName)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "tier not found"})
		return
	}

	count, err := h.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, quota.ErrKeyNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no quota state for client key"})
			return
		}

		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read quota state"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": QuotaState{
		ClientKey: key,
		Tier:      tierName,
		Count:     count,
		Limit:     pol.MaxRequests,
		Remaining: max(0, pol.MaxRequests-count),
	}})
}

func (h *QuotaHandler) handleReset(w http.ResponseWriter, r *http.Request, key string) {
	if err := h.store.Reset(r.Context(), key); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to reset quota state"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
