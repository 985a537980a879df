// Package api provides the admin-token-protected management surface of
// the gateway: tier inspection, quota controls, analytics read models,
// and the live decision stream.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/mapindex/tollgate/internal/tier"
)

// Tier is the API representation of a tier policy and the route prefixes
// it applies to.
type Tier struct {
	Name          string   `json:"name"`
	MaxRequests   int64    `json:"max_requests"`
	WindowSeconds int64    `json:"window_seconds"`
	Prefixes      []string `json:"prefixes"`
}

// Route is the API representation of one entry in the route table.
type Route struct {
	Prefix string `json:"prefix"`
	Tier   string `json:"tier,omitempty"`
	Exempt bool   `json:"exempt,omitempty"`
}

// TiersHandler serves the read-only view of the static tier table. Tier
// definitions are resolved once at startup and never mutable at runtime.
type TiersHandler struct {
	classifier *tier.Classifier
}

// NewTiersHandler creates a tiers API handler.
func NewTiersHandler(classifier *tier.Classifier) *TiersHandler {
	return &TiersHandler{classifier: classifier}
}

// ServeHTTP handles:
// - GET /admin/tiers
// - GET /admin/tiers/{name}
func (h *TiersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	path := r.URL.Path

	switch {
	case path == "/admin/tiers" || path == "/admin/tiers/":
		h.handleList(w)
	case strings.HasPrefix(path, "/admin/tiers/"):
		name := strings.TrimPrefix(path, "/admin/tiers/")
		if name == "" || strings.Contains(name, "/") {
			http.NotFound(w, r)
			return
		}
		h.handleItem(w, r, name)
	default:
		http.NotFound(w, r)
	}
}

func (h *TiersHandler) handleList(w http.ResponseWriter) {
	routes := h.classifier.Routes()

	tiers := make([]Tier, 0)
	for _, p := range h.classifier.Policies() {
		tiers = append(tiers, Tier{
			Name:          p.Name,
			MaxRequests:   p.MaxRequests,
			WindowSeconds: int64(p.Window.Seconds()),
			Prefixes:      prefixesFor(routes, p.Name),
		})
	}

	routeViews := make([]Route, 0, len(routes))
	for _, rt := range routes {
		routeViews = append(routeViews, Route{Prefix: rt.Prefix, Tier: rt.Tier, Exempt: rt.Exempt})
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"tiers":  tiers,
		"routes": routeViews,
	}})
}

func (h *TiersHandler) handleItem(w http.ResponseWriter, r *http.Request, name string) {
	p, ok := h.classifier.Policy(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "tier not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": Tier{
		Name:          p.Name,
		MaxRequests:   p.MaxRequests,
		WindowSeconds: int64(p.Window.Seconds()),
		Prefixes:      prefixesFor(h.classifier.Routes(), p.Name),
	}})
}

func prefixesFor(routes []tier.Route, tierName string) []string {
	out := make([]string, 0)
	for _, rt := range routes {
		if rt.Tier == tierName {
			out = append(out, rt.Prefix)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Printf("api: failed to encode JSON response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(append(payload, '\n')); err != nil {
		log.Printf("api: failed to write JSON response: %v", err)
	}
}
