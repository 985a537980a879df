// Package proxy forwards admitted requests to the upstream content API.
package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	tollhttp "github.com/mapindex/tollgate/internal/httputil"
)

// Proxy is a reverse proxy to the upstream content API. It performs no
// admission logic itself; the admission middleware wraps it.
type Proxy struct {
	proxy *httputil.ReverseProxy
}

// New creates a proxy targeting the provided upstream URL.
func New(target *url.URL) (*Proxy, error) {
	if target == nil {
		return nil, fmt.Errorf("proxy: target URL is required")
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("proxy: target URL scheme must be http or https, got %q", target.Scheme)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("proxy: target URL must include a host")
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
		slog.Error("proxy: upstream error", "error", err)
		tollhttp.WriteJSON(w, http.StatusBadGateway, map[string]string{
			"error": "bad gateway",
		})
	}

	return &Proxy{proxy: rp}, nil
}

// ServeHTTP forwards the request to the upstream unchanged.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}
