// Package identity derives stable client keys from request metadata.
package identity

import (
	"net/http"
	"strings"
)

// Unknown is the pooled bucket for clients that cannot be identified.
// All such clients share one counter, which is accepted imprecision.
const Unknown = "unknown"

// Resolver extracts a best-effort stable identity string from request
// headers. It never fails; absence of every identifying header yields
// the Unknown sentinel.
type Resolver struct {
	principalHeader string
}

// Option configures optional Resolver behavior.
type Option func(*Resolver)

// WithPrincipalHeader configures a header carrying an authenticated
// principal (for example an API key). When present its value takes
// precedence over IP-based identification.
func WithPrincipalHeader(name string) Option {
	return func(r *Resolver) {
		r.principalHeader = strings.TrimSpace(name)
	}
}

// NewResolver creates a client identity resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the client key for a request. The gateway is assumed to
// sit behind a load balancer, so X-Forwarded-For (first hop) is checked
// before X-Real-IP; RemoteAddr would only ever name the balancer.
func (r *Resolver) Resolve(h http.Header) string {
	if r.principalHeader != "" {
		if principal := strings.TrimSpace(h.Get(r.principalHeader)); principal != "" {
			return "key:" + principal
		}
	}

	if xff := strings.TrimSpace(h.Get("X-Forwarded-For")); xff != "" {
		first := xff
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			first = xff[:idx]
		}
		if candidate := strings.TrimSpace(first); candidate != "" {
			return candidate
		}
	}

	if realIP := strings.TrimSpace(h.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	return Unknown
}
