// Package admission gates inbound requests at the HTTP boundary: it
// classifies them into tiers, checks the client's quota, and either
// forwards or rejects with a standardized 429.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	tollhttp "github.com/mapindex/tollgate/internal/httputil"
	"github.com/mapindex/tollgate/internal/identity"
	"github.com/mapindex/tollgate/internal/quota"
	"github.com/mapindex/tollgate/internal/tier"
)

// QuotaChecker defines the limiter behavior required by the middleware.
type QuotaChecker interface {
	Check(ctx context.Context, identity string, pol tier.Policy) (quota.Result, error)
}

// Decision records the terminal admission state of one request. Decisions
// are published to an optional sink for analytics, metrics, and streaming.
type Decision struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	ClientKey string    `json:"client_key,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Allowed   bool      `json:"allowed"`
	Exempt    bool      `json:"exempt"`
	Limit     int64     `json:"limit,omitempty"`
	Remaining int64     `json:"remaining,omitempty"`
	Status    int       `json:"status"`
	// Degraded is set when the decision was made fail-open because the
	// quota store was unreachable.
	Degraded bool `json:"degraded,omitempty"`
	// CheckDuration is the time spent deciding, including the store call.
	CheckDuration time.Duration `json:"-"`
}

// Middleware is the admission-control boundary wrapping the upstream
// handler.
type Middleware struct {
	classifier *tier.Classifier
	resolver   *identity.Resolver
	limiter    QuotaChecker
	next       http.Handler
	sink       func(Decision)
}

// Option configures optional Middleware behavior.
type Option func(*Middleware)

// WithDecisionSink configures a callback invoked with every terminal
// decision. The callback must not block.
func WithDecisionSink(sink func(Decision)) Option {
	return func(m *Middleware) {
		m.sink = sink
	}
}

// New creates the admission middleware in front of next.
func New(next http.Handler, classifier *tier.Classifier, resolver *identity.Resolver, limiter QuotaChecker, opts ...Option) (*Middleware, error) {
	if next == nil {
		return nil, fmt.Errorf("admission: next handler is required")
	}
	if classifier == nil {
		return nil, fmt.Errorf("admission: classifier is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("admission: resolver is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("admission: limiter is required")
	}

	m := &Middleware{
		classifier: classifier,
		resolver:   resolver,
		limiter:    limiter,
		next:       next,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// verdict is the request-scoped outcome of classification plus the quota
// check. A request is either exempt or carries a tier decision.
type verdict struct {
	exempt    bool
	tierName  string
	clientKey string
	result    quota.Result
}

// ServeHTTP classifies the request, checks its quota, and forwards or
// rejects. Quota headers are attached whenever a tier applied.
func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	started := time.Now()
	v := m.decide(r)
	elapsed := time.Since(started)

	if v.exempt {
		m.publish(Decision{
			Timestamp:     started.UTC(),
			RequestID:     requestID,
			ClientKey:     v.clientKey,
			Method:        r.Method,
			Path:          r.URL.Path,
			Allowed:       true,
			Exempt:        true,
			Status:        http.StatusOK,
			CheckDuration: elapsed,
		})
		m.next.ServeHTTP(w, r)
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(v.result.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(v.result.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(v.result.ResetAt.Unix(), 10))

	if !v.result.Allowed {
		retryAfter := int64(v.result.RetryAfter.Seconds() + 0.5)
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))

		m.publish(Decision{
			Timestamp:     started.UTC(),
			RequestID:     requestID,
			ClientKey:     v.clientKey,
			Tier:          v.tierName,
			Method:        r.Method,
			Path:          r.URL.Path,
			Allowed:       false,
			Limit:         v.result.Limit,
			Remaining:     v.result.Remaining,
			Status:        http.StatusTooManyRequests,
			CheckDuration: elapsed,
		})

		tollhttp.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":             "rate limit exceeded",
			"tier":              v.tierName,
			"retryAfterSeconds": retryAfter,
		})
		return
	}

	m.publish(Decision{
		Timestamp:     started.UTC(),
		RequestID:     requestID,
		ClientKey:     v.clientKey,
		Tier:          v.tierName,
		Method:        r.Method,
		Path:          r.URL.Path,
		Allowed:       true,
		Limit:         v.result.Limit,
		Remaining:     v.result.Remaining,
		Status:        http.StatusOK,
		Degraded:      v.result.Degraded,
		CheckDuration: elapsed,
	})

	m.next.ServeHTTP(w, r)
}

// decide runs classification, identity resolution, and the quota check.
// Any panic or unexpected limiter error degrades to an exempt verdict so
// the admission layer can never take down unrelated traffic.
func (m *Middleware) decide(r *http.Request) (v verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("admission: panic during quota check, allowing request",
				"path", r.URL.Path, "tier", v.tierName, "panic", rec)
			v = verdict{exempt: true}
		}
	}()

	match := m.classifier.Classify(r.URL.Path)
	if match == nil || match.Exempt {
		return verdict{exempt: true}
	}

	v.tierName = match.Policy.Name
	v.clientKey = m.resolver.Resolve(r.Header)

	result, err := m.limiter.Check(r.Context(), v.clientKey, match.Policy)
	if err != nil {
		// Fail-open conditions are already absorbed inside the limiter;
		// anything surfacing here is unexpected and must not block traffic.
		slog.Error("admission: quota check failed, allowing request",
			"path", r.URL.Path, "tier", v.tierName, "error", err)
		return verdict{exempt: true, tierName: v.tierName, clientKey: v.clientKey}
	}

	v.result = result
	return v
}

func (m *Middleware) publish(d Decision) {
	if m.sink != nil {
		m.sink(d)
	}
}
