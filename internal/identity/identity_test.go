package identity

import (
	"net/http"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "forwarded-for first hop",
			headers: map[string]string{"X-Forwarded-For": "8.8.8.8, 10.0.0.1, 172.16.0.1"},
			want:    "8.8.8.8",
		},
		{
			name:    "forwarded-for single value",
			headers: map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:    "1.2.3.4",
		},
		{
			name:    "forwarded-for trims whitespace",
			headers: map[string]string{"X-Forwarded-For": "  1.2.3.4 , 10.0.0.1"},
			want:    "1.2.3.4",
		},
		{
			name:    "real-ip fallback",
			headers: map[string]string{"X-Real-IP": "5.6.7.8"},
			want:    "5.6.7.8",
		},
		{
			name: "forwarded-for wins over real-ip",
			headers: map[string]string{
				"X-Forwarded-For": "1.2.3.4",
				"X-Real-IP":       "5.6.7.8",
			},
			want: "1.2.3.4",
		},
		{
			name:    "empty forwarded-for falls through",
			headers: map[string]string{"X-Forwarded-For": "   ", "X-Real-IP": "5.6.7.8"},
			want:    "5.6.7.8",
		},
		{
			name: "no headers pools into unknown",
			want: Unknown,
		},
		{
			name:    "forwarded-for of only commas pools into unknown",
			headers: map[string]string{"X-Forwarded-For": ", ,"},
			want:    Unknown,
		},
	}

	r := NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}

			if got := r.Resolve(h); got != tt.want {
				t.Fatalf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolvePrincipalHeader(t *testing.T) {
	r := NewResolver(WithPrincipalHeader("X-API-Key"))

	h := http.Header{}
	h.Set("X-API-Key", "abc123")
	h.Set("X-Forwarded-For", "1.2.3.4")

	if got := r.Resolve(h); got != "key:abc123" {
		t.Fatalf("expected principal to win over IP, got %q", got)
	}

	// Without the principal header the usual fallback applies.
	h.Del("X-API-Key")
	if got := r.Resolve(h); got != "1.2.3.4" {
		t.Fatalf("expected IP fallback, got %q", got)
	}

	// Blank principal values are ignored.
	h.Set("X-API-Key", "   ")
	if got := r.Resolve(h); got != "1.2.3.4" {
		t.Fatalf("expected blank principal to be ignored, got %q", got)
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	r := NewResolver(WithPrincipalHeader("X-API-Key"))

	if got := r.Resolve(http.Header{}); got == "" {
		t.Fatal("Resolve returned empty string")
	}
}
