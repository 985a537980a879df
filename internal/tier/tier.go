// Package tier defines the static rate-limit tiers and the path
// classifier that assigns inbound requests to them.
package tier

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Policy is a named quota configuration. Policies are defined at process
// start and immutable thereafter.
type Policy struct {
	// Name identifies the tier (used in client keys and quota headers).
	Name string
	// MaxRequests is the number of requests allowed per Window.
	MaxRequests int64
	// Window is the fixed counting window.
	Window time.Duration
}

// Route maps a path prefix to a tier, or marks it exempt from limiting.
type Route struct {
	// Prefix is the path prefix to match, starting with "/".
	Prefix string
	// Tier names the policy applied to matching paths. Empty for exempt routes.
	Tier string
	// Exempt marks the prefix as never rate limited (operational
	// namespaces authenticated by other means).
	Exempt bool
}

// Match is the classification outcome for a single request path.
type Match struct {
	// Policy is the tier policy to enforce. Zero value for exempt matches.
	Policy Policy
	// Prefix is the route prefix that matched.
	Prefix string
	// Exempt indicates the path is under an exempt namespace.
	Exempt bool
}

// Classifier assigns request paths to tiers by longest-prefix match
// against a fixed ordered route table. Pure lookups, no I/O.
type Classifier struct {
	routes   []Route
	policies map[string]Policy
}

// DefaultPolicies returns the built-in tier table. The scraping-ingestion
// namespace gets the strictest tier; search, map data, and the generic API
// namespace get progressively looser budgets.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: "scraper", MaxRequests: 5, Window: time.Minute},
		{Name: "search", MaxRequests: 30, Window: time.Minute},
		{Name: "map", MaxRequests: 60, Window: time.Minute},
		{Name: "standard", MaxRequests: 120, Window: time.Minute},
	}
}

// DefaultRoutes returns the built-in prefix-to-tier table. The cron
// namespace is exempt because it is authenticated upstream by a shared
// secret rather than by client identity.
func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "/api/cron/", Exempt: true},
		{Prefix: "/api/scrape/", Tier: "scraper"},
		{Prefix: "/api/search/", Tier: "search"},
		{Prefix: "/api/map-data/", Tier: "map"},
		{Prefix: "/api/", Tier: "standard"},
	}
}

// NewClassifier validates the policy and route tables and returns a
// Classifier. Routes are ordered longest prefix first so the most
// specific namespace wins.
func NewClassifier(policies []Policy, routes []Route) (*Classifier, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("tier: at least one policy is required")
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("tier: at least one route is required")
	}

	byName := make(map[string]Policy, len(policies))
	for _, p := range policies {
		if p.Name == "" {
			return nil, fmt.Errorf("tier: policy name is required")
		}
		if p.MaxRequests <= 0 {
			return nil, fmt.Errorf("tier: policy %q: max requests must be greater than 0", p.Name)
		}
		if p.Window <= 0 {
			return nil, fmt.Errorf("tier: policy %q: window must be greater than 0", p.Name)
		}
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("tier: duplicate policy %q", p.Name)
		}
		byName[p.Name] = p
	}

	seen := make(map[string]bool, len(routes))
	ordered := make([]Route, 0, len(routes))
	for _, r := range routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("tier: route prefix %q must start with /", r.Prefix)
		}
		if seen[r.Prefix] {
			return nil, fmt.Errorf("tier: duplicate route prefix %q", r.Prefix)
		}
		seen[r.Prefix] = true

		if r.Exempt {
			if r.Tier != "" {
				return nil, fmt.Errorf("tier: exempt route %q must not name a tier", r.Prefix)
			}
		} else if _, ok := byName[r.Tier]; !ok {
			return nil, fmt.Errorf("tier: route %q references unknown tier %q", r.Prefix, r.Tier)
		}

		ordered = append(ordered, r)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Prefix) > len(ordered[j].Prefix)
	})

	return &Classifier{routes: ordered, policies: byName}, nil
}

// Classify returns the tier match for a request path, or nil when no
// route applies and the path must not be limited at all.
func (c *Classifier) Classify(path string) *Match {
	for _, r := range c.routes {
		if !prefixMatches(path, r.Prefix) {
			continue
		}

		if r.Exempt {
			return &Match{Prefix: r.Prefix, Exempt: true}
		}

		return &Match{Policy: c.policies[r.Tier], Prefix: r.Prefix}
	}

	return nil
}

// Policy returns the named tier policy.
func (c *Classifier) Policy(name string) (Policy, bool) {
	p, ok := c.policies[name]
	return p, ok
}

// Policies returns all tier policies sorted by name.
func (c *Classifier) Policies() []Policy {
	out := make([]Policy, 0, len(c.policies))
	for _, p := range c.policies {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out
}

// Routes returns the route table in match order.
func (c *Classifier) Routes() []Route {
	return append([]Route(nil), c.routes...)
}

// prefixMatches reports whether path falls under prefix. A path equal to
// the prefix minus its trailing slash also matches, so "/api/search"
// classifies the same as "/api/search/".
func prefixMatches(path, prefix string) bool {
	if strings.HasPrefix(path, prefix) {
		return true
	}

	return strings.HasSuffix(prefix, "/") && path == strings.TrimSuffix(prefix, "/")
}
