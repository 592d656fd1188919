package taxonomy

import (
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
)

// Match is a resolved label and the strategy that produced it.
type Match struct {
	Species  Species
	Strategy string
}

// Lookup resolves a classifier label. Resolution is best effort; a miss is
// reported with ok=false rather than an error.
type Lookup interface {
	Resolve(label string) (Match, bool)
}

// Resolver runs an ordered chain of matchers against a catalog.
type Resolver struct {
	catalog  *Catalog
	matchers []Matcher
	metrics  *Metrics
	logger   *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMatchers replaces the default chain.
func WithMatchers(matchers ...Matcher) ResolverOption {
	return func(r *Resolver) { r.matchers = matchers }
}

// WithMetrics records resolution outcomes.
func WithMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver over catalog using DefaultMatchers unless overridden.
func NewResolver(catalog *Catalog, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		catalog:  catalog,
		matchers: DefaultMatchers(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strategies returns the names of the configured matchers in order.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.matchers))
	for i, m := range r.matchers {
		names[i] = m.Name()
	}
	return names
}

// Resolve returns the first hit of the matcher chain.
func (r *Resolver) Resolve(label string) (Match, bool) {
	query := Normalize(label)
	if query == "" {
		r.observe(StrategyNone)
		return Match{}, false
	}

	for _, m := range r.matchers {
		if s, ok := m.Match(query, r.catalog.All()); ok {
			r.observe(m.Name())
			r.logger.Debug("taxonomy resolved",
				"label", label,
				"species_id", s.ID,
				"strategy", m.Name())
			return Match{Species: s, Strategy: m.Name()}, true
		}
	}

	r.observe(StrategyNone)
	r.logger.Debug("taxonomy unresolved", "label", label)
	return Match{}, false
}

func (r *Resolver) observe(strategy string) {
	if r.metrics != nil {
		r.metrics.IncResolutions(strategy)
	}
}

// DefaultCacheTTL is how long CachedResolver keeps a lookup.
const DefaultCacheTTL = 30 * time.Minute

type cachedLookup struct {
	match Match
	ok    bool
}

// CachedResolver memoizes another Lookup by normalized label. Misses are
// cached too, since the catalog does not change while the process runs.
type CachedResolver struct {
	next    Lookup
	cache   *cache.Cache
	metrics *Metrics
}

// NewCachedResolver wraps next with a go-cache store. A ttl of zero uses DefaultCacheTTL.
func NewCachedResolver(next Lookup, ttl time.Duration, metrics *Metrics) *CachedResolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedResolver{
		next:    next,
		cache:   cache.New(ttl, ttl*2),
		metrics: metrics,
	}
}

// Resolve returns the cached result for label, resolving it on a miss.
func (c *CachedResolver) Resolve(label string) (Match, bool) {
	key := Normalize(label)
	if cached, found := c.cache.Get(key); found {
		if c.metrics != nil {
			c.metrics.IncCache(true)
		}
		entry := cached.(cachedLookup)
		return entry.match, entry.ok
	}
	if c.metrics != nil {
		c.metrics.IncCache(false)
	}

	match, ok := c.next.Resolve(label)
	c.cache.Set(key, cachedLookup{match: match, ok: ok}, cache.DefaultExpiration)
	return match, ok
}

// Len returns the number of cached lookups.
func (c *CachedResolver) Len() int {
	return c.cache.ItemCount()
}
