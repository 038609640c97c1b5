// Package cache holds serialized query results for a short time. Writers
// invalidate by key prefix; the memory implementation keeps a key registry
// so prefix removal does not scan unrelated entries.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Key prefixes of the cached listings.
const (
	PrefixBooks      = "books_"
	PrefixAuthors    = "authors_"
	PrefixCategories = "categories_"
)

// TTLs of the cached listings.
const (
	BooksTTL      = 5 * time.Minute
	AuthorsTTL    = 10 * time.Minute
	CategoriesTTL = 10 * time.Minute
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Remove(ctx context.Context, key string)
	RemoveByPrefix(ctx context.Context, prefix string)
}

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is a process-local Cache.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	// registry indexes live keys by their prefix up to the first '_'
	registry map[string]map[string]struct{}
	now      func() time.Time

	invalidations metric.Int64Counter
}

type Option func(*Memory)

func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

func WithMeter(meter metric.Meter) Option {
	return func(m *Memory) {
		m.invalidations, _ = meter.Int64Counter("cache.invalidations",
			metric.WithDescription("Entries removed by prefix invalidation"))
	}
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries:  make(map[string]entry),
		registry: make(map[string]map[string]struct{}),
		now:      time.Now,
	}
	WithMeter(otel.Meter("shelfwise/cache"))(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func group(key string) string {
	if i := strings.IndexByte(key, '_'); i >= 0 {
		return key[:i+1]
	}
	return key
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expires) {
		m.drop(key)
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{value: value, expires: m.now().Add(ttl)}
	g := group(key)
	if m.registry[g] == nil {
		m.registry[g] = make(map[string]struct{})
	}
	m.registry[g][key] = struct{}{}
}

func (m *Memory) Remove(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop(key)
}

// RemoveByPrefix drops every entry whose key starts with prefix.
func (m *Memory) RemoveByPrefix(ctx context.Context, prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.registry[group(prefix)] {
		if strings.HasPrefix(key, prefix) {
			m.drop(key)
			removed++
		}
	}
	m.invalidations.Add(ctx, int64(removed), metric.WithAttributes(attribute.String("cache.prefix", prefix)))
}

func (m *Memory) drop(key string) {
	delete(m.entries, key)
	g := group(key)
	delete(m.registry[g], key)
	if len(m.registry[g]) == 0 {
		delete(m.registry, g)
	}
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ Cache = (*Memory)(nil)

var json = jsoniter.ConfigFastest

// Metrics counts cache-aside lookups.
type Metrics struct {
	hits   metric.Int64Counter
	misses metric.Int64Counter
}

func NewMetrics(meter metric.Meter) *Metrics {
	hits, _ := meter.Int64Counter("cache.hits", metric.WithDescription("Cache-aside lookups served from cache"))
	misses, _ := meter.Int64Counter("cache.misses", metric.WithDescription("Cache-aside lookups that ran the loader"))
	return &Metrics{hits: hits, misses: misses}
}

var defaultMetrics = NewMetrics(otel.Meter("shelfwise/cache"))

// Query is the cache-aside read: a hit decodes the stored value, a miss runs
// load and stores its result. Decode and encode failures fall back to the
// loader; loader errors are returned and nothing is stored.
func Query[T any](ctx context.Context, c Cache, m *Metrics, log *slog.Logger, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if m == nil {
		m = defaultMetrics
	}
	if log == nil {
		log = slog.Default()
	}
	attrs := metric.WithAttributes(attribute.String("cache.prefix", group(key)))

	if raw, ok := c.Get(ctx, key); ok {
		var v T
		err := json.Unmarshal(raw, &v)
		if err == nil {
			m.hits.Add(ctx, 1, attrs)
			log.DebugContext(ctx, "cache hit", "key", key)
			return v, nil
		}
		log.WarnContext(ctx, "cache decode failed", "key", key, "error", err)
		c.Remove(ctx, key)
	}

	m.misses.Add(ctx, 1, attrs)
	log.DebugContext(ctx, "cache miss", "key", key)
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		log.WarnContext(ctx, "cache encode failed", "key", key, "error", err)
		return v, nil
	}
	c.Set(ctx, key, raw, ttl)
	return v, nil
}
