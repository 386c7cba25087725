package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	applogger "PulseBoard/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// Fetcher loads the value for one key from upstream.
type Fetcher[V any] interface {
	Fetch(ctx context.Context, key string) (V, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[V any] func(ctx context.Context, key string) (V, error)

func (f FetcherFunc[V]) Fetch(ctx context.Context, key string) (V, error) { return f(ctx, key) }

// Entry is the cached state of one key. Once a fetch has succeeded, Value and
// FetchedAt only change on a later successful fetch.
type Entry[V any] struct {
	Key       string
	Value     V
	FetchedAt time.Time // zero until the first successful fetch
	LastError error
}

// HasValue reports whether the key was ever fetched successfully.
func (e Entry[V]) HasValue() bool { return !e.FetchedAt.IsZero() }

// RefreshReport summarises one RefreshAll pass.
type RefreshReport struct {
	Source    string
	Attempted int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Status is the diagnostic view of a cache.
type Status struct {
	Name        string   `json:"name"`
	TTLSeconds  float64  `json:"ttlSeconds"`
	Entries     int      `json:"entries"`
	Keys        []string `json:"keys"`
	StaleKeys   []string `json:"staleKeys"`
	FailingKeys []string `json:"failingKeys"`
}

// RefreshCache serves the last good value per key and refreshes in the
// background. Readers never wait on a refresh of a key that already has a
// value; concurrent fetches of one key are collapsed into one.
type RefreshCache[V any] struct {
	name    string
	fetcher Fetcher[V]
	opts    options
	def     V
	log     *applogger.Logger

	mu      sync.RWMutex // guards the map only, never held across a fetch
	entries map[string]*atomic.Pointer[Entry[V]]

	group singleflight.Group
}

// New creates a cache named name (used in logs, metrics and errors).
func New[V any](name string, fetcher Fetcher[V], opts ...Option) *RefreshCache[V] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &RefreshCache[V]{
		name:    name,
		fetcher: fetcher,
		opts:    o,
		log:     o.logger.Named("cache." + name),
		entries: make(map[string]*atomic.Pointer[Entry[V]]),
	}
	if d, ok := o.def.(V); ok {
		c.def = d
	}
	return c
}

// Name returns the cache name.
func (c *RefreshCache[V]) Name() string { return c.name }

// TTL returns the freshness window.
func (c *RefreshCache[V]) TTL() time.Duration { return c.opts.ttl }

func (c *RefreshCache[V]) slot(key string, create bool) *atomic.Pointer[Entry[V]] {
	c.mu.RLock()
	p, ok := c.entries[key]
	c.mu.RUnlock()
	if ok || !create {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok = c.entries[key]; !ok {
		p = &atomic.Pointer[Entry[V]]{}
		c.entries[key] = p
	}
	return p
}

// Get returns the cached value for key. A key that never fetched successfully
// is fetched synchronously; if that fails Get returns the default value and
// the classified error, and the key stays tracked for the refresh loop.
func (c *RefreshCache[V]) Get(ctx context.Context, key string) (V, error) {
	if p := c.slot(key, false); p != nil {
		if e := p.Load(); e != nil && e.HasValue() {
			return e.Value, nil
		}
	}

	e, err := c.load(ctx, key, true)
	if e != nil && e.HasValue() {
		return e.Value, nil
	}
	return c.def, err
}

// Peek returns the current entry without fetching.
func (c *RefreshCache[V]) Peek(key string) (Entry[V], bool) {
	p := c.slot(key, false)
	if p == nil {
		return Entry[V]{}, false
	}
	e := p.Load()
	if e == nil {
		return Entry[V]{Key: key}, false
	}
	return *e, true
}

// Refresh refetches one key. On failure the previous value is kept.
func (c *RefreshCache[V]) Refresh(ctx context.Context, key string) error {
	_, err := c.load(ctx, key, false)
	return err
}

// RefreshAll refetches every tracked key in key order, waiting on the pacer
// between upstream calls. One key failing never stops the others.
func (c *RefreshCache[V]) RefreshAll(ctx context.Context) RefreshReport {
	return c.refreshKeys(ctx, c.Keys())
}

// RefreshStale refetches only keys that are not fresh.
func (c *RefreshCache[V]) RefreshStale(ctx context.Context) RefreshReport {
	return c.refreshKeys(ctx, c.staleKeys())
}

func (c *RefreshCache[V]) refreshKeys(ctx context.Context, keys []string) RefreshReport {
	start := c.opts.clock.Now()
	report := RefreshReport{Source: c.name}
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		if c.opts.pacer != nil {
			if err := c.opts.pacer.Wait(ctx); err != nil {
				break
			}
		}
		report.Attempted++
		if _, err := c.load(ctx, key, false); err != nil {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}
	report.Duration = c.opts.clock.Since(start)

	if report.Attempted > 0 {
		c.log.Info("refresh pass complete",
			applogger.Int("attempted", report.Attempted),
			applogger.Int("succeeded", report.Succeeded),
			applogger.Int("failed", report.Failed),
			applogger.Duration("duration_ms", report.Duration),
		)
	}
	return report
}

// load runs one single-flighted fetch for key and stores the outcome. With
// cold set, a value stored by a flight that finished meanwhile is reused.
func (c *RefreshCache[V]) load(ctx context.Context, key string, cold bool) (*Entry[V], error) {
	p := c.slot(key, true)

	res, err, _ := c.group.Do(key, func() (any, error) {
		prev := p.Load()
		if cold && prev != nil && prev.HasValue() {
			return prev, nil
		}

		// The fetch outlives the caller that started it since other callers
		// may be sharing this flight.
		fctx := context.WithoutCancel(ctx)
		if c.opts.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, c.opts.fetchTimeout)
			defer cancel()
		}

		start := c.opts.clock.Now()
		val, ferr := c.fetcher.Fetch(fctx, key)
		elapsed := c.opts.clock.Since(start)

		if ferr != nil {
			ferr = Classify(c.name, key, ferr)
			next := &Entry[V]{Key: key, LastError: ferr}
			if prev != nil {
				next.Value = prev.Value
				next.FetchedAt = prev.FetchedAt
			}
			p.Store(next)
			c.opts.metrics.RecordRefresh(c.name, resultLabel(ferr), elapsed.Seconds())
			c.log.Warn("fetch failed",
				applogger.String("key", key),
				applogger.Bool("cold", cold),
				applogger.Bool("serving_stale", next.HasValue()),
				applogger.Duration("duration_ms", elapsed),
				applogger.Error(ferr),
			)
			return next, ferr
		}

		next := &Entry[V]{Key: key, Value: val, FetchedAt: c.opts.clock.Now()}
		p.Store(next)
		c.opts.metrics.RecordRefresh(c.name, "ok", elapsed.Seconds())
		if cold {
			c.log.Info("cold fetch", applogger.String("key", key), applogger.Duration("duration_ms", elapsed))
		} else {
			c.log.Debug("refreshed", applogger.String("key", key), applogger.Duration("duration_ms", elapsed))
		}
		return next, nil
	})

	e, _ := res.(*Entry[V])
	return e, err
}

// Track registers keys for the refresh loop without fetching them.
func (c *RefreshCache[V]) Track(keys ...string) {
	for _, k := range keys {
		c.slot(k, true)
	}
}

// Keys returns the tracked keys in sorted order.
func (c *RefreshCache[V]) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Entries returns a copy of every entry that has been loaded at least once.
func (c *RefreshCache[V]) Entries() []Entry[V] {
	keys := c.Keys()
	out := make([]Entry[V], 0, len(keys))
	for _, k := range keys {
		if e, ok := c.Peek(k); ok {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of tracked keys.
func (c *RefreshCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry and tracked key.
func (c *RefreshCache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*atomic.Pointer[Entry[V]])
	c.mu.Unlock()
}

// IsFresh reports whether key holds a value younger than the TTL.
func (c *RefreshCache[V]) IsFresh(key string) bool {
	e, ok := c.Peek(key)
	return ok && e.HasValue() && c.opts.clock.Since(e.FetchedAt) < c.opts.ttl
}

func (c *RefreshCache[V]) staleKeys() []string {
	var out []string
	for _, k := range c.Keys() {
		if !c.IsFresh(k) {
			out = append(out, k)
		}
	}
	return out
}

// Status reports entry counts and which keys are stale or failing.
func (c *RefreshCache[V]) Status() Status {
	st := Status{
		Name:        c.name,
		TTLSeconds:  c.opts.ttl.Seconds(),
		Keys:        c.Keys(),
		StaleKeys:   []string{},
		FailingKeys: []string{},
	}
	st.Entries = len(st.Keys)
	for _, k := range st.Keys {
		e, _ := c.Peek(k)
		if !c.IsFresh(k) {
			st.StaleKeys = append(st.StaleKeys, k)
		}
		if e.LastError != nil {
			st.FailingKeys = append(st.FailingKeys, k)
		}
	}
	return st
}
