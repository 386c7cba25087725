package cache

import (
	"time"

	"PulseBoard/internal/domain/repository"
	applogger "PulseBoard/pkg/logger"
	"PulseBoard/pkg/metrics"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Option configures a RefreshCache.
type Option func(*options)

type options struct {
	ttl          time.Duration
	fetchTimeout time.Duration
	clock        clockwork.Clock
	pacer        *rate.Limiter
	logger       *applogger.Logger
	metrics      repository.Metrics
	def          any
}

func defaultOptions() options {
	return options{
		ttl:          time.Minute,
		fetchTimeout: 15 * time.Second,
		clock:        clockwork.NewRealClock(),
		logger:       applogger.Nop(),
		metrics:      metrics.Nop{},
	}
}

// WithTTL sets how long a fetched value counts as fresh.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithFetchTimeout bounds a single upstream fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fetchTimeout = d
	}
}

// WithClock injects the time source.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithPacer spaces upstream calls made by RefreshAll. Reads never wait on it.
func WithPacer(l *rate.Limiter) Option {
	return func(o *options) {
		o.pacer = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m repository.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithDefault sets the value Get returns when a cold fetch fails. It must have
// the cache's value type; other types are ignored.
func WithDefault(v any) Option {
	return func(o *options) {
		o.def = v
	}
}
