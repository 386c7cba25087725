package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/repository"
	"PulseBoard/internal/service/cache"
	"PulseBoard/internal/service/sources"

	"github.com/jonboulle/clockwork"
)

type sentEvent struct {
	name string
	data []byte
}

type fakeConn struct {
	id, user string

	mu     sync.Mutex
	events []sentEvent
	fail   bool
	closes int

	sent chan sentEvent
}

func newFakeConn(id, user string) *fakeConn {
	return &fakeConn{id: id, user: user, sent: make(chan sentEvent, 64)}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.user }

func (c *fakeConn) Send(event string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	ev := sentEvent{name: event, data: append([]byte(nil), data...)}
	c.events = append(c.events, ev)
	select {
	case c.sent <- ev:
	default:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) setFail(v bool) {
	c.mu.Lock()
	c.fail = v
	c.mu.Unlock()
}

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.name == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// next waits for the next event named event, skipping others.
func (c *fakeConn) next(t *testing.T, event string) sentEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.sent:
			if ev.name == event {
				return ev
			}
		case <-deadline:
			t.Fatalf("%s: timed out waiting for %q event", c.id, event)
		}
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	fired []FiredAlert
}

func (n *recordingNotifier) Notify(_ context.Context, a FiredAlert) {
	n.mu.Lock()
	n.fired = append(n.fired, a)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []FiredAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]FiredAlert(nil), n.fired...)
}

type staticTelemetry struct{ data models.SystemData }

func (s staticTelemetry) Collect() models.SystemData { return s.data }

type recordingMetrics struct {
	mu         sync.Mutex
	broadcasts map[string]int
	skipped    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{broadcasts: map[string]int{}, skipped: map[string]int{}}
}

func (m *recordingMetrics) RecordRefresh(string, string, float64) {}
func (m *recordingMetrics) SetConnections(int)                    {}
func (m *recordingMetrics) RecordConnectionClosed(string)         {}
func (m *recordingMetrics) RecordAlert(string, bool)              {}
func (m *recordingMetrics) RecordError(string)                    {}

func (m *recordingMetrics) RecordBroadcast(event string, delivered, dropped int) {
	m.mu.Lock()
	m.broadcasts[event]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordTick(task string, _ float64, skipped bool) {
	if !skipped {
		return
	}
	m.mu.Lock()
	m.skipped[task]++
	m.mu.Unlock()
}

func (m *recordingMetrics) broadcastCount(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcasts[event]
}

func ptr(v float64) *float64 { return &v }

// quoteBook serves configurable prices to the quote cache.
type quoteBook struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  atomic.Int32
}

func (b *quoteBook) set(symbol string, price float64) {
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
}

func (b *quoteBook) Fetch(_ context.Context, symbol string) (models.Quote, error) {
	b.calls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prices[symbol]
	if !ok {
		return models.Quote{}, models.ErrUpstreamMalformed
	}
	return models.Quote{Symbol: symbol, CurrentPrice: ptr(p), Change: ptr(0), PercentChange: ptr(0)}, nil
}

type harness struct {
	clock       *clockwork.FakeClock
	store       *repository.MemoryStore
	quotes      *quoteBook
	weatherHits atomic.Int32
	metrics     *recordingMetrics
	broadcaster *Broadcaster
	alerts      *AlertService
	evaluator   *AlertEvaluator
	dashboard   *DashboardService
	system      *SystemService
	coordinator *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:   clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)),
		store:   repository.NewMemoryStore(),
		quotes:  &quoteBook{prices: map[string]float64{}},
		metrics: newRecordingMetrics(),
	}

	cities := []models.City{{Name: "Seoul", NameKo: "서울", Lat: 37.5, Lon: 127}}
	caches := Caches{
		Quotes: cache.New[models.Quote]("quotes", h.quotes, cache.WithClock(h.clock)),
		Weather: cache.New[models.WeatherData]("weather", cache.FetcherFunc[models.WeatherData](
			func(_ context.Context, city string) (models.WeatherData, error) {
				h.weatherHits.Add(1)
				return models.WeatherData{City: city, CityKo: "서울", TemperatureCelsius: 21, Humidity: 40}, nil
			}), cache.WithClock(h.clock)),
		Feeds: cache.New[models.Feed]("feeds", cache.FetcherFunc[models.Feed](
			func(_ context.Context, key string) (models.Feed, error) {
				return models.Feed{Source: key, Items: []models.FeedItem{{Title: key + " headline", Link: "https://example.com"}}}, nil
			}), cache.WithClock(h.clock)),
		Traffic: cache.New[json.RawMessage]("traffic", cache.FetcherFunc[json.RawMessage](
			func(context.Context, string) (json.RawMessage, error) { return sources.EmptyTraffic, nil }), cache.WithClock(h.clock)),
		Emergency: cache.New[json.RawMessage]("emergency", cache.FetcherFunc[json.RawMessage](
			func(context.Context, string) (json.RawMessage, error) { return sources.EmptyEmergency, nil }), cache.WithClock(h.clock)),
	}
	caches.Weather.Track("Seoul")

	telemetry := staticTelemetry{data: models.SystemData{CPUUsage: 12.5, MemoryUsagePercent: 40, HeapUsagePercent: 20, ThreadCount: 8}}

	h.broadcaster = NewBroadcaster(BroadcasterConfig{}, WithBroadcasterClock(h.clock), WithBroadcasterMetrics(h.metrics))
	h.alerts = NewAlertService(h.store, h.store, h.broadcaster, repository.NopPublisher{}, "test", h.clock, nil)
	h.evaluator = NewAlertEvaluator(h.store, h.alerts, WithEvaluatorClock(h.clock))
	h.dashboard = NewDashboardService(caches, cities, h.store, telemetry, repository.NopPublisher{}, "test", h.clock, nil)
	h.system = NewSystemService(telemetry, h.store, h.clock)
	h.coordinator = NewCoordinator(DefaultSchedule(), h.dashboard, h.system, h.broadcaster, h.evaluator, h.store,
		WithCoordinatorClock(h.clock), WithCoordinatorMetrics(h.metrics))
	t.Cleanup(func() {
		h.coordinator.Stop()
		h.broadcaster.Close()
	})
	return h
}

func (h *harness) addRule(t *testing.T, user string, typ models.RuleType, target string, cond models.ConditionType, threshold float64) *models.AlertRule {
	t.Helper()
	rule, err := h.alerts.CreateRule(context.Background(), user, models.AlertRuleInput{
		Type: typ, Target: target, ConditionType: cond, Threshold: &threshold,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
