package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/repository"
	"PulseBoard/internal/service/sources"
	"PulseBoard/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Storage.Driver = "memory"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	return cfg
}

func TestInitializeAppWithLocalBackends(t *testing.T) {
	app, cleanup, err := InitializeApp(testConfig(t))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer cleanup()
	if app == nil {
		t.Fatalf("nil app")
	}
}

func TestProvideStoreCreatesSQLiteDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "nested", "pulse.db")

	store, cleanup, err := ProvideStore(cfg)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer cleanup()
	if _, ok := store.(*repository.SQLiteStore); !ok {
		t.Fatalf("store type %T", store)
	}
	if err := store.PutSettings(context.Background(), "alice", models.DefaultDashboardConfig()); err != nil {
		t.Fatalf("put settings: %v", err)
	}
}

func TestSettingsStoreBackends(t *testing.T) {
	cfg := testConfig(t)
	store := repository.NewMemoryStore()
	kv, cleanup, err := ProvideKeyValue(cfg, nil)
	if err != nil {
		t.Fatalf("kv: %v", err)
	}
	defer cleanup()

	if _, ok := ProvideSettingsStore(cfg, store, kv, nil).(*repository.CachedSettingsStore); !ok {
		t.Fatalf("memory backend should wrap the store")
	}
	cfg.Storage.SettingsCache = "none"
	if got := ProvideSettingsStore(cfg, store, kv, nil); got != store {
		t.Fatalf("none backend should use the store directly, got %T", got)
	}
}

func TestHistoryFallsBackToPrimaryStore(t *testing.T) {
	cfg := testConfig(t)
	store := repository.NewMemoryStore()
	hist, cleanup, err := ProvideHistoryStore(cfg, store, nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer cleanup()
	if hist != store {
		t.Fatalf("history store = %T", hist)
	}
	if _, ok := ProvidePublisher(cfg, nil).(repository.NopPublisher); !ok {
		t.Fatalf("publisher without kafka should be a no-op")
	}
}

func TestFeedSpecs(t *testing.T) {
	if got := feedSpecs(nil); len(got) != len(sources.DefaultFeeds()) {
		t.Fatalf("empty list should use defaults, got %d", len(got))
	}
	got := feedSpecs([]config.FeedConfig{{Key: "CUSTOM", URL: "https://example.com/feed.xml", Source: "ex"}})
	if spec, ok := got["CUSTOM"]; !ok || spec.Source != "ex" || len(got) != 1 {
		t.Fatalf("specs: %+v", got)
	}
}

func TestScheduleFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Telemetry = 3 * time.Second
	s := ProvideSchedule(cfg)
	if s.Telemetry != 3*time.Second || s.Feeds != 10*time.Minute || s.LogRetention != 30*24*time.Hour {
		t.Fatalf("schedule: %+v", s)
	}
}

func TestCachesTrackStartupKeys(t *testing.T) {
	cfg := testConfig(t)
	caches := ProvideCaches(cfg, ProvideClock(), nil, ProvideMetrics(ProvideRegistry()))
	if got := len(caches.Weather.Keys()); got != len(models.MajorCities()) {
		t.Fatalf("weather keys = %d", got)
	}
	if got := caches.Quotes.Keys(); len(got) != len(models.DefaultDashboardConfig().Tickers) {
		t.Fatalf("quote keys = %v", got)
	}
	if got := caches.Traffic.Keys(); len(got) != 1 || got[0] != sources.PublicDataKey {
		t.Fatalf("traffic keys = %v", got)
	}
}
