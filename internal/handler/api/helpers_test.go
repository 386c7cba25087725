package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/middleware"
	"PulseBoard/internal/repository"
	"PulseBoard/internal/service/cache"
	"PulseBoard/internal/service/sources"
	"PulseBoard/internal/usecase"
	xhttp "PulseBoard/pkg/http"

	"github.com/labstack/echo/v4"
)

type staticTelemetry struct{}

func (staticTelemetry) Collect() models.SystemData {
	return models.SystemData{CPUUsage: 10, MemoryUsagePercent: 30, HeapUsagePercent: 15, ThreadCount: 4}
}

type fixture struct {
	e           *echo.Echo
	store       *repository.MemoryStore
	broadcaster *usecase.Broadcaster
	alerts      *usecase.AlertService
	dashboard   *usecase.DashboardService
	system      *usecase.SystemService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	price := 100.0
	caches := usecase.Caches{
		Quotes: cache.New[models.Quote]("quotes", cache.FetcherFunc[models.Quote](
			func(_ context.Context, symbol string) (models.Quote, error) {
				return models.Quote{Symbol: symbol, CurrentPrice: &price}, nil
			})),
		Weather: cache.New[models.WeatherData]("weather", cache.FetcherFunc[models.WeatherData](
			func(_ context.Context, city string) (models.WeatherData, error) {
				return models.WeatherData{City: city, TemperatureCelsius: 20}, nil
			})),
		Feeds: cache.New[models.Feed]("feeds", cache.FetcherFunc[models.Feed](
			func(_ context.Context, key string) (models.Feed, error) {
				return models.Feed{Source: key}, nil
			})),
		Traffic: cache.New[json.RawMessage]("traffic", cache.FetcherFunc[json.RawMessage](
			func(context.Context, string) (json.RawMessage, error) { return sources.EmptyTraffic, nil })),
		Emergency: cache.New[json.RawMessage]("emergency", cache.FetcherFunc[json.RawMessage](
			func(context.Context, string) (json.RawMessage, error) { return sources.EmptyEmergency, nil })),
	}

	f := &fixture{store: repository.NewMemoryStore()}
	f.broadcaster = usecase.NewBroadcaster(usecase.BroadcasterConfig{SettleDelay: 10 * time.Millisecond})
	f.alerts = usecase.NewAlertService(f.store, f.store, f.broadcaster, repository.NopPublisher{}, "test", nil, nil)
	f.dashboard = usecase.NewDashboardService(caches, nil, f.store, staticTelemetry{}, repository.NopPublisher{}, "test", nil, nil)
	f.broadcaster.SetSnapshotProvider(f.dashboard)
	f.system = usecase.NewSystemService(staticTelemetry{}, f.store, nil)
	evaluator := usecase.NewAlertEvaluator(f.store, f.alerts)
	coordinator := usecase.NewCoordinator(usecase.DefaultSchedule(), f.dashboard, f.system, f.broadcaster, evaluator, f.store)

	identity := middleware.UserIdentity(nil)
	f.e = echo.New()
	xhttp.Handlers{
		NewDashboardHandler(nil, f.dashboard, f.broadcaster, coordinator, StreamConfig{Heartbeat: 20 * time.Millisecond}, identity),
		NewAlertsHandler(nil, f.alerts, identity),
		NewSystemHandler(nil, f.system, identity),
	}.RegisterRoutes(f.e)

	t.Cleanup(func() {
		coordinator.Stop()
		f.broadcaster.Close()
	})
	return f
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call performs one request as user and decodes the response envelope.
func (f *fixture) call(t *testing.T, method, target, user string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set(xhttp.HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	if rec.Code != http.StatusNoContent {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
		}
		if env.Status != rec.Code {
			t.Fatalf("%s %s: body status %d, wire status %d", method, target, env.Status, rec.Code)
		}
	}
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
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

func ptr(v float64) *float64 { return &v }
