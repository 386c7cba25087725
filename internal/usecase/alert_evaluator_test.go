package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/repository"

	"github.com/jonboulle/clockwork"
)

func quote(symbol string, price float64) models.StockQuote {
	return models.StockQuote{Symbol: symbol, CurrentPrice: ptr(price), Change: ptr(0), PercentChange: ptr(0)}
}

func newEvaluator(t *testing.T) (*AlertEvaluator, *repository.MemoryStore, *recordingNotifier, *clockwork.FakeClock) {
	t.Helper()
	store := repository.NewMemoryStore()
	n := &recordingNotifier{}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	return NewAlertEvaluator(store, n, WithEvaluatorClock(clock)), store, n, clock
}

func saveRule(t *testing.T, store *repository.MemoryStore, r models.AlertRule) *models.AlertRule {
	t.Helper()
	r.Enabled = true
	if err := store.SaveRule(context.Background(), &r); err != nil {
		t.Fatalf("save rule: %v", err)
	}
	return &r
}

func TestPriceFeedFiresOnceWithinCooldown(t *testing.T) {
	e, store, n, clock := newEvaluator(t)
	saveRule(t, store, models.AlertRule{UserID: "u1", Type: models.RuleStockPrice, Target: "AAPL", ConditionType: models.ConditionAbove, Threshold: 100})

	ctx := context.Background()
	fired := 0
	for _, p := range []float64{99, 101, 102, 101} {
		fired += e.CheckStocks(ctx, []models.StockQuote{quote("AAPL", p)})
		clock.Advance(5 * time.Second)
	}

	if fired != 1 {
		t.Fatalf("expected exactly one alert, got %d", fired)
	}
	got := n.all()
	if len(got) != 1 || *got[0].Event.CurrentValue != 101 {
		t.Fatalf("expected the alert on 101, got %+v", got)
	}
	if got[0].Owner() != "u1" || got[0].Global() {
		t.Fatalf("alert should belong to u1")
	}
	if !strings.Contains(got[0].Event.Message, "AAPL price 101.00$ above (threshold: 100.00$)") {
		t.Fatalf("unexpected message %q", got[0].Event.Message)
	}

	clock.Advance(RuleCooldown.Window)
	if e.CheckStocks(ctx, []models.StockQuote{quote("AAPL", 101)}) != 1 {
		t.Fatalf("expected the rule to fire again after the window")
	}
}

func TestTargetsHaveIndependentCooldowns(t *testing.T) {
	e, store, n, clock := newEvaluator(t)
	saveRule(t, store, models.AlertRule{UserID: "u1", Type: models.RuleStockPrice, Target: "AAPL", ConditionType: models.ConditionAbove, Threshold: 100})
	saveRule(t, store, models.AlertRule{UserID: "u1", Type: models.RuleStockPrice, Target: "TSLA", ConditionType: models.ConditionAbove, Threshold: 200})

	ctx := context.Background()
	e.CheckStocks(ctx, []models.StockQuote{quote("AAPL", 150), quote("TSLA", 150)})
	if got := n.all(); len(got) != 1 || got[0].Event.Target != "AAPL" {
		t.Fatalf("only AAPL should fire, got %+v", got)
	}

	clock.Advance(time.Second)
	e.CheckStocks(ctx, []models.StockQuote{quote("AAPL", 150), quote("TSLA", 250)})
	got := n.all()
	if len(got) != 2 || got[1].Event.Target != "TSLA" {
		t.Fatalf("TSLA crossing must fire despite AAPL cooldown, got %+v", got)
	}
}

func TestUntargetedRuleCoolsDownPerTarget(t *testing.T) {
	e, store, n, _ := newEvaluator(t)
	saveRule(t, store, models.AlertRule{UserID: "u1", Type: models.RuleStockPrice, ConditionType: models.ConditionBelow, Threshold: 10})

	e.CheckStocks(context.Background(), []models.StockQuote{quote("AAA", 5), quote("BBB", 6), quote("AAA", 4)})
	if got := len(n.all()); got != 2 {
		t.Fatalf("expected one alert per target, got %d", got)
	}
}

func TestDisabledRulesAndMissingPricesAreIgnored(t *testing.T) {
	e, store, n, _ := newEvaluator(t)
	r := models.AlertRule{UserID: "u1", Type: models.RuleStockPrice, Target: "AAPL", ConditionType: models.ConditionAbove, Threshold: 1}
	if err := store.SaveRule(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	saveRule(t, store, models.AlertRule{UserID: "u1", Type: models.RuleStockPrice, Target: "MSFT", ConditionType: models.ConditionAbove, Threshold: 1})

	e.CheckStocks(context.Background(), []models.StockQuote{quote("AAPL", 50), {Symbol: "MSFT"}})
	if got := len(n.all()); got != 0 {
		t.Fatalf("expected no alerts, got %d", got)
	}
}

func TestSystemRulesMatchUpperCaseTargets(t *testing.T) {
	e, store, n, _ := newEvaluator(t)
	saveRule(t, store, models.AlertRule{UserID: "ops", Type: models.RuleCPU, Target: "cpu", ConditionType: models.ConditionAbove, Threshold: 80})

	e.CheckSystem(context.Background(), models.SystemData{CPUUsage: 85, MemoryUsagePercent: 10})
	got := n.all()
	if len(got) != 1 || got[0].Event.Target != "CPU" {
		t.Fatalf("unexpected alerts %+v", got)
	}
	if got[0].Event.Severity != models.SeverityInfo {
		t.Fatalf("85 vs 80 is within ten percent, got %s", got[0].Event.Severity)
	}
}

func TestWeatherExtremesUseLongerCooldown(t *testing.T) {
	e, _, n, clock := newEvaluator(t)
	ctx := context.Background()
	freezing := []models.WeatherData{{City: "Seoul", CityKo: "서울", TemperatureCelsius: -20}}

	if e.CheckWeather(ctx, freezing) != 1 {
		t.Fatalf("expected a cold wave warning")
	}
	ev := n.all()[0]
	if !ev.Global() || ev.Event.Type != models.RuleWeatherAlert || ev.Event.Severity != models.SeverityDanger {
		t.Fatalf("unexpected warning %+v", ev)
	}
	if ev.Owner() != models.SystemUserID {
		t.Fatalf("owner = %q", ev.Owner())
	}

	clock.Advance(5 * time.Minute)
	if e.CheckWeather(ctx, freezing) != 0 {
		t.Fatalf("warning repeated inside its cooldown")
	}
	clock.Advance(5 * time.Minute)
	if e.CheckWeather(ctx, freezing) != 1 {
		t.Fatalf("warning should repeat after the weather window")
	}
}

func TestWeatherWarningBands(t *testing.T) {
	cases := []struct {
		temp float64
		sev  models.Severity
		ok   bool
	}{
		{-16, models.SeverityDanger, true},
		{-12, models.SeverityWarning, true},
		{-10, "", false},
		{20, "", false},
		{33, "", false},
		{34, models.SeverityWarning, true},
		{36, models.SeverityDanger, true},
	}
	for _, tc := range cases {
		_, sev, ok := WeatherWarning(tc.temp)
		if ok != tc.ok || sev != tc.sev {
			t.Fatalf("%.0f°C: got (%s, %v), want (%s, %v)", tc.temp, sev, ok, tc.sev, tc.ok)
		}
	}
}

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		name string
		typ  models.RuleType
		v, t float64
		want models.Severity
	}{
		{"close to threshold", models.RuleStockPrice, 101, 100, models.SeverityInfo},
		{"over ten percent", models.RuleStockPrice, 115, 100, models.SeverityWarning},
		{"over twenty percent", models.RuleStockPrice, 130, 100, models.SeverityDanger},
		{"large percent move", models.RuleStockPercent, -12, -5, models.SeverityDanger},
		{"zero threshold small move", models.RuleStockChange, 0.05, 0, models.SeverityInfo},
		{"zero threshold mid move", models.RuleStockChange, 0.15, 0, models.SeverityWarning},
		{"zero threshold large move", models.RuleStockChange, 0.5, 0, models.SeverityDanger},
		{"zero threshold below", models.RuleStockChange, -0.15, 0, models.SeverityWarning},
		{"zero threshold and value", models.RuleStockChange, 0, 0, models.SeverityInfo},
	}
	for _, tc := range cases {
		if got := SeverityFor(tc.typ, tc.v, tc.t); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestPruneDropsExpiredCooldowns(t *testing.T) {
	e, store, _, clock := newEvaluator(t)
	saveRule(t, store, models.AlertRule{UserID: "u1", Type: models.RuleStockPrice, Target: "AAPL", ConditionType: models.ConditionAbove, Threshold: 1})
	e.CheckStocks(context.Background(), []models.StockQuote{quote("AAPL", 2)})

	if e.Prune() != 0 {
		t.Fatalf("fresh cooldown pruned")
	}
	clock.Advance(RuleCooldown.Window)
	if e.Prune() != 1 {
		t.Fatalf("expired cooldown kept")
	}
}
