package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"

	"PulseBoard/internal/domain/models"
	drepo "PulseBoard/internal/domain/repository"
	applogger "PulseBoard/pkg/logger"
	"PulseBoard/pkg/metrics"

	"github.com/jonboulle/clockwork"
)

// Observation is one measured value offered to the rules of its type.
type Observation struct {
	Type    models.RuleType
	Target  string // matched against rule targets
	Display string // used in messages and cooldown keys; defaults to Target
	Value   float64
}

func (o Observation) display() string {
	if o.Display != "" {
		return o.Display
	}
	return o.Target
}

// FiredAlert is an alert that passed its cooldown. Rule is nil for global
// system alerts.
type FiredAlert struct {
	Rule  *models.AlertRule
	Event models.AlertEvent
}

// Owner returns the user the alert is logged under.
func (f FiredAlert) Owner() string {
	if f.Rule == nil {
		return models.SystemUserID
	}
	return f.Rule.UserID
}

// Global reports whether the alert goes to every connection.
func (f FiredAlert) Global() bool { return f.Rule == nil }

// Notifier receives fired alerts.
type Notifier interface {
	Notify(ctx context.Context, alert FiredAlert)
}

// AlertEvaluator checks observations against enabled rules and the automatic
// weather extremes, applying per-key cooldowns.
type AlertEvaluator struct {
	rules    drepo.RuleStore
	notifier Notifier
	ruleCD   *Cooldown
	weather  *Cooldown
	clock    clockwork.Clock
	log      *applogger.Logger
	metrics  drepo.Metrics
}

type EvaluatorOption func(*AlertEvaluator)

func WithEvaluatorClock(c clockwork.Clock) EvaluatorOption {
	return func(e *AlertEvaluator) { e.clock = c }
}

func WithEvaluatorLogger(l *applogger.Logger) EvaluatorOption {
	return func(e *AlertEvaluator) { e.log = l.Named("alerts") }
}

func WithEvaluatorMetrics(m drepo.Metrics) EvaluatorOption {
	return func(e *AlertEvaluator) { e.metrics = m }
}

// WithCooldowns overrides the rule and weather cooldown policies.
func WithCooldowns(rule, weather CooldownPolicy) EvaluatorOption {
	return func(e *AlertEvaluator) {
		e.ruleCD = NewCooldown(rule)
		e.weather = NewCooldown(weather)
	}
}

func NewAlertEvaluator(rules drepo.RuleStore, notifier Notifier, opts ...EvaluatorOption) *AlertEvaluator {
	e := &AlertEvaluator{
		rules:    rules,
		notifier: notifier,
		ruleCD:   NewCooldown(RuleCooldown),
		weather:  NewCooldown(WeatherCooldown),
		clock:    clockwork.NewRealClock(),
		log:      applogger.Nop(),
		metrics:  metrics.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAll evaluates obs against enabled rules of the given types and returns
// how many alerts fired.
func (e *AlertEvaluator) CheckAll(ctx context.Context, types []models.RuleType, obs []Observation) int {
	if len(obs) == 0 {
		return 0
	}
	rules, err := e.rules.ListEnabledRules(ctx, types...)
	if err != nil {
		e.metrics.RecordError("alert_rules_load")
		e.log.Error("load enabled rules", applogger.Error(err))
		return 0
	}

	fired := 0
	for _, o := range obs {
		for i := range rules {
			r := &rules[i]
			if r.Type != o.Type || !r.Matches(o.Target) || !r.Holds(o.Value) {
				continue
			}
			if !e.ruleCD.TryFire(RuleKey(r.ID, o.display()), e.clock.Now()) {
				e.metrics.RecordAlert("rule", false)
				continue
			}
			e.metrics.RecordAlert("rule", true)
			e.notifier.Notify(ctx, FiredAlert{Rule: r, Event: e.ruleEvent(r, o)})
			fired++
		}
	}
	return fired
}

func (e *AlertEvaluator) ruleEvent(r *models.AlertRule, o Observation) models.AlertEvent {
	v, t := o.Value, r.Threshold
	return models.AlertEvent{
		Type:         r.Type,
		Message:      AlertMessageText(r, o.display(), v),
		Severity:     SeverityFor(r.Type, v, t),
		Target:       o.display(),
		CurrentValue: &v,
		Threshold:    &t,
		Timestamp:    e.clock.Now().UTC(),
	}
}

// CheckStocks evaluates stock rules. Quotes without a price are skipped.
func (e *AlertEvaluator) CheckStocks(ctx context.Context, quotes []models.StockQuote) int {
	obs := make([]Observation, 0, len(quotes)*3)
	for _, q := range quotes {
		if q.CurrentPrice == nil {
			continue
		}
		obs = append(obs,
			Observation{Type: models.RuleStockPrice, Target: q.Symbol, Value: *q.CurrentPrice},
			Observation{Type: models.RuleStockChange, Target: q.Symbol, Value: deref(q.Change)},
			Observation{Type: models.RuleStockPercent, Target: q.Symbol, Value: deref(q.PercentChange)},
		)
	}
	return e.CheckAll(ctx, models.StockRuleTypes, obs)
}

// CheckSystem evaluates cpu, memory and heap rules. Targets are the
// upper-cased rule types.
func (e *AlertEvaluator) CheckSystem(ctx context.Context, sys models.SystemData) int {
	obs := []Observation{
		{Type: models.RuleCPU, Target: strings.ToUpper(string(models.RuleCPU)), Value: sys.CPUUsage},
		{Type: models.RuleMemory, Target: strings.ToUpper(string(models.RuleMemory)), Value: sys.MemoryUsagePercent},
		{Type: models.RuleHeap, Target: strings.ToUpper(string(models.RuleHeap)), Value: sys.HeapUsagePercent},
	}
	return e.CheckAll(ctx, models.SystemRuleTypes, obs)
}

// CheckWeather evaluates weather rules, then the automatic extremes.
func (e *AlertEvaluator) CheckWeather(ctx context.Context, list []models.WeatherData) int {
	obs := make([]Observation, 0, len(list)*2)
	for _, w := range list {
		obs = append(obs,
			Observation{Type: models.RuleWeatherTemp, Target: w.City, Display: w.DisplayName(), Value: w.TemperatureCelsius},
			Observation{Type: models.RuleWeatherHumidity, Target: w.City, Display: w.DisplayName(), Value: float64(w.Humidity)},
		)
	}
	fired := e.CheckAll(ctx, models.WeatherRuleTypes, obs)

	for _, w := range list {
		if e.checkExtreme(ctx, w) {
			fired++
		}
	}
	return fired
}

func (e *AlertEvaluator) checkExtreme(ctx context.Context, w models.WeatherData) bool {
	warning, sev, ok := WeatherWarning(w.TemperatureCelsius)
	if !ok {
		return false
	}
	if !e.weather.TryFire(WeatherKey(w.City), e.clock.Now()) {
		e.metrics.RecordAlert("weather", false)
		return false
	}
	e.metrics.RecordAlert("weather", true)

	temp := w.TemperatureCelsius
	e.notifier.Notify(ctx, FiredAlert{Event: models.AlertEvent{
		Type:         models.RuleWeatherAlert,
		Message:      fmt.Sprintf("%s: %s (%.1f°C)", w.DisplayName(), warning, temp),
		Severity:     sev,
		Target:       w.City,
		CurrentValue: &temp,
		Timestamp:    e.clock.Now().UTC(),
	}})
	return true
}

// Prune drops expired cooldown entries.
func (e *AlertEvaluator) Prune() int {
	now := e.clock.Now()
	return e.ruleCD.Prune(now) + e.weather.Prune(now)
}

// WeatherWarning classifies a temperature in Celsius.
func WeatherWarning(c float64) (string, models.Severity, bool) {
	switch {
	case c < -15:
		return "cold wave warning", models.SeverityDanger, true
	case c > 35:
		return "heat wave warning", models.SeverityDanger, true
	case c < -10 || c > 33:
		return "temperature advisory", models.SeverityWarning, true
	}
	return "", "", false
}

// SeverityFor grades how far v is past threshold t. The distance is relative
// to t, or absolute when t is zero.
func SeverityFor(typ models.RuleType, v, t float64) models.Severity {
	if typ.IsPercent() && math.Abs(v) > 10 {
		return models.SeverityDanger
	}
	ratio := math.Abs(v - t)
	if t != 0 {
		ratio /= math.Abs(t)
	}
	switch {
	case ratio > 0.2:
		return models.SeverityDanger
	case ratio > 0.1:
		return models.SeverityWarning
	}
	return models.SeverityInfo
}

// AlertMessageText renders "<target> <label> <value><unit> <cond> (threshold: <t><unit>)".
func AlertMessageText(r *models.AlertRule, target string, v float64) string {
	unit := unitFor(r.Type)
	return fmt.Sprintf("%s %s %.2f%s %s (threshold: %.2f%s)",
		target, labelFor(r.Type), v, unit, conditionWord(r.ConditionType), r.Threshold, unit)
}

func labelFor(t models.RuleType) string {
	switch t {
	case models.RuleStockPrice:
		return "price"
	case models.RuleStockChange:
		return "change"
	case models.RuleStockPercent:
		return "percent change"
	case models.RuleCPU:
		return "CPU usage"
	case models.RuleMemory:
		return "memory usage"
	case models.RuleHeap:
		return "heap usage"
	case models.RuleWeatherTemp:
		return "temperature"
	case models.RuleWeatherHumidity:
		return "humidity"
	}
	return string(t)
}

func unitFor(t models.RuleType) string {
	switch t {
	case models.RuleStockPrice:
		return "$"
	case models.RuleWeatherTemp:
		return "°C"
	case models.RuleStockPercent, models.RuleCPU, models.RuleMemory, models.RuleHeap, models.RuleWeatherHumidity:
		return "%"
	}
	return ""
}

func conditionWord(c models.ConditionType) string {
	switch c {
	case models.ConditionAbove:
		return "above"
	case models.ConditionBelow:
		return "below"
	case models.ConditionEquals:
		return "reached"
	}
	return string(c)
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
