package models

import (
	"strings"
	"time"
)

type RuleType string

const (
	RuleStockPrice      RuleType = "stock_price"
	RuleStockChange     RuleType = "stock_change"
	RuleStockPercent    RuleType = "stock_percent"
	RuleCPU             RuleType = "cpu"
	RuleMemory          RuleType = "memory"
	RuleHeap            RuleType = "heap"
	RuleWeatherTemp     RuleType = "weather_temp"
	RuleWeatherHumidity RuleType = "weather_humidity"

	// RuleWeatherAlert tags automatic extreme-temperature events. Users cannot create it.
	RuleWeatherAlert RuleType = "weather_alert"
)

var (
	StockRuleTypes   = []RuleType{RuleStockPrice, RuleStockChange, RuleStockPercent}
	SystemRuleTypes  = []RuleType{RuleCPU, RuleMemory, RuleHeap}
	WeatherRuleTypes = []RuleType{RuleWeatherTemp, RuleWeatherHumidity}
)

// Valid reports whether t is a user-creatable rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleStockPrice, RuleStockChange, RuleStockPercent,
		RuleCPU, RuleMemory, RuleHeap,
		RuleWeatherTemp, RuleWeatherHumidity:
		return true
	}
	return false
}

// IsPercent reports whether values of this type are percentages.
func (t RuleType) IsPercent() bool {
	return strings.Contains(string(t), "percent")
}

type ConditionType string

const (
	ConditionAbove  ConditionType = "above"
	ConditionBelow  ConditionType = "below"
	ConditionEquals ConditionType = "equals"
)

// EqualsEpsilon is the tolerance of the equals condition.
const EqualsEpsilon = 0.001

func (c ConditionType) Valid() bool {
	return c == ConditionAbove || c == ConditionBelow || c == ConditionEquals
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// SystemUserID owns global alerts that are not tied to a rule.
const SystemUserID = "system"

// AlertRule is a user-scoped threshold rule. An empty Target matches every target.
type AlertRule struct {
	ID            int64         `json:"id"`
	UserID        string        `json:"-"`
	Type          RuleType      `json:"type"`
	Target        string        `json:"target,omitempty"`
	ConditionType ConditionType `json:"conditionType"`
	Threshold     float64       `json:"threshold"`
	Enabled       bool          `json:"enabled"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Matches reports whether the rule applies to target, ignoring case.
func (r AlertRule) Matches(target string) bool {
	return r.Target == "" || strings.EqualFold(r.Target, target)
}

// Holds evaluates the rule's condition against v.
func (r AlertRule) Holds(v float64) bool {
	switch r.ConditionType {
	case ConditionAbove:
		return v > r.Threshold
	case ConditionBelow:
		return v < r.Threshold
	case ConditionEquals:
		d := v - r.Threshold
		if d < 0 {
			d = -d
		}
		return d < EqualsEpsilon
	}
	return false
}

// AlertEvent is pushed to clients and appended to the alert log.
type AlertEvent struct {
	Type         RuleType  `json:"type"`
	Message      string    `json:"message"`
	Severity     Severity  `json:"severity"`
	Target       string    `json:"target,omitempty"`
	CurrentValue *float64  `json:"currentValue,omitempty"`
	Threshold    *float64  `json:"threshold,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// AlertLog is a persisted AlertEvent.
type AlertLog struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"-"`
	RuleID    *int64    `json:"ruleId,omitempty"`
	Type      RuleType  `json:"type"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// AlertRuleInput is the user-editable part of a rule.
type AlertRuleInput struct {
	Type          RuleType      `json:"type" validate:"required"`
	Target        string        `json:"target" validate:"max=64"`
	ConditionType ConditionType `json:"conditionType" validate:"required"`
	Threshold     *float64      `json:"threshold" validate:"required"`
	Enabled       *bool         `json:"enabled"`
}
