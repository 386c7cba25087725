package repository

import (
	"context"
	"time"

	"PulseBoard/internal/domain/models"
)

// RuleStore persists alert rules. Reads by user never return other users' rules.
type RuleStore interface {
	SaveRule(ctx context.Context, rule *models.AlertRule) error // inserts when ID is 0
	GetRule(ctx context.Context, id int64) (*models.AlertRule, error)
	ListRules(ctx context.Context, userID string) ([]models.AlertRule, error)
	ListEnabledRules(ctx context.Context, types ...models.RuleType) ([]models.AlertRule, error)
	DeleteRule(ctx context.Context, id int64) error
}

// AlertLogStore is the append-only alert log. Listings are newest first.
type AlertLogStore interface {
	AppendLog(ctx context.Context, log *models.AlertLog) error
	ListLogs(ctx context.Context, userID string, page, size int) ([]models.AlertLog, int64, error)
	ListUnreadLogs(ctx context.Context, userID string) ([]models.AlertLog, error)
	CountUnreadLogs(ctx context.Context, userID string) (int64, error)
	GetLog(ctx context.Context, id int64) (*models.AlertLog, error)
	MarkLogRead(ctx context.Context, id int64) error
	MarkAllLogsRead(ctx context.Context, userID string) (int64, error)
	DeleteLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingsStore holds per-user dashboard configs. Get returns
// models.ErrRecordNotFound when the user has none.
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (*models.DashboardConfig, error)
	PutSettings(ctx context.Context, userID string, cfg models.DashboardConfig) error
}

// HistoryStore keeps sampled telemetry.
type HistoryStore interface {
	AppendRecord(ctx context.Context, rec models.SystemRecord) error
	RecordsSince(ctx context.Context, since time.Time) ([]models.SystemRecord, error)
	DeleteRecordsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventPublisher fans alert and config-change events out to other instances.
type EventPublisher interface {
	PublishAlert(ctx context.Context, msg models.AlertMessage) error
	PublishConfigChange(ctx context.Context, ev models.ConfigChangeEvent) error
	Close() error
}

// Locker is a cross-instance mutex with a lease.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Metrics is the observability port of the pipeline.
type Metrics interface {
	RecordRefresh(source, result string, seconds float64)
	RecordBroadcast(event string, delivered, dropped int)
	SetConnections(n int)
	RecordConnectionClosed(reason string)
	RecordAlert(class string, fired bool)
	RecordTick(task string, seconds float64, skipped bool)
	RecordError(kind string)
}
