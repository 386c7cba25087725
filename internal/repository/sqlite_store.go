package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/domain/repository"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS alert_rules (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id        TEXT    NOT NULL,
		type           TEXT    NOT NULL,
		target         TEXT    NOT NULL DEFAULT '',
		condition_type TEXT    NOT NULL,
		threshold      REAL    NOT NULL,
		enabled        INTEGER NOT NULL DEFAULT 1,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_rules_user ON alert_rules(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_rules_enabled ON alert_rules(enabled, type)`,
	`CREATE TABLE IF NOT EXISTS alert_logs (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    TEXT    NOT NULL,
		rule_id    INTEGER,
		type       TEXT    NOT NULL,
		message    TEXT    NOT NULL,
		severity   TEXT    NOT NULL,
		is_read    INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_logs_user ON alert_logs(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id    TEXT PRIMARY KEY,
		config     TEXT    NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS system_history (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		ts       INTEGER NOT NULL,
		cpu      REAL    NOT NULL,
		memory   REAL    NOT NULL,
		heap     REAL    NOT NULL,
		threads  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_system_history_ts ON system_history(ts)`,
}

// SQLiteStore keeps rules, alert logs, settings and telemetry history in a
// single SQLite file. Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ repository.RuleStore     = (*SQLiteStore)(nil)
	_ repository.AlertLogStore = (*SQLiteStore)(nil)
	_ repository.SettingsStore = (*SQLiteStore)(nil)
	_ repository.HistoryStore  = (*SQLiteStore)(nil)
)

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range append(pragmas, sqliteSchema...) {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- rules ---

const ruleColumns = "id, user_id, type, target, condition_type, threshold, enabled, created_at, updated_at"

func (s *SQLiteStore) SaveRule(ctx context.Context, rule *models.AlertRule) error {
	if rule.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO alert_rules (user_id, type, target, condition_type, threshold, enabled, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.UserID, string(rule.Type), rule.Target, string(rule.ConditionType),
			rule.Threshold, rule.Enabled, toMillis(rule.CreatedAt), toMillis(rule.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert rule: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert rule: %w", err)
		}
		rule.ID = id
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_rules SET type = ?, target = ?, condition_type = ?, threshold = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		string(rule.Type), rule.Target, string(rule.ConditionType), rule.Threshold,
		rule.Enabled, toMillis(rule.UpdatedAt), rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule %d: %w", rule.ID, err)
	}
	return requireRow(res, models.ErrRuleNotFound)
}

func (s *SQLiteStore) GetRule(ctx context.Context, id int64) (*models.AlertRule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM alert_rules WHERE id = ?", id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *SQLiteStore) ListRules(ctx context.Context, userID string) ([]models.AlertRule, error) {
	return s.queryRules(ctx, "SELECT "+ruleColumns+" FROM alert_rules WHERE user_id = ? ORDER BY id", userID)
}

func (s *SQLiteStore) ListEnabledRules(ctx context.Context, types ...models.RuleType) ([]models.AlertRule, error) {
	if len(types) == 0 {
		return s.queryRules(ctx, "SELECT "+ruleColumns+" FROM alert_rules WHERE enabled = 1 ORDER BY id")
	}
	args := make([]interface{}, len(types))
	for i, t := range types {
		args[i] = string(t)
	}
	q := fmt.Sprintf("SELECT %s FROM alert_rules WHERE enabled = 1 AND type IN (%s) ORDER BY id",
		ruleColumns, placeholders(len(types)))
	return s.queryRules(ctx, q, args...)
}

func (s *SQLiteStore) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	return requireRow(res, models.ErrRuleNotFound)
}

func (s *SQLiteStore) queryRules(ctx context.Context, q string, args ...interface{}) ([]models.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	rules := make([]models.AlertRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(sc scanner) (models.AlertRule, error) {
	var (
		r                models.AlertRule
		typ, cond        string
		created, updated int64
	)
	if err := sc.Scan(&r.ID, &r.UserID, &typ, &r.Target, &cond, &r.Threshold, &r.Enabled, &created, &updated); err != nil {
		return r, err
	}
	r.Type = models.RuleType(typ)
	r.ConditionType = models.ConditionType(cond)
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return r, nil
}

// --- alert logs ---

const logColumns = "id, user_id, rule_id, type, message, severity, is_read, created_at"

func (s *SQLiteStore) AppendLog(ctx context.Context, log *models.AlertLog) error {
	var ruleID sql.NullInt64
	if log.RuleID != nil {
		ruleID = sql.NullInt64{Int64: *log.RuleID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_logs (user_id, rule_id, type, message, severity, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.UserID, ruleID, string(log.Type), log.Message, string(log.Severity), log.IsRead, toMillis(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	log.ID = id
	return nil
}

func (s *SQLiteStore) ListLogs(ctx context.Context, userID string, page, size int) ([]models.AlertLog, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_logs WHERE user_id = ?", userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count logs: %w", err)
	}
	logs, err := s.queryLogs(ctx,
		"SELECT "+logColumns+" FROM alert_logs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		userID, size, page*size)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (s *SQLiteStore) ListUnreadLogs(ctx context.Context, userID string) ([]models.AlertLog, error) {
	return s.queryLogs(ctx,
		"SELECT "+logColumns+" FROM alert_logs WHERE user_id = ? AND is_read = 0 ORDER BY created_at DESC, id DESC",
		userID)
}

func (s *SQLiteStore) CountUnreadLogs(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_logs WHERE user_id = ? AND is_read = 0", userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetLog(ctx context.Context, id int64) (*models.AlertLog, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+logColumns+" FROM alert_logs WHERE id = ?", id)
	log, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (s *SQLiteStore) MarkLogRead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE alert_logs SET is_read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark read %d: %w", id, err)
	}
	return requireRow(res, models.ErrRecordNotFound)
}

func (s *SQLiteStore) MarkAllLogsRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE alert_logs SET is_read = 1 WHERE user_id = ? AND is_read = 0", userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM alert_logs WHERE created_at < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete logs: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) queryLogs(ctx context.Context, q string, args ...interface{}) ([]models.AlertLog, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	logs := make([]models.AlertLog, 0)
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func scanLog(sc scanner) (models.AlertLog, error) {
	var (
		l             models.AlertLog
		ruleID        sql.NullInt64
		typ, severity string
		created       int64
	)
	if err := sc.Scan(&l.ID, &l.UserID, &ruleID, &typ, &l.Message, &severity, &l.IsRead, &created); err != nil {
		return l, err
	}
	if ruleID.Valid {
		id := ruleID.Int64
		l.RuleID = &id
	}
	l.Type = models.RuleType(typ)
	l.Severity = models.Severity(severity)
	l.CreatedAt = fromMillis(created)
	return l, nil
}

// --- settings ---

func (s *SQLiteStore) GetSettings(ctx context.Context, userID string) (*models.DashboardConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT config FROM user_settings WHERE user_id = ?", userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	var cfg models.DashboardConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decode settings for %s: %w", userID, err)
	}
	return &cfg, nil
}

func (s *SQLiteStore) PutSettings(ctx context.Context, userID string, cfg models.DashboardConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, config, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		userID, string(raw), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}

// --- history ---

func (s *SQLiteStore) AppendRecord(ctx context.Context, rec models.SystemRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO system_history (ts, cpu, memory, heap, threads) VALUES (?, ?, ?, ?, ?)",
		toMillis(rec.Timestamp), rec.CPUUsage, rec.MemoryUsagePercent, rec.HeapUsagePercent, rec.ThreadCount)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordsSince(ctx context.Context, since time.Time) ([]models.SystemRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ts, cpu, memory, heap, threads FROM system_history WHERE ts >= ? ORDER BY ts",
		toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]models.SystemRecord, 0)
	for rows.Next() {
		var (
			rec models.SystemRecord
			ts  int64
		)
		if err := rows.Scan(&ts, &rec.CPUUsage, &rec.MemoryUsagePercent, &rec.HeapUsagePercent, &rec.ThreadCount); err != nil {
			return nil, err
		}
		rec.Timestamp = fromMillis(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteRecordsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM system_history WHERE ts < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
