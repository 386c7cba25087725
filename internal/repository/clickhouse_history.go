package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PulseBoard/internal/domain/models"
	domrepo "PulseBoard/internal/domain/repository"
	pkgch "PulseBoard/pkg/clickhouse"
	applogger "PulseBoard/pkg/logger"
)

// HistorySchema creates the telemetry table. The table TTL is a backstop; the
// retention task deletes older rows on its own schedule.
func HistorySchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            ts       DateTime64(3),
            instance LowCardinality(String),
            cpu      Float64,
            memory   Float64,
            heap     Float64,
            threads  UInt32
        )
        ENGINE = MergeTree
        ORDER BY (instance, ts)
        TTL toDateTime(ts) + INTERVAL 30 DAY
    `, table)}
}

// CHHistoryStore keeps telemetry samples in ClickHouse, one row per sample,
// tagged with the writing instance so each instance reads back its own series.
type CHHistoryStore struct {
	db       *sql.DB
	write    func(context.Context) (context.Context, context.CancelFunc)
	table    string
	instance string
	l        *applogger.Logger
}

var _ domrepo.HistoryStore = (*CHHistoryStore)(nil)

func NewCHHistoryStore(ch *pkgch.Client, table, instance string, l *applogger.Logger) *CHHistoryStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHHistoryStore{db: ch.DB(), write: ch.WriteContext, table: table, instance: instance, l: l.Named("clickhouse")}
}

func (s *CHHistoryStore) AppendRecord(ctx context.Context, rec models.SystemRecord) error {
	q := fmt.Sprintf("INSERT INTO %s (ts, instance, cpu, memory, heap, threads) VALUES (?, ?, ?, ?, ?, ?)", s.table)
	ctx, cancel := s.write(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, q,
		rec.Timestamp,
		s.instance,
		rec.CPUUsage,
		rec.MemoryUsagePercent,
		rec.HeapUsagePercent,
		uint32(rec.ThreadCount),
	)
	if err != nil {
		s.l.Error("clickhouse append_record error", applogger.String("table", s.table), applogger.Error(err))
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func (s *CHHistoryStore) RecordsSince(ctx context.Context, since time.Time) ([]models.SystemRecord, error) {
	const qtpl = `
        SELECT ts, cpu, memory, heap, threads
        FROM %s
        WHERE instance = ? AND ts >= ?
        ORDER BY ts ASC
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.table), s.instance, since)
	if err != nil {
		s.l.Error("clickhouse records_since query error", applogger.String("table", s.table), applogger.Error(err))
		return nil, fmt.Errorf("records since: %w", err)
	}
	defer rows.Close()

	out := make([]models.SystemRecord, 0, 256)
	for rows.Next() {
		var (
			rec     models.SystemRecord
			threads uint32
		)
		if err := rows.Scan(&rec.Timestamp, &rec.CPUUsage, &rec.MemoryUsagePercent, &rec.HeapUsagePercent, &threads); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.ThreadCount = int(threads)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// DeleteRecordsOlderThan issues a lightweight delete. ClickHouse does not
// report affected rows for mutations, so the count is always 0.
func (s *CHHistoryStore) DeleteRecordsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE instance = ? AND ts < ?", s.table)
	if _, err := s.db.ExecContext(ctx, q, s.instance, cutoff); err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}
	return 0, nil
}

func (s *CHHistoryStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
