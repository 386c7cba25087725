package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/domain/repository"
)

// MemoryStore is the process-local store used when no database is configured
// and in tests. Contents are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	nextRule int64
	nextLog  int64
	rules    map[int64]models.AlertRule
	logs     []models.AlertLog
	settings map[string]models.DashboardConfig
	history  []models.SystemRecord
}

var (
	_ repository.RuleStore     = (*MemoryStore)(nil)
	_ repository.AlertLogStore = (*MemoryStore)(nil)
	_ repository.SettingsStore = (*MemoryStore)(nil)
	_ repository.HistoryStore  = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:    make(map[int64]models.AlertRule),
		settings: make(map[string]models.DashboardConfig),
	}
}

func (m *MemoryStore) SaveRule(_ context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rule.ID == 0 {
		m.nextRule++
		rule.ID = m.nextRule
		m.rules[rule.ID] = *rule
		return nil
	}
	existing, ok := m.rules[rule.ID]
	if !ok {
		return models.ErrRuleNotFound
	}
	updated := *rule
	updated.UserID = existing.UserID
	updated.CreatedAt = existing.CreatedAt
	m.rules[rule.ID] = updated
	return nil
}

func (m *MemoryStore) GetRule(_ context.Context, id int64) (*models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, models.ErrRuleNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListRules(_ context.Context, userID string) ([]models.AlertRule, error) {
	return m.filterRules(func(r models.AlertRule) bool { return r.UserID == userID }), nil
}

func (m *MemoryStore) ListEnabledRules(_ context.Context, types ...models.RuleType) ([]models.AlertRule, error) {
	return m.filterRules(func(r models.AlertRule) bool {
		if !r.Enabled {
			return false
		}
		if len(types) == 0 {
			return true
		}
		for _, t := range types {
			if r.Type == t {
				return true
			}
		}
		return false
	}), nil
}

func (m *MemoryStore) DeleteRule(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return models.ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MemoryStore) filterRules(keep func(models.AlertRule) bool) []models.AlertRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AlertRule, 0)
	for _, r := range m.rules {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) AppendLog(_ context.Context, log *models.AlertLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLog++
	log.ID = m.nextLog
	m.logs = append(m.logs, *log)
	return nil
}

// userLogs returns a user's logs newest first. Caller holds the read lock.
func (m *MemoryStore) userLogs(userID string, unreadOnly bool) []models.AlertLog {
	out := make([]models.AlertLog, 0)
	for i := len(m.logs) - 1; i >= 0; i-- {
		l := m.logs[i]
		if l.UserID != userID || (unreadOnly && l.IsRead) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) ListLogs(_ context.Context, userID string, page, size int) ([]models.AlertLog, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.userLogs(userID, false)
	start := page * size
	if start >= len(all) {
		return []models.AlertLog{}, int64(len(all)), nil
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (m *MemoryStore) ListUnreadLogs(_ context.Context, userID string) ([]models.AlertLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userLogs(userID, true), nil
}

func (m *MemoryStore) CountUnreadLogs(_ context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, l := range m.logs {
		if l.UserID == userID && !l.IsRead {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetLog(_ context.Context, id int64) (*models.AlertLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.logs {
		if l.ID == id {
			return &l, nil
		}
	}
	return nil, models.ErrRecordNotFound
}

func (m *MemoryStore) MarkLogRead(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.logs {
		if m.logs[i].ID == id {
			m.logs[i].IsRead = true
			return nil
		}
	}
	return models.ErrRecordNotFound
}

func (m *MemoryStore) MarkAllLogsRead(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.logs {
		if m.logs[i].UserID == userID && !m.logs[i].IsRead {
			m.logs[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteLogsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	var n int64
	for _, l := range m.logs {
		if l.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	m.logs = kept
	return n, nil
}

func (m *MemoryStore) GetSettings(_ context.Context, userID string) (*models.DashboardConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.settings[userID]
	if !ok {
		return nil, models.ErrRecordNotFound
	}
	return &cfg, nil
}

func (m *MemoryStore) PutSettings(_ context.Context, userID string, cfg models.DashboardConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.Tickers = append([]models.TickerConfig(nil), cfg.Tickers...)
	m.settings[userID] = cfg
	return nil
}

func (m *MemoryStore) AppendRecord(_ context.Context, rec models.SystemRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, rec)
	return nil
}

func (m *MemoryStore) RecordsSince(_ context.Context, since time.Time) ([]models.SystemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SystemRecord, 0)
	for _, r := range m.history {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) DeleteRecordsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.history[:0]
	var n int64
	for _, r := range m.history {
		if r.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.history = kept
	return n, nil
}
