package repository

import (
	"context"
	"errors"
	"time"

	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/domain/repository"
	"PulseBoard/pkg/cache"
	"PulseBoard/pkg/logger"
)

const settingsKeyPrefix = "settings"

// CachedSettingsStore reads dashboard configs through a shared key-value
// cache in front of the durable store. Writes go to the store first and then
// refresh the cached copy, so other instances pick up the new value on their
// next miss.
type CachedSettingsStore struct {
	store repository.SettingsStore
	kv    cache.Service
	ttl   time.Duration
	log   *logger.Logger
}

var _ repository.SettingsStore = (*CachedSettingsStore)(nil)

func NewCachedSettingsStore(store repository.SettingsStore, kv cache.Service, ttl time.Duration, log *logger.Logger) *CachedSettingsStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CachedSettingsStore{store: store, kv: kv, ttl: ttl, log: log.Named("settings")}
}

func (s *CachedSettingsStore) GetSettings(ctx context.Context, userID string) (*models.DashboardConfig, error) {
	key := cache.Key(settingsKeyPrefix, userID)

	var cfg models.DashboardConfig
	err := s.kv.Get(ctx, key, &cfg)
	if err == nil {
		return &cfg, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.Warn("settings cache read failed", logger.String("user_id", userID), logger.Error(err))
	}

	stored, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.kv.Set(ctx, key, stored, s.ttl); err != nil {
		s.log.Warn("settings cache fill failed", logger.String("user_id", userID), logger.Error(err))
	}
	return stored, nil
}

func (s *CachedSettingsStore) PutSettings(ctx context.Context, userID string, cfg models.DashboardConfig) error {
	if err := s.store.PutSettings(ctx, userID, cfg); err != nil {
		return err
	}
	key := cache.Key(settingsKeyPrefix, userID)
	if err := s.kv.Set(ctx, key, cfg, s.ttl); err != nil {
		// a stale cached copy would outlive the write, so drop it instead
		_ = s.kv.Delete(ctx, key)
		s.log.Warn("settings cache update failed", logger.String("user_id", userID), logger.Error(err))
	}
	return nil
}
