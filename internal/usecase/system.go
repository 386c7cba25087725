package usecase

import (
	"context"
	"time"

	"PulseBoard/internal/domain/models"
	drepo "PulseBoard/internal/domain/repository"

	"github.com/jonboulle/clockwork"
)

// SystemService records telemetry samples and serves their history.
type SystemService struct {
	telemetry TelemetrySource
	history   drepo.HistoryStore
	clock     clockwork.Clock
}

func NewSystemService(telemetry TelemetrySource, history drepo.HistoryStore, clock clockwork.Clock) *SystemService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SystemService{telemetry: telemetry, history: history, clock: clock}
}

// RecordSample appends the current telemetry to the history store.
func (s *SystemService) RecordSample(ctx context.Context) error {
	rec := models.RecordFrom(s.telemetry.Collect(), s.clock.Now().UTC())
	return s.history.AppendRecord(ctx, rec)
}

// History returns samples from the last minutes, oldest first.
func (s *SystemService) History(ctx context.Context, minutes int) ([]models.SystemRecord, error) {
	since := s.clock.Now().Add(-time.Duration(minutes) * time.Minute)
	return s.history.RecordsSince(ctx, since)
}

// Prune deletes samples older than keep.
func (s *SystemService) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	return s.history.DeleteRecordsOlderThan(ctx, s.clock.Now().Add(-keep))
}
