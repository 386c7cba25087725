package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"PulseBoard/internal/domain/models"
	drepo "PulseBoard/internal/domain/repository"
	"PulseBoard/internal/service/cache"
	"PulseBoard/internal/service/sources"
	applogger "PulseBoard/pkg/logger"

	"github.com/jonboulle/clockwork"
)

// Caches groups the per-source refresh caches.
type Caches struct {
	Quotes    *cache.RefreshCache[models.Quote]
	Weather   *cache.RefreshCache[models.WeatherData]
	Feeds     *cache.RefreshCache[models.Feed]
	Traffic   *cache.RefreshCache[json.RawMessage]
	Emergency *cache.RefreshCache[json.RawMessage]
}

// Statuses reports every cache.
func (c Caches) Statuses() []cache.Status {
	return []cache.Status{
		c.Quotes.Status(),
		c.Weather.Status(),
		c.Feeds.Status(),
		c.Traffic.Status(),
		c.Emergency.Status(),
	}
}

// TelemetrySource samples process and host telemetry.
type TelemetrySource interface {
	Collect() models.SystemData
}

// DashboardService assembles snapshots from the caches and owns per-user
// dashboard configs.
type DashboardService struct {
	caches     Caches
	cities     []models.City
	settings   drepo.SettingsStore
	telemetry  TelemetrySource
	publisher  drepo.EventPublisher
	instanceID string
	clock      clockwork.Clock
	log        *applogger.Logger
}

func NewDashboardService(
	caches Caches,
	cities []models.City,
	settings drepo.SettingsStore,
	telemetry TelemetrySource,
	publisher drepo.EventPublisher,
	instanceID string,
	clock clockwork.Clock,
	log *applogger.Logger,
) *DashboardService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &DashboardService{
		caches:     caches,
		cities:     cities,
		settings:   settings,
		telemetry:  telemetry,
		publisher:  publisher,
		instanceID: instanceID,
		clock:      clock,
		log:        log.Named("dashboard"),
	}
}

func (s *DashboardService) Caches() Caches { return s.caches }

// Config returns userID's dashboard config, or the default when the user is
// anonymous, has none, or the store fails.
func (s *DashboardService) Config(ctx context.Context, userID string) models.DashboardConfig {
	if userID == "" {
		return models.DefaultDashboardConfig()
	}
	cfg, err := s.settings.GetSettings(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrRecordNotFound) {
			s.log.Warn("load settings", applogger.String("user_id", userID), applogger.Error(err))
		}
		return models.DefaultDashboardConfig()
	}
	return *cfg
}

// UpdateConfig stores a new config for userID. A nil YoutubeURL keeps the
// current one. New symbols are tracked by the quote cache right away.
func (s *DashboardService) UpdateConfig(ctx context.Context, userID string, req models.UpdateConfigRequest) (models.DashboardConfig, error) {
	if len(req.Tickers) == 0 {
		return models.DashboardConfig{}, models.InvalidConfig("tickers must not be empty")
	}
	tickers := make([]models.TickerConfig, 0, len(req.Tickers))
	for _, t := range req.Tickers {
		sym := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if sym == "" {
			return models.DashboardConfig{}, models.InvalidConfig("ticker symbol must not be empty")
		}
		tickers = append(tickers, models.TickerConfig{Symbol: sym, Name: strings.TrimSpace(t.Name)})
	}

	current := s.Config(ctx, userID)
	next := models.DashboardConfig{YoutubeURL: req.YoutubeURL, Tickers: tickers}
	if next.YoutubeURL == nil {
		next.YoutubeURL = current.YoutubeURL
	}

	if err := s.settings.PutSettings(ctx, userID, next); err != nil {
		return models.DashboardConfig{}, err
	}
	s.caches.Quotes.Track(next.Symbols()...)
	s.log.Info("config updated", applogger.String("user_id", userID), applogger.Int("tickers", len(tickers)))

	if s.publisher != nil {
		ev := models.ConfigChangeEvent{UserID: userID, InstanceID: s.instanceID, ChangedAt: s.clock.Now().UTC()}
		if err := s.publisher.PublishConfigChange(ctx, ev); err != nil {
			s.log.Warn("publish config change", applogger.Error(err))
		}
	}
	return next, nil
}

// Snapshot builds the full snapshot for userID from whatever is cached.
func (s *DashboardService) Snapshot(ctx context.Context, userID string) (models.DashboardData, error) {
	cfg := s.Config(ctx, userID)
	stocks := s.Stocks(ctx, cfg)
	news := s.News(ctx)
	sys := s.telemetry.Collect()
	return models.DashboardData{
		Type:      models.SnapshotFull,
		Timestamp: s.clock.Now().UTC(),
		Stocks:    &stocks,
		Weather:   s.Weather(),
		News:      &news,
		System:    &sys,
	}, nil
}

// Stocks returns quotes for cfg's tickers in order. Unavailable quotes keep
// their symbol and name with nil prices.
func (s *DashboardService) Stocks(ctx context.Context, cfg models.DashboardConfig) models.StocksData {
	out := models.StocksData{Quotes: make([]models.StockQuote, 0, len(cfg.Tickers))}
	for _, t := range cfg.Tickers {
		q, err := s.caches.Quotes.Get(ctx, t.Symbol)
		if err != nil {
			out.Quotes = append(out.Quotes, models.StockQuoteFrom(t.Symbol, t.Name, nil))
			continue
		}
		if e, ok := s.caches.Quotes.Peek(t.Symbol); ok && e.FetchedAt.After(out.FetchedAt) {
			out.FetchedAt = e.FetchedAt
		}
		out.Quotes = append(out.Quotes, models.StockQuoteFrom(t.Symbol, t.Name, &q))
	}
	if out.FetchedAt.IsZero() {
		out.FetchedAt = s.clock.Now().UTC()
	}
	return out
}

// TrackedQuotes returns every cached quote, for alert evaluation.
func (s *DashboardService) TrackedQuotes() []models.StockQuote {
	entries := s.caches.Quotes.Entries()
	out := make([]models.StockQuote, 0, len(entries))
	for _, e := range entries {
		if !e.HasValue() {
			continue
		}
		q := e.Value
		out = append(out, models.StockQuoteFrom(e.Key, e.Key, &q))
	}
	return out
}

// Weather returns cached conditions for the configured cities in order.
// Cities that never loaded are left out.
func (s *DashboardService) Weather() []models.WeatherData {
	out := make([]models.WeatherData, 0, len(s.cities))
	for _, c := range s.cities {
		if e, ok := s.caches.Weather.Peek(c.Name); ok && e.HasValue() {
			out = append(out, e.Value)
		}
	}
	return out
}

// News returns the two dashboard feeds.
func (s *DashboardService) News(ctx context.Context) models.NewsData {
	yahoo, _ := s.caches.Feeds.Get(ctx, string(models.FeedYahooMarket))
	yonhap, _ := s.caches.Feeds.Get(ctx, string(models.FeedYonhapAll))
	fetched := yahoo.FetchedAt
	if yonhap.FetchedAt.After(fetched) {
		fetched = yonhap.FetchedAt
	}
	if fetched.IsZero() {
		fetched = s.clock.Now().UTC()
	}
	return models.NewsData{YahooNews: yahoo.NewsItems(), YonhapNews: yonhap.NewsItems(), FetchedAt: fetched}
}

// Traffic returns the cached traffic document.
func (s *DashboardService) Traffic(ctx context.Context) json.RawMessage {
	doc, _ := s.caches.Traffic.Get(ctx, sources.PublicDataKey)
	if len(doc) == 0 {
		return sources.EmptyTraffic
	}
	return doc
}

// Emergency returns the cached emergency document.
func (s *DashboardService) Emergency(ctx context.Context) json.RawMessage {
	doc, _ := s.caches.Emergency.Get(ctx, sources.PublicDataKey)
	if len(doc) == 0 {
		return sources.EmptyEmergency
	}
	return doc
}

// System samples telemetry now.
func (s *DashboardService) System() models.SystemData {
	return s.telemetry.Collect()
}
