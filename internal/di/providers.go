package di

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"PulseBoard/internal/domain/models"
	drepo "PulseBoard/internal/domain/repository"
	"PulseBoard/internal/handler/api"
	"PulseBoard/internal/middleware"
	"PulseBoard/internal/repository"
	icache "PulseBoard/internal/service/cache"
	"PulseBoard/internal/service/ratelimit"
	"PulseBoard/internal/service/sources"
	"PulseBoard/internal/usecase"
	pkgcache "PulseBoard/pkg/cache"
	pkgch "PulseBoard/pkg/clickhouse"
	"PulseBoard/pkg/config"
	xhttp "PulseBoard/pkg/http"
	pkgkafka "PulseBoard/pkg/kafka"
	applogger "PulseBoard/pkg/logger"
	"PulseBoard/pkg/metrics"
	"PulseBoard/pkg/server"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

// Store is the primary persistence backend: rules, alert logs, settings and
// the local telemetry history.
type Store interface {
	drepo.RuleStore
	drepo.AlertLogStore
	drepo.SettingsStore
	drepo.HistoryStore
}

func nop() {}

// ProvideKafkaProducer creates the producer shared by the event publisher and
// the log collector. It returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, nop, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithBatch(cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the root logger. Error lines are aggregated and shipped
// to the log topic when Kafka is on.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collect && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: cfg.Log.CollectInterval,
			Topic:        cfg.Log.CollectTopic,
			Source:       cfg.InstanceID,
			Publisher:    producer,
		})
	}
	return l, nil
}

func ProvideClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

// ProvideRegistry returns the registry served on /metrics, with the Go
// runtime and process collectors attached.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

// ProvideStore opens SQLite, or an in-memory store for throwaway runs.
func ProvideStore(cfg *config.Config) (Store, func(), error) {
	if cfg.Storage.Driver == "memory" {
		return repository.NewMemoryStore(), nop, nil
	}
	if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := repository.OpenSQLite(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// ProvideKeyValue builds the key-value backend used by the settings cache and
// the retention lock. Redis makes both shared across instances.
func ProvideKeyValue(cfg *config.Config, l *applogger.Logger) (pkgcache.Service, func(), error) {
	memory := func() *pkgcache.MemoryCache {
		return pkgcache.NewMemoryCache(
			pkgcache.WithMemoryMaxSize(10000),
			pkgcache.WithMemoryCleanup(time.Minute),
			pkgcache.WithMemoryDefaultTTL(cfg.Storage.SettingsCacheTTL),
		)
	}
	if !cfg.RedisNeeded() {
		mc := memory()
		return mc, func() { _ = mc.Close() }, nil
	}

	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		pkgcache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, 2, cfg.Redis.Timeout),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	l.Info("redis connected", applogger.String("host", cfg.Redis.Host), applogger.Int("port", cfg.Redis.Port))
	if cfg.Storage.SettingsCache == "layered" {
		lc := pkgcache.NewLayeredCache(rc,
			pkgcache.WithLayeredL1(1000, 30*time.Second),
		)
		return lc, func() { _ = lc.Close() }, nil
	}
	return rc, func() { _ = rc.Close() }, nil
}

func ProvideSettingsStore(cfg *config.Config, store Store, kv pkgcache.Service, l *applogger.Logger) drepo.SettingsStore {
	if cfg.Storage.SettingsCache == "none" {
		return store
	}
	return repository.NewCachedSettingsStore(store, kv, cfg.Storage.SettingsCacheTTL, l)
}

// ProvideHistoryStore keeps telemetry history in ClickHouse when enabled and
// in the primary store otherwise.
func ProvideHistoryStore(cfg *config.Config, store Store, l *applogger.Logger) (drepo.HistoryStore, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return store, nop, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithAddr(ch.Host, ch.Port),
		pkgch.WithAuth(ch.Database, ch.User, ch.Password),
		pkgch.WithPool(10, 5, time.Hour),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, false),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	table := ch.Database + "." + ch.Table
	stmts := append([]string{"CREATE DATABASE IF NOT EXISTS " + ch.Database}, repository.HistorySchema(table)...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", applogger.String("table", table))
	return repository.NewCHHistoryStore(client, table, cfg.InstanceID, l), func() { _ = client.Close() }, nil
}

func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer) drepo.EventPublisher {
	if producer == nil {
		return repository.NopPublisher{}
	}
	return repository.NewKafkaPublisher(producer, cfg.Kafka.AlertTopic, cfg.Kafka.ConfigTopic)
}

// ProvideKafkaConsumer returns nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.ConsumerWorkers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.ConsumerRetryMax, 50*time.Millisecond, 2*time.Second),
		pkgkafka.WithConsumerLogger(l.Named("kafka")),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.LoggingHook(l.Named("kafka")))
	return consumer, nil
}

func ProvideSystemCollector(clock clockwork.Clock, l *applogger.Logger) *sources.SystemCollector {
	return sources.NewSystemCollector("", clock, l)
}

func feedSpecs(feeds []config.FeedConfig) map[models.FeedSource]sources.FeedSpec {
	if len(feeds) == 0 {
		return sources.DefaultFeeds()
	}
	out := make(map[models.FeedSource]sources.FeedSpec, len(feeds))
	for _, f := range feeds {
		out[models.FeedSource(f.Key)] = sources.FeedSpec{URL: f.URL, Title: f.Title, Source: f.Source}
	}
	return out
}

// ProvideCaches builds one refresh cache per upstream. Each cache gets its
// own pacer so a full refresh of one source never bursts.
func ProvideCaches(cfg *config.Config, clock clockwork.Clock, l *applogger.Logger, rec *metrics.Recorder) usecase.Caches {
	up := cfg.Upstream
	client := func(baseURL string) sources.ClientConfig {
		return sources.ClientConfig{BaseURL: baseURL, Timeout: up.Timeout, RetryCount: up.RetryCount}
	}
	common := func(ttl time.Duration) []icache.Option {
		return []icache.Option{
			icache.WithTTL(ttl),
			icache.WithFetchTimeout(up.FetchTimeout),
			icache.WithClock(clock),
			icache.WithPacer(rate.NewLimiter(rate.Every(up.KeyInterval), 1)),
			icache.WithLogger(l),
			icache.WithMetrics(rec),
		}
	}

	quotes := sources.NewFinnhubQuotes(sources.NewHTTPClient(client(cfg.Finnhub.BaseURL), l), cfg.Finnhub.APIKey)
	weather := sources.NewOpenWeather(sources.NewHTTPClient(client(cfg.OpenWeather.BaseURL), l), cfg.OpenWeather.APIKey, models.MajorCities(), clock)
	feeds := sources.NewRSSFeeds(sources.NewHTTPClient(client(""), l), feedSpecs(cfg.News.Feeds), clock)
	traffic := sources.NewTrafficEvents(sources.NewHTTPClient(client(cfg.PublicData.TrafficURL), l), cfg.PublicData.TrafficKey)
	emergency := sources.NewEmergencyAlerts(sources.NewHTTPClient(client(cfg.PublicData.EmergencyURL), l), cfg.PublicData.EmergencyKey, clock)

	caches := usecase.Caches{
		Quotes:    icache.New[models.Quote]("quotes", quotes, common(cfg.Finnhub.TTL)...),
		Weather:   icache.New[models.WeatherData]("weather", weather, common(cfg.OpenWeather.TTL)...),
		Feeds:     icache.New[models.Feed]("feeds", feeds, common(cfg.News.TTL)...),
		Traffic:   icache.New[json.RawMessage]("traffic", traffic, append(common(cfg.PublicData.TTL), icache.WithDefault(sources.EmptyTraffic))...),
		Emergency: icache.New[json.RawMessage]("emergency", emergency, append(common(cfg.PublicData.TTL), icache.WithDefault(sources.EmptyEmergency))...),
	}
	caches.Quotes.Track(models.DefaultDashboardConfig().Symbols()...)
	caches.Weather.Track(models.CityNames()...)
	caches.Feeds.Track(feeds.Keys()...)
	caches.Traffic.Track(sources.PublicDataKey)
	caches.Emergency.Track(sources.PublicDataKey)
	return caches
}

func ProvideBroadcaster(cfg *config.Config, clock clockwork.Clock, l *applogger.Logger, rec *metrics.Recorder) *usecase.Broadcaster {
	return usecase.NewBroadcaster(
		usecase.BroadcasterConfig{SettleDelay: cfg.Stream.SettleDelay, Workers: cfg.Stream.Workers},
		usecase.WithBroadcasterClock(clock),
		usecase.WithBroadcasterLogger(l),
		usecase.WithBroadcasterMetrics(rec),
	)
}

func ProvideAlertService(cfg *config.Config, store Store, b *usecase.Broadcaster, pub drepo.EventPublisher, clock clockwork.Clock, l *applogger.Logger) *usecase.AlertService {
	return usecase.NewAlertService(store, store, b, pub, cfg.InstanceID, clock, l)
}

func ProvideAlertEvaluator(cfg *config.Config, store Store, alerts *usecase.AlertService, clock clockwork.Clock, l *applogger.Logger, rec *metrics.Recorder) *usecase.AlertEvaluator {
	return usecase.NewAlertEvaluator(store, alerts,
		usecase.WithCooldowns(
			usecase.CooldownPolicy{Window: cfg.Alerts.RuleCooldown},
			usecase.CooldownPolicy{Window: cfg.Alerts.WeatherCooldown},
		),
		usecase.WithEvaluatorClock(clock),
		usecase.WithEvaluatorLogger(l),
		usecase.WithEvaluatorMetrics(rec),
	)
}

// ProvideDashboardService also makes the dashboard the broadcaster's source of
// first snapshots for new connections.
func ProvideDashboardService(
	cfg *config.Config,
	caches usecase.Caches,
	settings drepo.SettingsStore,
	telemetry *sources.SystemCollector,
	pub drepo.EventPublisher,
	b *usecase.Broadcaster,
	clock clockwork.Clock,
	l *applogger.Logger,
) *usecase.DashboardService {
	svc := usecase.NewDashboardService(caches, models.MajorCities(), settings, telemetry, pub, cfg.InstanceID, clock, l)
	b.SetSnapshotProvider(svc)
	return svc
}

func ProvideSystemService(telemetry *sources.SystemCollector, history drepo.HistoryStore, clock clockwork.Clock) *usecase.SystemService {
	return usecase.NewSystemService(telemetry, history, clock)
}

func ProvideSchedule(cfg *config.Config) usecase.Schedule {
	s := cfg.Schedule
	return usecase.Schedule{
		Telemetry:        s.Telemetry,
		FullSnapshot:     s.FullSnapshot,
		Quotes:           s.Quotes,
		Weather:          s.Weather,
		Feeds:            s.Feeds,
		PublicData:       s.PublicData,
		History:          s.History,
		Retention:        s.Retention,
		RebroadcastDelay: s.RebroadcastDelay,
		LogRetention:     s.LogRetention,
		HistoryRetention: s.HistoryRetention,
	}
}

func ProvideCoordinator(
	schedule usecase.Schedule,
	dashboard *usecase.DashboardService,
	system *usecase.SystemService,
	b *usecase.Broadcaster,
	evaluator *usecase.AlertEvaluator,
	store Store,
	kv pkgcache.Service,
	clock clockwork.Clock,
	l *applogger.Logger,
	rec *metrics.Recorder,
) *usecase.Coordinator {
	return usecase.NewCoordinator(schedule, dashboard, system, b, evaluator, store,
		usecase.WithCoordinatorClock(clock),
		usecase.WithCoordinatorLogger(l),
		usecase.WithCoordinatorMetrics(rec),
		usecase.WithLocker(kv),
	)
}

// ProvideHTTPHandler groups the API handlers behind the user identity and
// per-user rate limit middleware.
func ProvideHTTPHandler(
	cfg *config.Config,
	l *applogger.Logger,
	dashboard *usecase.DashboardService,
	b *usecase.Broadcaster,
	coordinator *usecase.Coordinator,
	alerts *usecase.AlertService,
	system *usecase.SystemService,
) xhttp.Handler {
	identity := middleware.UserIdentity(ratelimit.New(cfg.RateLimit.Every, cfg.RateLimit.Burst))
	stream := api.StreamConfig{
		Heartbeat:   cfg.Stream.Heartbeat,
		MaxLifetime: cfg.Stream.MaxLifetime,
		SendBuffer:  cfg.Stream.SendBuffer,
	}
	return xhttp.Handlers{
		api.NewDashboardHandler(l, dashboard, b, coordinator, stream, identity),
		api.NewAlertsHandler(l, alerts, identity),
		api.NewSystemHandler(l, system, identity),
	}
}

func ProvideHTTPServer(cfg *config.Config, h xhttp.Handler, l *applogger.Logger, reg *prometheus.Registry) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithLogger(l.Named("http")),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, cfg.Server.SlowRequest))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp assembles the lifecycle. With Kafka on, the consumer serves
// config changes and alerts coming from other instances.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	coordinator *usecase.Coordinator,
	b *usecase.Broadcaster,
	alerts *usecase.AlertService,
	consumer *pkgkafka.Consumer,
) *server.App {
	app := server.New(l, srv, coordinator, b, cfg.Server.ShutdownTimeout+5*time.Second)
	app.SetConsumer(consumer,
		usecase.NewConfigChangeHandler(cfg.Kafka.ConfigTopic, cfg.InstanceID, coordinator),
		usecase.NewRemoteAlertHandler(cfg.Kafka.AlertTopic, alerts),
	)
	app.OnShutdown("log collector", func() error {
		l.RemoveCollector()
		return nil
	})
	return app
}
