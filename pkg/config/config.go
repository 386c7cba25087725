package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	// InstanceID tags events this process publishes. Defaults to the hostname.
	InstanceID string `yaml:"instance_id"`

	Log         LogConfig         `yaml:"log"`
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Storage     StorageConfig     `yaml:"storage"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Finnhub     FinnhubConfig     `yaml:"finnhub"`
	OpenWeather OpenWeatherConfig `yaml:"openweather"`
	PublicData  PublicDataConfig  `yaml:"publicdata"`
	News        NewsConfig        `yaml:"news"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Stream      StreamConfig      `yaml:"stream"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Alerts      AlertsConfig      `yaml:"alerts"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output string `yaml:"output" default:"stdout"`
	// Collect ships aggregated error lines to Kafka when Kafka is enabled.
	Collect         bool          `yaml:"collect" default:"true"`
	CollectTopic    string        `yaml:"collect_topic" default:"pulseboard.logs"`
	CollectInterval time.Duration `yaml:"collect_interval" default:"30s"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	SlowRequest     time.Duration `yaml:"slow_request" default:"2s"`
	CORS            bool          `yaml:"cors" default:"true"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite memory"`
	Path   string `yaml:"path" default:"data/pulseboard.db"`
	// SettingsCache picks the read-through cache in front of user settings.
	SettingsCache    string        `yaml:"settings_cache" default:"memory" validate:"oneof=none memory redis layered"`
	SettingsCacheTTL time.Duration `yaml:"settings_cache_ttl" default:"10m"`
}

type RedisConfig struct {
	Host     string        `yaml:"host" default:"localhost"`
	Port     int           `yaml:"port" default:"6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix" default:"pulseboard"`
	PoolSize int           `yaml:"pool_size" default:"10"`
	Timeout  time.Duration `yaml:"timeout" default:"3s"`
}

type KafkaConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Brokers          []string      `yaml:"brokers" default:"[\"localhost:9092\"]"`
	AlertTopic       string        `yaml:"alert_topic" default:"pulseboard.alerts"`
	ConfigTopic      string        `yaml:"config_topic" default:"pulseboard.config-changes"`
	GroupID          string        `yaml:"group_id"`
	Compression      string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	RequiredAcks     int           `yaml:"required_acks" default:"1"`
	MaxAttempts      int           `yaml:"max_attempts" default:"3"`
	BatchSize        int           `yaml:"batch_size" default:"100"`
	BatchTimeout     time.Duration `yaml:"batch_timeout" default:"50ms"`
	ConsumerWorkers  int           `yaml:"consumer_workers" default:"2"`
	ConsumerRetryMax int           `yaml:"consumer_retry_max" default:"3"`
}

type ClickHouseConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"9000"`
	Database     string        `yaml:"database" default:"pulseboard"`
	User         string        `yaml:"user" default:"default"`
	Password     string        `yaml:"password"`
	Table        string        `yaml:"table" default:"system_history"`
	UseHTTP      bool          `yaml:"use_http"`
	AsyncInsert  bool          `yaml:"async_insert" default:"true"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecTime  time.Duration `yaml:"max_execution_time" default:"30s"`
}

// UpstreamConfig shapes every outbound HTTP client.
type UpstreamConfig struct {
	Timeout      time.Duration `yaml:"timeout" default:"10s"`
	RetryCount   int           `yaml:"retry_count" default:"2"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" default:"15s"`
	// KeyInterval spaces fetches of different keys of one source.
	KeyInterval time.Duration `yaml:"key_interval" default:"200ms"`
}

type FinnhubConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url" default:"https://finnhub.io/api/v1"`
	TTL     time.Duration `yaml:"ttl" default:"60s"`
}

type OpenWeatherConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url" default:"https://api.openweathermap.org"`
	TTL     time.Duration `yaml:"ttl" default:"60s"`
}

type PublicDataConfig struct {
	TrafficKey   string        `yaml:"traffic_key"`
	TrafficURL   string        `yaml:"traffic_url" default:"https://openapi.its.go.kr:9443/eventInfo"`
	EmergencyKey string        `yaml:"emergency_key"`
	EmergencyURL string        `yaml:"emergency_url" default:"https://www.safetydata.go.kr/V2/api/DSSP-IF-00247"`
	TTL          time.Duration `yaml:"ttl" default:"5m"`
}

// NewsConfig lists the RSS/Atom feeds. An empty list uses the built-in feeds.
type NewsConfig struct {
	TTL   time.Duration `yaml:"ttl" default:"10m"`
	Feeds []FeedConfig  `yaml:"feeds" validate:"dive"`
}

type FeedConfig struct {
	Key    string `yaml:"key" validate:"required"`
	URL    string `yaml:"url" validate:"required,url"`
	Title  string `yaml:"title"`
	Source string `yaml:"source"`
}

type ScheduleConfig struct {
	Telemetry        time.Duration `yaml:"telemetry" default:"5s"`
	FullSnapshot     time.Duration `yaml:"full_snapshot" default:"60s"`
	Quotes           time.Duration `yaml:"quotes" default:"60s"`
	Weather          time.Duration `yaml:"weather" default:"60s"`
	Feeds            time.Duration `yaml:"feeds" default:"10m"`
	PublicData       time.Duration `yaml:"public_data" default:"5m"`
	History          time.Duration `yaml:"history" default:"1m"`
	Retention        time.Duration `yaml:"retention" default:"24h"`
	RebroadcastDelay time.Duration `yaml:"rebroadcast_delay" default:"500ms"`
	LogRetention     time.Duration `yaml:"log_retention" default:"720h"`
	HistoryRetention time.Duration `yaml:"history_retention" default:"168h"`
}

type StreamConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay" default:"100ms"`
	Workers     int           `yaml:"workers" default:"8"`
	Heartbeat   time.Duration `yaml:"heartbeat" default:"15s"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	SendBuffer  int           `yaml:"send_buffer" default:"16"` // per SSE/WebSocket connection
}

// RateLimitConfig throttles API callers per user id. Zero Every disables it.
// AlertsConfig sets the cooldown per alert class. Rule alerts are keyed by
// rule and target, weather advisories by city.
type AlertsConfig struct {
	RuleCooldown    time.Duration `yaml:"rule_cooldown" default:"60s" validate:"gt=0"`
	WeatherCooldown time.Duration `yaml:"weather_cooldown" default:"10m" validate:"gt=0"`
}

type RateLimitConfig struct {
	Every time.Duration `yaml:"every" default:"50ms"`
	Burst int           `yaml:"burst" default:"40"`
}

// Load fills defaults, overlays the YAML file at path (optional), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	// Defaults go in first so an explicit false or zero in the file survives.
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if c.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "pulseboard"
		}
		c.InstanceID = host
	}
	if c.Kafka.GroupID == "" {
		// Each instance must see every config change, so groups are per instance.
		c.Kafka.GroupID = "pulseboard-" + c.InstanceID
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"ENVIRONMENT":              &c.Environment,
		"INSTANCE_ID":              &c.InstanceID,
		"LOG_LEVEL":                &c.Log.Level,
		"LOG_FORMAT":               &c.Log.Format,
		"STORAGE_DRIVER":           &c.Storage.Driver,
		"SQLITE_PATH":              &c.Storage.Path,
		"SETTINGS_CACHE":           &c.Storage.SettingsCache,
		"REDIS_HOST":               &c.Redis.Host,
		"REDIS_PASSWORD":           &c.Redis.Password,
		"CLICKHOUSE_HOST":          &c.ClickHouse.Host,
		"CLICKHOUSE_PASSWORD":      &c.ClickHouse.Password,
		"FINNHUB_API_KEY":          &c.Finnhub.APIKey,
		"OPENWEATHER_API_KEY":      &c.OpenWeather.APIKey,
		"PUBLICDATA_TRAFFIC_KEY":   &c.PublicData.TrafficKey,
		"PUBLICDATA_EMERGENCY_KEY": &c.PublicData.EmergencyKey,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HTTP_PORT":       &c.Server.Port,
		"REDIS_PORT":      &c.Redis.Port,
		"CLICKHOUSE_PORT": &c.ClickHouse.Port,
	}
	for name, dst := range ints {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		host, port, found := strings.Cut(v, ":")
		c.Redis.Host = host
		if found {
			n, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("REDIS_ADDR: %w", err)
			}
			c.Redis.Port = n
		}
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v, ok := lookup("CLICKHOUSE_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CLICKHOUSE_ENABLED: %w", err)
		}
		c.ClickHouse.Enabled = b
	}
	return nil
}

// Validate checks field constraints and the cross-field rules the tags can't express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	var errs []error
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required for sqlite"))
	}
	if c.Schedule.RebroadcastDelay <= 0 {
		errs = append(errs, errors.New("schedule.rebroadcast_delay must be positive"))
	}
	return errors.Join(errs...)
}

// RedisNeeded reports whether any component uses Redis.
func (c *Config) RedisNeeded() bool {
	return c.Storage.SettingsCache == "redis" || c.Storage.SettingsCache == "layered"
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
