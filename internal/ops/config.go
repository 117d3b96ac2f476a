// Package ops loads the service configuration.
//
// Values come from an optional JSON file, then a .env file when present, then
// L4BOOK_* environment variables. Unset fields are filled with defaults.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"

	"l4book/internal/feed"
	"l4book/pkg/conn"
)

const envPrefix = "L4BOOK_"

const (
	defaultFeedKind       = feed.KindWebSocket
	defaultFeedURL        = "wss://api.hyperliquid.xyz/ws"
	defaultQueueSize      = 1024
	defaultRecorderPrefix = "l4"
	defaultMetricsAddr    = ":9100"
	defaultSampleInterval = time.Second
	defaultSampleLevels   = 10
	defaultReplaySpeed    = 1.0
	defaultAppName        = "l4book"
)

// Config mirrors the JSON config layout.
type Config struct {
	Feed      FeedConfig      `json:"feed" envPrefix:"FEED_"`
	Book      BookConfig      `json:"book" envPrefix:"BOOK_"`
	Recorder  RecorderConfig  `json:"recorder" envPrefix:"RECORDER_"`
	Metrics   MetricsConfig   `json:"metrics" envPrefix:"METRICS_"`
	Sampler   SamplerConfig   `json:"sampler" envPrefix:"SAMPLER_"`
	Postgres  PostgresConfig  `json:"postgres" envPrefix:"POSTGRES_"`
	Profiling ProfilingConfig `json:"profiling" envPrefix:"PROFILING_"`
}

// FeedConfig selects and configures the market data source.
type FeedConfig struct {
	Kind  string   `json:"kind" env:"KIND"`
	URL   string   `json:"url" env:"URL"`
	Coins []string `json:"coins" env:"COINS" envSeparator:","`

	KafkaBrokers []string `json:"kafkaBrokers" env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `json:"kafkaTopic" env:"KAFKA_TOPIC"`
	KafkaGroup   string   `json:"kafkaGroup" env:"KAFKA_GROUP"`

	ReplayDir    string  `json:"replayDir" env:"REPLAY_DIR"`
	ReplayPrefix string  `json:"replayPrefix" env:"REPLAY_PREFIX"`
	ReplaySpeed  float64 `json:"replaySpeed" env:"REPLAY_SPEED"`
}

// BookConfig tunes book maintenance.
type BookConfig struct {
	StrictSequence bool `json:"strictSequence" env:"STRICT_SEQUENCE"`
	QueueSize      int  `json:"queueSize" env:"QUEUE_SIZE"`
}

// RecorderConfig enables raw message recording when Dir is set.
type RecorderConfig struct {
	Dir    string `json:"dir" env:"DIR"`
	Prefix string `json:"prefix" env:"PREFIX"`
}

// MetricsConfig exposes /metrics when Addr is set.
type MetricsConfig struct {
	Addr string `json:"addr" env:"ADDR"`
}

// SamplerConfig controls periodic top-of-book samples.
type SamplerConfig struct {
	Interval Duration `json:"interval" env:"INTERVAL"`
	Levels   int      `json:"levels" env:"LEVELS"`
}

// PostgresConfig enables the sample sink when DSN or Host is set.
type PostgresConfig struct {
	DSN      string `json:"dsn" env:"DSN"`
	Host     string `json:"host" env:"HOST"`
	Port     int    `json:"port" env:"PORT"`
	User     string `json:"user" env:"USER"`
	Password string `json:"password" env:"PASSWORD"`
	Database string `json:"database" env:"DATABASE"`
	SSLMode  string `json:"sslMode" env:"SSL_MODE"`
}

// ProfilingConfig controls the continuous profiler.
type ProfilingConfig struct {
	Enabled       bool   `json:"enabled" env:"ENABLED"`
	ServerAddress string `json:"serverAddress" env:"SERVER_ADDRESS"`
	AppName       string `json:"appName" env:"APP_NAME"`
}

// Duration accepts "1s" style strings in JSON and env.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string or nanoseconds: %s", b)
		}
		*d = Duration(n)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Load reads the optional JSON file at path, applies .env and environment
// overrides, fills defaults and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "load .env")
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Feed.Kind == "" {
		c.Feed.Kind = string(defaultFeedKind)
	}
	if c.Feed.Kind == string(feed.KindWebSocket) && c.Feed.URL == "" {
		c.Feed.URL = defaultFeedURL
	}
	if c.Feed.ReplaySpeed == 0 {
		c.Feed.ReplaySpeed = defaultReplaySpeed
	}
	if c.Feed.ReplayPrefix == "" {
		c.Feed.ReplayPrefix = defaultRecorderPrefix
	}
	c.Feed.Coins = normalizeCoins(c.Feed.Coins)
	if c.Book.QueueSize == 0 {
		c.Book.QueueSize = defaultQueueSize
	}
	if c.Recorder.Prefix == "" {
		c.Recorder.Prefix = defaultRecorderPrefix
	}
	if c.Sampler.Interval == 0 {
		c.Sampler.Interval = Duration(defaultSampleInterval)
	}
	if c.Sampler.Levels == 0 {
		c.Sampler.Levels = defaultSampleLevels
	}
	if c.Profiling.AppName == "" {
		c.Profiling.AppName = defaultAppName
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	kind, err := feed.ParseKind(c.Feed.Kind)
	if err != nil {
		return err
	}
	switch kind {
	case feed.KindWebSocket:
		if c.Feed.URL == "" {
			return fmt.Errorf("invalid config: feed.url is empty")
		}
		if len(c.Feed.Coins) == 0 {
			return fmt.Errorf("invalid config: feed.coins is empty")
		}
	case feed.KindKafka:
		if len(c.Feed.KafkaBrokers) == 0 {
			return fmt.Errorf("invalid config: feed.kafkaBrokers is empty")
		}
		if c.Feed.KafkaTopic == "" {
			return fmt.Errorf("invalid config: feed.kafkaTopic is empty")
		}
		if c.Feed.KafkaGroup == "" {
			return fmt.Errorf("invalid config: feed.kafkaGroup is empty")
		}
	case feed.KindFile:
		if c.Feed.ReplayDir == "" {
			return fmt.Errorf("invalid config: feed.replayDir is empty")
		}
	}
	if c.Feed.ReplaySpeed < 0 {
		return fmt.Errorf("invalid config: feed.replaySpeed must be >= 0")
	}
	if c.Book.QueueSize <= 0 {
		return fmt.Errorf("invalid config: book.queueSize must be > 0")
	}
	if c.Sampler.Interval < 0 {
		return fmt.Errorf("invalid config: sampler.interval must be >= 0")
	}
	if c.Sampler.Levels <= 0 {
		return fmt.Errorf("invalid config: sampler.levels must be > 0")
	}
	if c.Postgres.Port < 0 {
		return fmt.Errorf("invalid config: postgres.port must be >= 0")
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return fmt.Errorf("invalid config: profiling.serverAddress is empty")
	}
	return nil
}

// PostgresEnabled reports whether a sample database is configured.
func (c Config) PostgresEnabled() bool {
	return c.Postgres.DSN != "" || c.Postgres.Host != ""
}

// PostgresOption converts the section into connection options.
func (c Config) PostgresOption() conn.Option {
	return conn.Option{
		ConnString: c.Postgres.DSN,
		Host:       c.Postgres.Host,
		Port:       c.Postgres.Port,
		User:       c.Postgres.User,
		Password:   c.Postgres.Password,
		Database:   c.Postgres.Database,
		SSLMode:    c.Postgres.SSLMode,
	}
}

func normalizeCoins(coins []string) []string {
	if len(coins) == 0 {
		return coins
	}
	out := make([]string, 0, len(coins))
	seen := make(map[string]struct{}, len(coins))
	for _, c := range coins {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
