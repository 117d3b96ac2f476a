package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4book/internal/feed"
	"l4book/pkg/exception"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `{
		"feed": {"kind": "websocket", "url": "ws://localhost:1/ws", "coins": ["BTC", " ETH ", "BTC", ""]},
		"book": {"strictSequence": true, "queueSize": 64},
		"recorder": {"dir": "/tmp/rec"},
		"metrics": {"addr": ":9200"},
		"sampler": {"interval": "250ms", "levels": 5},
		"postgres": {"host": "db", "port": 5433, "user": "u", "database": "books"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "websocket", cfg.Feed.Kind)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Feed.Coins)
	assert.True(t, cfg.Book.StrictSequence)
	assert.Equal(t, 64, cfg.Book.QueueSize)
	assert.Equal(t, "/tmp/rec", cfg.Recorder.Dir)
	assert.Equal(t, defaultRecorderPrefix, cfg.Recorder.Prefix)
	assert.Equal(t, ":9200", cfg.Metrics.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Sampler.Interval.Std())
	assert.Equal(t, 5, cfg.Sampler.Levels)

	require.True(t, cfg.PostgresEnabled())
	opt := cfg.PostgresOption()
	assert.Equal(t, "db", opt.Host)
	assert.Equal(t, 5433, opt.Port)
	assert.Equal(t, "books", opt.Database)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"feed": {"kind": "websocket", "coins": ["BTC"]}, "book": {"queueSize": 64}}`)

	t.Setenv("L4BOOK_FEED_KIND", "kafka")
	t.Setenv("L4BOOK_FEED_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("L4BOOK_FEED_KAFKA_TOPIC", "l4")
	t.Setenv("L4BOOK_FEED_KAFKA_GROUP", "l4book")
	t.Setenv("L4BOOK_BOOK_STRICT_SEQUENCE", "true")
	t.Setenv("L4BOOK_SAMPLER_INTERVAL", "2s")
	t.Setenv("L4BOOK_POSTGRES_DSN", "postgres://u@db:5432/books")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, string(feed.KindKafka), cfg.Feed.Kind)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Feed.KafkaBrokers)
	assert.Equal(t, "l4", cfg.Feed.KafkaTopic)
	assert.Equal(t, []string{"BTC"}, cfg.Feed.Coins)
	assert.True(t, cfg.Book.StrictSequence)
	assert.Equal(t, 64, cfg.Book.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Sampler.Interval.Std())
	assert.Equal(t, "postgres://u@db:5432/books", cfg.PostgresOption().ConnString)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("L4BOOK_FEED_COINS", "BTC")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, string(defaultFeedKind), cfg.Feed.Kind)
	assert.Equal(t, defaultFeedURL, cfg.Feed.URL)
	assert.Equal(t, defaultQueueSize, cfg.Book.QueueSize)
	assert.Equal(t, defaultSampleInterval, cfg.Sampler.Interval.Std())
	assert.Equal(t, defaultSampleLevels, cfg.Sampler.Levels)
	assert.Equal(t, defaultReplaySpeed, cfg.Feed.ReplaySpeed)
	assert.Equal(t, defaultAppName, cfg.Profiling.AppName)
	assert.False(t, cfg.PostgresEnabled())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `{"feed": `))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `{"sampler": {"interval": "soon"}}`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{Feed: FeedConfig{Kind: "websocket", Coins: []string{"BTC"}}}.withDefaults()
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown kind", func(c *Config) { c.Feed.Kind = "carrier-pigeon" }},
		{"websocket without coins", func(c *Config) { c.Feed.Coins = nil }},
		{"websocket without url", func(c *Config) { c.Feed.URL = "" }},
		{"kafka without brokers", func(c *Config) {
			c.Feed.Kind = "kafka"
			c.Feed.KafkaTopic = "l4"
			c.Feed.KafkaGroup = "g"
		}},
		{"kafka without topic", func(c *Config) {
			c.Feed.Kind = "kafka"
			c.Feed.KafkaBrokers = []string{"k:9092"}
			c.Feed.KafkaGroup = "g"
		}},
		{"kafka without group", func(c *Config) {
			c.Feed.Kind = "kafka"
			c.Feed.KafkaBrokers = []string{"k:9092"}
			c.Feed.KafkaTopic = "l4"
		}},
		{"file without dir", func(c *Config) { c.Feed.Kind = "file" }},
		{"negative speed", func(c *Config) { c.Feed.ReplaySpeed = -1 }},
		{"zero queue", func(c *Config) { c.Book.QueueSize = 0 }},
		{"zero levels", func(c *Config) { c.Sampler.Levels = 0 }},
		{"negative interval", func(c *Config) { c.Sampler.Interval = -1 }},
		{"negative port", func(c *Config) { c.Postgres.Port = -1 }},
		{"profiling without server", func(c *Config) { c.Profiling.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Feed.Coins = append([]string(nil), base.Feed.Coins...)
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := base
	cfg.Feed.Kind = "ftp"
	require.ErrorIs(t, cfg.Validate(), exception.ErrFeedUnsupportedKind)
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, time.Microsecond, d.Std())

	b, err := Duration(time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1s"`, string(b))
}
