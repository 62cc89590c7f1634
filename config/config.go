// Package config loads client and mock-feed settings from defaults, an
// optional YAML file and RACEFEED_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	racefeed "github.com/st-keller/racefeed-client"
	"github.com/st-keller/racefeed-client/transport"
)

// FileEnv names the YAML file to load, if set.
const FileEnv = "RACEFEED_CONFIG"

// Config is the complete configuration.
type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	TLS      TLSConfig      `yaml:"tls"`
	Log      LogConfig      `yaml:"log"`
	MockFeed MockFeedConfig `yaml:"mockfeed"`
}

// FeedConfig holds the live channel settings.
type FeedConfig struct {
	URL            string `yaml:"url"`
	Stream         string `yaml:"stream"`
	SessionID      string `yaml:"sessionId"`
	DriverID       string `yaml:"driverId"`
	MaxAttempts    int    `yaml:"maxAttempts"`
	BaseDelayMs    int    `yaml:"baseDelayMs"`
	KeepaliveSec   int    `yaml:"keepaliveSec"` // -1 disables
	DialTimeoutSec int    `yaml:"dialTimeoutSec"`
	Origin         string `yaml:"origin"`
}

// SnapshotConfig holds the REST seed settings.
type SnapshotConfig struct {
	APIURL     string `yaml:"apiUrl"`
	TimeoutSec int    `yaml:"timeoutSec"`
	Enabled    bool   `yaml:"enabled"`
}

// TLSConfig holds mTLS file paths, shared by the feed and snapshot clients.
type TLSConfig struct {
	CertPath string `yaml:"certPath"`
	KeyPath  string `yaml:"keyPath"`
	CAPath   string `yaml:"caPath"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Mode string `yaml:"mode"` // dev or prod
}

// MockFeedConfig holds cmd/mockfeed settings.
type MockFeedConfig struct {
	Addr        string   `yaml:"addr"`
	TickMs      int      `yaml:"tickMs"`
	SeedDrivers []string `yaml:"seedDrivers"`
}

// Load builds the configuration: defaults, then the file named by
// RACEFEED_CONFIG, then environment overrides, then validation.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration, pointing at a local backend.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:            "ws://localhost:8000",
			Stream:         string(transport.StreamTelemetry),
			MaxAttempts:    racefeed.DefaultMaxAttempts,
			BaseDelayMs:    int(racefeed.DefaultBaseDelay / time.Millisecond),
			KeepaliveSec:   int(racefeed.DefaultKeepaliveInterval / time.Second),
			DialTimeoutSec: int(racefeed.DefaultDialTimeout / time.Second),
		},
		Snapshot: SnapshotConfig{
			APIURL:     "http://localhost:8000",
			TimeoutSec: 10,
			Enabled:    true,
		},
		Log: LogConfig{
			Mode: "dev",
		},
		MockFeed: MockFeedConfig{
			Addr:        ":8000",
			TickMs:      100,
			SeedDrivers: []string{"HAM", "VER", "LEC"},
		},
	}
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) error {
		v := os.Getenv(env)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", env, v)
		}
		*dst = n
		return nil
	}

	setString("RACEFEED_WS_URL", &cfg.Feed.URL)
	setString("RACEFEED_STREAM", &cfg.Feed.Stream)
	setString("RACEFEED_SESSION", &cfg.Feed.SessionID)
	setString("RACEFEED_DRIVER", &cfg.Feed.DriverID)
	setString("RACEFEED_ORIGIN", &cfg.Feed.Origin)
	setString("RACEFEED_API_URL", &cfg.Snapshot.APIURL)
	setString("RACEFEED_TLS_CERT", &cfg.TLS.CertPath)
	setString("RACEFEED_TLS_KEY", &cfg.TLS.KeyPath)
	setString("RACEFEED_TLS_CA", &cfg.TLS.CAPath)
	setString("RACEFEED_LOG_MODE", &cfg.Log.Mode)
	setString("RACEFEED_MOCK_ADDR", &cfg.MockFeed.Addr)

	for env, dst := range map[string]*int{
		"RACEFEED_MAX_ATTEMPTS":  &cfg.Feed.MaxAttempts,
		"RACEFEED_BASE_DELAY_MS": &cfg.Feed.BaseDelayMs,
		"RACEFEED_KEEPALIVE_SEC": &cfg.Feed.KeepaliveSec,
		"RACEFEED_MOCK_TICK_MS":  &cfg.MockFeed.TickMs,
	} {
		if err := setInt(env, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks ranges the channel itself does not.
func (c *Config) Validate() error {
	if c.Log.Mode != "dev" && c.Log.Mode != "prod" {
		return fmt.Errorf("log mode must be dev or prod, got %q", c.Log.Mode)
	}
	if c.Feed.MaxAttempts < 1 || c.Feed.MaxAttempts > 20 {
		return fmt.Errorf("maxAttempts %d is outside range [1, 20]", c.Feed.MaxAttempts)
	}
	if c.Feed.BaseDelayMs < 1 {
		return fmt.Errorf("baseDelayMs must be positive, got %d", c.Feed.BaseDelayMs)
	}
	if c.Feed.KeepaliveSec == 0 || c.Feed.KeepaliveSec < -1 {
		return fmt.Errorf("keepaliveSec must be positive or -1, got %d", c.Feed.KeepaliveSec)
	}
	if c.Snapshot.TimeoutSec < 1 {
		return fmt.Errorf("snapshot timeoutSec must be positive, got %d", c.Snapshot.TimeoutSec)
	}
	if c.MockFeed.TickMs < 0 {
		return fmt.Errorf("mockfeed tickMs must be >= 0, got %d", c.MockFeed.TickMs)
	}
	return c.TLSFiles().Validate()
}

// TLSFiles returns the TLS paths in transport form.
func (c *Config) TLSFiles() transport.TLSFiles {
	return transport.TLSFiles{
		CertPath: c.TLS.CertPath,
		KeyPath:  c.TLS.KeyPath,
		CAPath:   c.TLS.CAPath,
	}
}

// Channel returns the channel configuration. SessionID is not checked here;
// racefeed.New rejects an empty one.
func (c *Config) Channel() racefeed.Config {
	keepalive := time.Duration(c.Feed.KeepaliveSec) * time.Second
	if c.Feed.KeepaliveSec < 0 {
		keepalive = -1
	}
	return racefeed.Config{
		URL:               c.Feed.URL,
		Stream:            transport.Stream(c.Feed.Stream),
		SessionID:         c.Feed.SessionID,
		DriverID:          c.Feed.DriverID,
		MaxAttempts:       c.Feed.MaxAttempts,
		BaseDelay:         time.Duration(c.Feed.BaseDelayMs) * time.Millisecond,
		KeepaliveInterval: keepalive,
		DialTimeout:       time.Duration(c.Feed.DialTimeoutSec) * time.Second,
		Origin:            c.Feed.Origin,
		TLS:               c.TLSFiles(),
	}
}

// SnapshotTimeout returns the REST request timeout.
func (c *Config) SnapshotTimeout() time.Duration {
	return time.Duration(c.Snapshot.TimeoutSec) * time.Second
}

// MockTick returns the mock feed's push interval.
func (c *Config) MockTick() time.Duration {
	return time.Duration(c.MockFeed.TickMs) * time.Millisecond
}
