package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

var ErrInvalid = errors.New("invalid config")

// Bridge drivers.
const (
	DriverRedis  = "redis"
	DriverNATS   = "nats"
	DriverMemory = "memory"
)

// RelayConfig is the full relay process configuration.
type RelayConfig struct {
	Listen      string        `yaml:"listen"`
	ChannelPath string        `yaml:"channel_path"`
	StaticDir   string        `yaml:"static_dir"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"` // "json" or "console"
	Socket      SocketConfig  `yaml:"socket"`
	History     HistoryConfig `yaml:"history"`
	Bridge      BridgeConfig  `yaml:"bridge"`
	Redis       RedisConfig   `yaml:"redis"`
	NATS        NATSConfig    `yaml:"nats"`
}

// HistoryConfig controls the per-user history store.
//
// ReplayWindow is deliberately separate from Len: the relay has always
// returned up to 11 entries on bind while only ever retaining 5.
type HistoryConfig struct {
	Driver       string `yaml:"driver"`
	KeyPrefix    string `yaml:"key_prefix"`
	Len          int    `yaml:"len"`
	TTL          int    `yaml:"ttl_seconds"`
	ReplayWindow int    `yaml:"replay_window"`
}

// TTLDuration returns TTL as a duration.
func (h HistoryConfig) TTLDuration() time.Duration {
	return time.Duration(h.TTL) * time.Second
}

// BridgeConfig controls the cross-instance broker bridge.
type BridgeConfig struct {
	Driver            string        `yaml:"driver"`
	Channel           string        `yaml:"channel"`
	OpTimeout         time.Duration `yaml:"op_timeout"`
	ReconnectBaseWait time.Duration `yaml:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `yaml:"reconnect_max_wait"`
	HealthInterval    time.Duration `yaml:"health_interval"`
	OutboxSize        int           `yaml:"outbox_size"`
}

// RedisConfig holds connection settings for Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig holds connection settings for NATS.
type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// Default returns a RelayConfig with the stock relay settings.
func Default() *RelayConfig {
	return &RelayConfig{
		Listen:      "0.0.0.0:8000",
		ChannelPath: "/channel",
		StaticDir:   "./static",
		LogLevel:    "info",
		LogFormat:   "json",
		Socket:      DefaultSocketConfig(),
		History: HistoryConfig{
			Driver:       DriverRedis,
			KeyPrefix:    "nl:",
			Len:          5,
			TTL:          20,
			ReplayWindow: 11,
		},
		Bridge: BridgeConfig{
			Driver:            DriverRedis,
			Channel:           "sockjs",
			OpTimeout:         2 * time.Second,
			ReconnectBaseWait: 100 * time.Millisecond,
			ReconnectMaxWait:  10 * time.Second,
			HealthInterval:    15 * time.Second,
			OutboxSize:        1024,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		NATS:  NATSConfig{URL: "nats://127.0.0.1:4222", Name: "relay"},
	}
}

// Load builds the config from defaults, an optional YAML file and the environment.
func Load(path string) (*RelayConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RelayConfig) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("yaml decode: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. Unparseable numbers
// and durations are ignored.
func (c *RelayConfig) ApplyEnv() {
	envString("RELAY_LISTEN", &c.Listen)
	envString("RELAY_CHANNEL_PATH", &c.ChannelPath)
	envString("RELAY_STATIC_DIR", &c.StaticDir)
	envString("RELAY_LOG_LEVEL", &c.LogLevel)
	envString("RELAY_LOG_FORMAT", &c.LogFormat)
	envString("RELAY_BRIDGE", &c.Bridge.Driver)
	envString("RELAY_HISTORY", &c.History.Driver)
	envString("REDIS_ADDR", &c.Redis.Addr)
	envString("REDIS_PASSWORD", &c.Redis.Password)
	envInt("REDIS_DB", &c.Redis.DB)
	envString("REDIS_CHANNEL", &c.Bridge.Channel)
	envDuration("BRIDGE_OP_TIMEOUT", &c.Bridge.OpTimeout)
	envString("NATS_URL", &c.NATS.URL)
	envInt("HISTORY_LEN", &c.History.Len)
	envInt("HISTORY_TTL", &c.History.TTL)
	envInt("HISTORY_REPLAY_WINDOW", &c.History.ReplayWindow)
}

// Validate reports the first invalid setting.
func (c *RelayConfig) Validate() error {
	switch {
	case c.Listen == "":
		return fmt.Errorf("%w: listen is empty", ErrInvalid)
	case !strings.HasPrefix(c.ChannelPath, "/"):
		return fmt.Errorf("%w: channel_path %q must start with /", ErrInvalid, c.ChannelPath)
	case c.History.Len <= 0:
		return fmt.Errorf("%w: history.len must be positive", ErrInvalid)
	case c.History.TTL <= 0:
		return fmt.Errorf("%w: history.ttl_seconds must be positive", ErrInvalid)
	case c.History.ReplayWindow <= 0:
		return fmt.Errorf("%w: history.replay_window must be positive", ErrInvalid)
	case c.Bridge.Channel == "":
		return fmt.Errorf("%w: bridge.channel is empty", ErrInvalid)
	case c.Bridge.OpTimeout <= 0:
		return fmt.Errorf("%w: bridge.op_timeout must be positive", ErrInvalid)
	case c.Bridge.ReconnectBaseWait <= 0 || c.Bridge.ReconnectMaxWait < c.Bridge.ReconnectBaseWait:
		return fmt.Errorf("%w: bridge reconnect waits out of order", ErrInvalid)
	case c.Socket.SendBuffer <= 0:
		return fmt.Errorf("%w: socket.send_buffer must be positive", ErrInvalid)
	}
	if !oneOf(c.Bridge.Driver, DriverRedis, DriverNATS, DriverMemory) {
		return fmt.Errorf("%w: unknown bridge driver %q", ErrInvalid, c.Bridge.Driver)
	}
	if !oneOf(c.History.Driver, DriverRedis, DriverMemory) {
		return fmt.Errorf("%w: unknown history driver %q", ErrInvalid, c.History.Driver)
	}
	return nil
}

func oneOf(v string, opts ...string) bool {
	for _, o := range opts {
		if v == o {
			return true
		}
	}
	return false
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
