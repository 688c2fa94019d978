package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:8000", cfg.Listen)
	assert.Equal(t, "/channel", cfg.ChannelPath)
	assert.Equal(t, 5, cfg.History.Len)
	assert.Equal(t, 20, cfg.History.TTL)
	assert.Equal(t, 20*time.Second, cfg.History.TTLDuration())
	assert.Equal(t, 11, cfg.History.ReplayWindow)
	assert.Equal(t, "nl:", cfg.History.KeyPrefix)
	assert.Equal(t, "sockjs", cfg.Bridge.Channel)
	assert.Equal(t, DriverRedis, cfg.Bridge.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Socket.AnnouncePresence)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := `
listen: 127.0.0.1:9000
history:
  len: 3
  ttl_seconds: 60
bridge:
  driver: memory
  op_timeout: 500ms
socket:
  announce_presence: false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 3, cfg.History.Len)
	assert.Equal(t, 60, cfg.History.TTL)
	assert.Equal(t, 11, cfg.History.ReplayWindow)
	assert.Equal(t, DriverMemory, cfg.Bridge.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Bridge.OpTimeout)
	assert.False(t, cfg.Socket.AnnouncePresence)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listne: oops\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.example.com:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_CHANNEL", "relay")
	t.Setenv("RELAY_BRIDGE", "nats")
	t.Setenv("HISTORY_LEN", "7")
	t.Setenv("BRIDGE_OP_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis.example.com:6380", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "relay", cfg.Bridge.Channel)
	assert.Equal(t, DriverNATS, cfg.Bridge.Driver)
	assert.Equal(t, 7, cfg.History.Len)
	assert.Equal(t, 3*time.Second, cfg.Bridge.OpTimeout)
}

func TestApplyEnvInvalidNumber(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("BRIDGE_OP_TIMEOUT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 2*time.Second, cfg.Bridge.OpTimeout)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*RelayConfig){
		"channel path":   func(c *RelayConfig) { c.ChannelPath = "channel" },
		"history len":    func(c *RelayConfig) { c.History.Len = 0 },
		"history ttl":    func(c *RelayConfig) { c.History.TTL = -1 },
		"replay window":  func(c *RelayConfig) { c.History.ReplayWindow = 0 },
		"bridge driver":  func(c *RelayConfig) { c.Bridge.Driver = "kafka" },
		"history driver": func(c *RelayConfig) { c.History.Driver = "nats" },
		"backoff order":  func(c *RelayConfig) { c.Bridge.ReconnectMaxWait = time.Millisecond },
		"send buffer":    func(c *RelayConfig) { c.Socket.SendBuffer = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
