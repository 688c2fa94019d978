package bridge

import (
	"time"

	"github.com/orchestra-mcp/relay/config"
)

// Options holds driver-independent bridge settings.
type Options struct {
	Channel           string
	OpTimeout         time.Duration
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	HealthInterval    time.Duration
	OutboxSize        int
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return OptionsFrom(config.Default().Bridge)
}

// OptionsFrom converts the bridge section of the relay config.
func OptionsFrom(cfg config.BridgeConfig) Options {
	return Options{
		Channel:           cfg.Channel,
		OpTimeout:         cfg.OpTimeout,
		ReconnectBaseWait: cfg.ReconnectBaseWait,
		ReconnectMaxWait:  cfg.ReconnectMaxWait,
		HealthInterval:    cfg.HealthInterval,
		OutboxSize:        cfg.OutboxSize,
	}
}
