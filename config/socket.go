package config

// SocketConfig holds realtime channel settings.
type SocketConfig struct {
	PingInterval     int  `yaml:"ping_interval_seconds"`
	WriteTimeout     int  `yaml:"write_timeout_seconds"`
	ReadBufferSize   int  `yaml:"read_buffer_size"`
	WriteBufferSize  int  `yaml:"write_buffer_size"`
	MaxMessageSize   int  `yaml:"max_message_size"`
	SendBuffer       int  `yaml:"send_buffer"`
	InboundRate      int  `yaml:"inbound_rate"` // frames per second, 0 disables
	InboundBurst     int  `yaml:"inbound_burst"`
	AnnouncePresence bool `yaml:"announce_presence"`
}

// DefaultSocketConfig returns the default realtime channel configuration.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		PingInterval:     30,
		WriteTimeout:     10,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		MaxMessageSize:   4096,
		SendBuffer:       256,
		InboundRate:      20,
		InboundBurst:     40,
		AnnouncePresence: true,
	}
}
