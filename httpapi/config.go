package httpapi

import (
	"time"

	"pkt.systems/orderpush/schema"
)

// Config defines HTTP stream endpoint settings.
type Config struct {
	Addr              string
	BasePath          string
	AllowedOrigin     string
	GlobalChannel     schema.ChannelID
	HeartbeatInterval time.Duration
	QueueDepth        int
	EnablePublish     bool
	MetricsPath       string
	ShutdownTimeout   time.Duration
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultQueueDepth        = 64
	defaultShutdownTimeout   = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.GlobalChannel == "" {
		c.GlobalChannel = schema.DefaultGlobalChannel
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.AllowedOrigin == "" {
		c.AllowedOrigin = "*"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}
