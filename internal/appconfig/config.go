package appconfig

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	Stream        StreamConfig  `mapstructure:"stream" yaml:"stream"`
	Metrics       MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Client        ClientConfig  `mapstructure:"client" yaml:"client"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr                   string `mapstructure:"addr" yaml:"addr"`
	BasePath               string `mapstructure:"base_path" yaml:"base_path"`
	AllowedOrigin          string `mapstructure:"allowed_origin" yaml:"allowed_origin"`
	EnablePublish          bool   `mapstructure:"enable_publish" yaml:"enable_publish"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// StreamConfig configures the event stream endpoint.
type StreamConfig struct {
	GlobalChannel    string `mapstructure:"global_channel" yaml:"global_channel"`
	HeartbeatSeconds int    `mapstructure:"heartbeat_seconds" yaml:"heartbeat_seconds"`
	QueueDepth       int    `mapstructure:"queue_depth" yaml:"queue_depth"`
}

// HeartbeatInterval returns the heartbeat period.
func (c StreamConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr serves
// metrics on the main HTTP listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// ClientConfig configures the watch client.
type ClientConfig struct {
	URL                  string `mapstructure:"url" yaml:"url"`
	MaxReconnectAttempts int    `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectBaseDelayMS int    `mapstructure:"reconnect_base_delay_ms" yaml:"reconnect_base_delay_ms"`
	ReconnectMaxDelayMS  int    `mapstructure:"reconnect_max_delay_ms" yaml:"reconnect_max_delay_ms"`
	IdleTimeoutSeconds   int    `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
}

// BaseDelay returns the first reconnect delay.
func (c ClientConfig) BaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseDelayMS) * time.Millisecond
}

// MaxDelay returns the reconnect delay cap.
func (c ClientConfig) MaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxDelayMS) * time.Millisecond
}

// IdleTimeout returns how long a stream may stay silent before it is
// considered dead. Zero disables the check.
func (c ClientConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		HTTP: HTTPConfig{
			Addr:                   ":27480",
			BasePath:               "",
			AllowedOrigin:          "*",
			EnablePublish:          false,
			ShutdownTimeoutSeconds: 10,
		},
		Stream: StreamConfig{
			GlobalChannel:    "global",
			HeartbeatSeconds: 30,
			QueueDepth:       64,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Addr:    "",
		},
		Client: ClientConfig{
			URL:                  "http://127.0.0.1:27480/api/events",
			MaxReconnectAttempts: 5,
			ReconnectBaseDelayMS: 1000,
			ReconnectMaxDelayMS:  30000,
			IdleTimeoutSeconds:   90,
		},
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".orderpush", "config.yaml"), nil
}
