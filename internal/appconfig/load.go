package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return Config{}, err
		}
	} else {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.allowed_origin", cfg.HTTP.AllowedOrigin)
	v.SetDefault("http.enable_publish", cfg.HTTP.EnablePublish)
	v.SetDefault("http.shutdown_timeout_seconds", cfg.HTTP.ShutdownTimeoutSeconds)
	v.SetDefault("stream.global_channel", cfg.Stream.GlobalChannel)
	v.SetDefault("stream.heartbeat_seconds", cfg.Stream.HeartbeatSeconds)
	v.SetDefault("stream.queue_depth", cfg.Stream.QueueDepth)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("client.url", cfg.Client.URL)
	v.SetDefault("client.max_reconnect_attempts", cfg.Client.MaxReconnectAttempts)
	v.SetDefault("client.reconnect_base_delay_ms", cfg.Client.ReconnectBaseDelayMS)
	v.SetDefault("client.reconnect_max_delay_ms", cfg.Client.ReconnectMaxDelayMS)
	v.SetDefault("client.idle_timeout_seconds", cfg.Client.IdleTimeoutSeconds)
}

// viper reports a missing explicit config file as an fs error rather than
// ConfigFileNotFoundError.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// Validate checks value ranges that viper cannot express.
func Validate(cfg Config) error {
	if cfg.Stream.HeartbeatSeconds <= 0 {
		return fmt.Errorf("stream.heartbeat_seconds must be positive")
	}
	if cfg.Stream.QueueDepth <= 0 {
		return fmt.Errorf("stream.queue_depth must be positive")
	}
	if strings.TrimSpace(cfg.Stream.GlobalChannel) == "" {
		return fmt.Errorf("stream.global_channel is required")
	}
	if cfg.HTTP.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("http.shutdown_timeout_seconds must not be negative")
	}
	if err := validateBasePath("http.base_path", cfg.HTTP.BasePath); err != nil {
		return err
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	if cfg.Client.MaxReconnectAttempts < 0 {
		return fmt.Errorf("client.max_reconnect_attempts must not be negative")
	}
	if cfg.Client.ReconnectBaseDelayMS <= 0 || cfg.Client.ReconnectMaxDelayMS <= 0 {
		return fmt.Errorf("client reconnect delays must be positive")
	}
	if cfg.Client.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("client.idle_timeout_seconds must not be negative")
	}
	parsed, err := url.Parse(strings.TrimSpace(cfg.Client.URL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("client.url must include scheme and host (e.g. http://127.0.0.1:27480/api/events)")
	}
	return nil
}

func validateBasePath(key, value string) error {
	basePath := strings.TrimSpace(value)
	if basePath == "" {
		return nil
	}
	if strings.Contains(basePath, "://") {
		return fmt.Errorf("%s must be a path prefix, not a URL", key)
	}
	if strings.ContainsAny(basePath, "?#") {
		return fmt.Errorf("%s must not include query or fragment", key)
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.HTTP.Addr = expandEnv(cfg.HTTP.Addr)
	cfg.HTTP.BasePath = expandEnv(cfg.HTTP.BasePath)
	cfg.HTTP.AllowedOrigin = expandEnv(cfg.HTTP.AllowedOrigin)
	cfg.Metrics.Addr = expandEnv(cfg.Metrics.Addr)
	cfg.Client.URL = expandEnv(cfg.Client.URL)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
