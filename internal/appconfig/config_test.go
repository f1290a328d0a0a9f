package appconfig

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Client.IdleTimeout() != 3*cfg.Stream.HeartbeatInterval() {
		t.Fatalf("expected idle timeout to cover three heartbeats")
	}
	if cfg.Client.BaseDelay() != time.Second || cfg.Client.MaxDelay() != 30*time.Second {
		t.Fatalf("unexpected reconnect delays %s/%s", cfg.Client.BaseDelay(), cfg.Client.MaxDelay())
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("default path: %v", err)
	}
	if !strings.HasSuffix(path, "/.orderpush/config.yaml") {
		t.Fatalf("unexpected default path %q", path)
	}
}
