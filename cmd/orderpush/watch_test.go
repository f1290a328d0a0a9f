package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/orderpush/client"
	"pkt.systems/orderpush/httpapi"
	"pkt.systems/orderpush/internal/appconfig"
	"pkt.systems/orderpush/internal/broadcast"
	"pkt.systems/orderpush/internal/registry"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in %q", want, out.String())
}

func TestRunWatchPrintsEvents(t *testing.T) {
	reg := registry.New(nil)
	srv := httpapi.NewServer(httpapi.Config{}, reg, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cfg := appconfig.DefaultConfig()
	cfg.Client.URL = ts.URL + srv.StreamPath()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- runWatch(ctx, clientOptions(cfg, nil), "U1", out) }()

	waitForOutput(t, out, `"type":"CONNECTION_OPEN"`)
	broadcast.New(reg, "", nil).PublishOrderStatusChange("ORD-1", "U1", "shipped")
	waitForOutput(t, out, `"type":"ORDER_STATUS_CHANGED"`)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("watch did not stop")
	}
}

func TestRunWatchStopsWhenRetriesExhausted(t *testing.T) {
	opts := client.DefaultOptions("http://127.0.0.1:1/api/events")
	opts.MaxReconnectAttempts = 0
	out := &syncBuffer{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := runWatch(ctx, opts, "U1", out)
	if err == nil || !strings.Contains(err.Error(), "stream unavailable") {
		t.Fatalf("expected stream unavailable error, got %v", err)
	}
	if !strings.Contains(out.String(), `"type":"CONNECTION_ERROR"`) {
		t.Fatalf("expected CONNECTION_ERROR line, got %q", out.String())
	}
}
