package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func TestWithChannelAddsField(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	WithChannel(logger, "U1").Info("hello")

	entry := capture.firstEntry(t)
	if entry["channel"] != "U1" {
		t.Fatalf("expected channel field, got %+v", entry)
	}
}

func TestWithChannelSkipsEmpty(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	WithConn(WithChannel(logger, ""), "").Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["channel"]; ok {
		t.Fatalf("did not expect channel field, got %+v", entry)
	}
	if _, ok := entry["conn"]; ok {
		t.Fatalf("did not expect conn field, got %+v", entry)
	}
}

func TestChannelLoggerDeduplicates(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture).With("channel", "U1")
	ctx := ContextWithChannelLogger(context.Background(), logger, "U1")
	ChannelLogger(ctx, "U1").Info("hello")

	line := capture.buf.String()
	if n := bytes.Count([]byte(line), []byte(`"channel"`)); n != 1 {
		t.Fatalf("expected a single channel field, got %d in %s", n, line)
	}
}

func TestConnFromContext(t *testing.T) {
	ctx := ContextWithConn(context.Background(), "c-1")
	if got := ConnFromContext(ctx); got != "c-1" {
		t.Fatalf("ConnFromContext = %q, want c-1", got)
	}
	if got := ConnFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty conn id, got %q", got)
	}
}

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
