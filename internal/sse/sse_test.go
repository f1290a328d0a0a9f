package sse

import (
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"pkt.systems/orderpush/schema"
)

func TestEncodeFrameShape(t *testing.T) {
	frame, err := Encode(schema.NewEnvelope(schema.EventHeartbeat, map[string]any{"timestamp": "t"}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := string(frame)
	if !strings.HasPrefix(got, "data: {") || !strings.HasSuffix(got, "}\n\n") {
		t.Fatalf("unexpected frame %q", got)
	}
	if strings.Count(got, "\n") != 2 {
		t.Fatalf("expected a single data line, got %q", got)
	}
}

func TestEncodeRejectsMissingType(t *testing.T) {
	if _, err := Encode(schema.Envelope{}); !errors.Is(err, schema.ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	envs := []schema.Envelope{
		schema.NewEnvelope(schema.EventOrderStatusChanged, map[string]any{
			"orderId": "ORD-1",
			"userId":  "U1",
			"status":  "shipped",
		}),
		schema.NewEnvelope(schema.EventConnectionOpen, map[string]any{
			"channel": "global",
			"nested":  map[string]any{"lines": []any{"a", "b\nc"}},
		}),
		schema.NewEnvelope(schema.EventHeartbeat, nil),
	}
	var stream strings.Builder
	for _, env := range envs {
		if err := Write(&stream, env); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	reader := NewReader(strings.NewReader(stream.String()))
	for i, want := range envs {
		frame, err := reader.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		got, err := Decode(frame.Data)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if got.Type != want.Type {
			t.Fatalf("frame %d: type %q, want %q", i, got.Type, want.Type)
		}
		if !reflect.DeepEqual(got.Data, want.Data) {
			t.Fatalf("frame %d: data %#v, want %#v", i, got.Data, want.Data)
		}
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestRoundTripNumericData(t *testing.T) {
	want := schema.NewEnvelope(schema.EventConnectionError, map[string]any{
		"reason":   "dial failed",
		"attempts": 4,
		"ratio":    0.5,
	})
	frame, err := Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	reader := NewReader(strings.NewReader(string(frame)))
	next, err := reader.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	got, err := Decode(next.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Data["attempts"] != float64(4) {
		t.Fatalf("expected attempts as float64, got %#v", got.Data["attempts"])
	}
	if !reflect.DeepEqual(jsonNormalized(t, got.Data), jsonNormalized(t, want.Data)) {
		t.Fatalf("data %#v, want %#v", got.Data, want.Data)
	}
}

func jsonNormalized(t *testing.T, data map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestReaderFields(t *testing.T) {
	input := ": keepalive\r\n" +
		"id: 7\r\n" +
		"event: order\r\n" +
		"retry: 1500\r\n" +
		"data: {\"type\":\"ERROR\",\r\n" +
		"data: \"data\":{}}\r\n" +
		"\r\n" +
		"id: 8\n\n"
	reader := NewReader(strings.NewReader(input))
	frame, err := reader.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if frame.ID != "7" || frame.Event != "order" || frame.Retry != 1500 {
		t.Fatalf("unexpected fields: %+v", frame)
	}
	env, err := Decode(frame.Data)
	if err != nil {
		t.Fatalf("decode multi-line data: %v", err)
	}
	if env.Type != schema.EventError {
		t.Fatalf("unexpected type %q", env.Type)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("expected data-less frame to be skipped, got %v", err)
	}
}

func TestReaderIncompleteTrailingFrame(t *testing.T) {
	reader := NewReader(strings.NewReader("data: {\"type\":\"HEARTBEAT\"}"))
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("expected EOF for unterminated frame, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{"not json", `{"data":{}}`, `{"type":`}
	for _, tc := range cases {
		if _, err := Decode([]byte(tc)); !errors.Is(err, schema.ErrInvalidEnvelope) {
			t.Fatalf("Decode(%q) = %v, want ErrInvalidEnvelope", tc, err)
		}
	}
}

func TestDecodeFillsEmptyData(t *testing.T) {
	env, err := Decode([]byte(`{"type":"HEARTBEAT"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data == nil {
		t.Fatalf("expected non-nil data map")
	}
}

func TestReaderRejectsOversizedLine(t *testing.T) {
	long := "data: " + strings.Repeat("x", 64) + "\n\n"
	reader := NewReaderSize(strings.NewReader(long), 32)
	if _, err := reader.Next(); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}

	unterminated := strings.Repeat("y", 8192)
	reader = NewReaderSize(strings.NewReader(unterminated), 4096)
	if _, err := reader.Next(); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong for unterminated line, got %v", err)
	}
}

func TestReaderSizeAllowsLineAtLimit(t *testing.T) {
	line := "data: {\"type\":\"HEARTBEAT\",\"data\":{}}\n"
	reader := NewReaderSize(strings.NewReader(line+"\n"), len(line))
	frame, err := reader.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, err := Decode(frame.Data); err != nil {
		t.Fatalf("decode: %v", err)
	}
}
