package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pkt.systems/orderpush/httpapi"
	"pkt.systems/orderpush/internal/broadcast"
	"pkt.systems/orderpush/internal/registry"
	"pkt.systems/orderpush/schema"
)

func TestPublishURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://127.0.0.1:27480/api/events", want: "http://127.0.0.1:27480/api/publish"},
		{in: "https://push.example/base/api/events?channel=U1", want: "https://push.example/base/api/publish"},
		{in: "http://127.0.0.1:27480/stream", wantErr: true},
	}
	for _, tc := range tests {
		got, err := publishURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("publishURL(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("publishURL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("publishURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

type sinkConn struct {
	frames chan []byte
}

func (c sinkConn) Send(frame []byte) error {
	c.frames <- frame
	return nil
}

func TestPostStatusChange(t *testing.T) {
	reg := registry.New(nil)
	srv := httpapi.NewServer(httpapi.Config{EnablePublish: true}, reg, broadcast.New(reg, "", nil))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := sinkConn{frames: make(chan []byte, 1)}
	reg.Register("U1", conn)

	change := schema.OrderStatusChange{OrderID: "ORD-1", UserID: "U1", Status: "shipped"}
	if err := postStatusChange(context.Background(), http.DefaultClient, ts.URL+"/api/publish", change); err != nil {
		t.Fatalf("post: %v", err)
	}
	frame := <-conn.frames
	if !strings.Contains(string(frame), `"orderId":"ORD-1"`) {
		t.Fatalf("unexpected frame %q", frame)
	}

	err := postStatusChange(context.Background(), http.DefaultClient, ts.URL+"/api/publish", schema.OrderStatusChange{UserID: "U1"})
	if err == nil || !strings.Contains(err.Error(), "orderId is required") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
