package client

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/orderpush/schema"
)

func TestFactoryGetOrCreate(t *testing.T) {
	f := NewFactory(testOptions(newPipeDialer()))
	defer f.Close()

	a := f.Get("u1")
	if b := f.Get(" u1 "); a != b {
		t.Fatalf("expected same manager for the same identity")
	}
	if f.Get("u2") == a {
		t.Fatalf("expected distinct managers per identity")
	}
	if got := f.Get("").Channel(); got != schema.DefaultGlobalChannel {
		t.Fatalf("expected blank identity to map to global, got %q", got)
	}
	if f.Len() != 3 {
		t.Fatalf("expected 3 managers, got %d", f.Len())
	}
}

func TestFactoryDispose(t *testing.T) {
	f := NewFactory(testOptions(newPipeDialer()))
	defer f.Close()

	old := f.Get("u1")
	f.Dispose("u1")
	f.Dispose("u1")
	if err := old.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected disposed manager to be closed, got %v", err)
	}
	if f.Get("u1") == old {
		t.Fatalf("expected a fresh manager after dispose")
	}
}

func TestFactoryCloseDisposesAll(t *testing.T) {
	f := NewFactory(testOptions(newPipeDialer()))
	managers := []*Manager{f.Get("u1"), f.Get("u2")}
	f.Close()
	if f.Len() != 0 {
		t.Fatalf("expected no managers after close, got %d", f.Len())
	}
	for _, m := range managers {
		if err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	}
}
