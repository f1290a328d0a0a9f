package client

import (
	"bytes"
	"strings"
	"testing"

	"pkt.systems/orderpush/schema"
	"pkt.systems/pslog"
)

func TestListenersUnsubscribeBeforeDispatch(t *testing.T) {
	l := NewListeners(nil)
	called := false
	unsubscribe := l.On(schema.EventHeartbeat, func(schema.Envelope) { called = true })
	unsubscribe()
	unsubscribe()
	l.Dispatch(schema.NewEnvelope(schema.EventHeartbeat, nil))
	if called {
		t.Fatalf("expected unsubscribed listener not to run")
	}
	if l.Count(schema.EventHeartbeat) != 0 {
		t.Fatalf("expected no listeners, got %d", l.Count(schema.EventHeartbeat))
	}
}

func TestListenersSameCallbackTwoTypes(t *testing.T) {
	l := NewListeners(nil)
	var seen []schema.EventType
	fn := func(env schema.Envelope) { seen = append(seen, env.Type) }
	offOpen := l.On(schema.EventConnectionOpen, fn)
	l.On(schema.EventOrderStatusChanged, fn)
	offOpen()

	l.Dispatch(schema.NewEnvelope(schema.EventConnectionOpen, nil))
	l.Dispatch(schema.NewEnvelope(schema.EventOrderStatusChanged, nil))
	if len(seen) != 1 || seen[0] != schema.EventOrderStatusChanged {
		t.Fatalf("unexpected deliveries %v", seen)
	}
}

func TestListenersDispatchOrderAndEnvelope(t *testing.T) {
	l := NewListeners(nil)
	var order []string
	l.On(schema.EventOrderStatusChanged, func(env schema.Envelope) { order = append(order, "a:"+env.String("orderId")) })
	l.On(schema.EventOrderStatusChanged, func(env schema.Envelope) { order = append(order, "b:"+env.String("orderId")) })
	l.On(schema.EventHeartbeat, func(schema.Envelope) { order = append(order, "heartbeat") })

	l.Dispatch(schema.NewEnvelope(schema.EventOrderStatusChanged, map[string]any{"orderId": "o1"}))
	if strings.Join(order, ",") != "a:o1,b:o1" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestListenersPanicIsolated(t *testing.T) {
	var buf bytes.Buffer
	l := NewListeners(pslog.NewWithOptions(&buf, pslog.Options{Mode: pslog.ModeStructured, NoColor: true}))
	ran := false
	l.On(schema.EventError, func(schema.Envelope) { panic("boom") })
	l.On(schema.EventError, func(schema.Envelope) { ran = true })

	l.Dispatch(schema.NewEnvelope(schema.EventError, nil))
	if !ran {
		t.Fatalf("expected second listener to run")
	}
	if !strings.Contains(buf.String(), "client listener panicked") {
		t.Fatalf("expected panic to be logged, got %q", buf.String())
	}
}

func TestListenersOffRemovesExactRegistration(t *testing.T) {
	l := NewListeners(nil)
	var hits []string
	mk := func(name string) Listener {
		return func(schema.Envelope) { hits = append(hits, name) }
	}
	l.Subscribe(schema.EventHeartbeat, mk("a"))
	b := l.Subscribe(schema.EventHeartbeat, mk("b"))
	l.Off(schema.EventHeartbeat, b)
	l.Off(schema.EventHeartbeat, b)

	l.Dispatch(schema.NewEnvelope(schema.EventHeartbeat, nil))
	if strings.Join(hits, ",") != "a" {
		t.Fatalf("expected only a to run, got %v", hits)
	}
}

func TestListenersOffSameFunctionTwice(t *testing.T) {
	l := NewListeners(nil)
	calls := 0
	fn := func(schema.Envelope) { calls++ }
	first := l.Subscribe(schema.EventHeartbeat, fn)
	l.Subscribe(schema.EventHeartbeat, fn)
	l.Off(schema.EventHeartbeat, first)
	l.Dispatch(schema.NewEnvelope(schema.EventHeartbeat, nil))
	if calls != 1 {
		t.Fatalf("expected one remaining registration, got %d calls", calls)
	}
}

func TestListenersOffIgnoresOtherType(t *testing.T) {
	l := NewListeners(nil)
	calls := 0
	sub := l.Subscribe(schema.EventHeartbeat, func(schema.Envelope) { calls++ })
	l.Off(schema.EventError, sub)
	l.Off(schema.EventHeartbeat, NewListeners(nil).Subscribe(schema.EventHeartbeat, func(schema.Envelope) {}))
	l.Dispatch(schema.NewEnvelope(schema.EventHeartbeat, nil))
	if calls != 1 || sub.Type() != schema.EventHeartbeat {
		t.Fatalf("expected registration to survive, got %d calls", calls)
	}
}

func TestListenersNilCallback(t *testing.T) {
	l := NewListeners(nil)
	l.On(schema.EventHeartbeat, nil)()
	l.Off(schema.EventHeartbeat, nil)
	l.Off(schema.EventHeartbeat, l.Subscribe(schema.EventHeartbeat, nil))
	if l.Count(schema.EventHeartbeat) != 0 {
		t.Fatalf("expected nil listener to be ignored")
	}
}
