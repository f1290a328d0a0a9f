package client

import (
	"context"
	"sync"

	"pkt.systems/orderpush/schema"
	"pkt.systems/pslog"
)

// Listener receives the full envelope of one event.
type Listener func(schema.Envelope)

type registration struct {
	fn Listener
}

// Subscription identifies one On registration. Off and Cancel remove exactly
// that registration, never another one holding an equal function.
type Subscription struct {
	l         *Listeners
	eventType schema.EventType
	reg       *registration
}

// Type returns the event type the subscription is registered under.
func (s *Subscription) Type() schema.EventType {
	if s == nil {
		return ""
	}
	return s.eventType
}

// Cancel removes the registration. Repeated calls are no-ops.
func (s *Subscription) Cancel() {
	if s == nil || s.l == nil || s.reg == nil {
		return
	}
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	s.l.removeLocked(s.eventType, s.reg)
}

// Listeners maps event types to ordered listener lists.
type Listeners struct {
	mu     sync.Mutex
	byType map[schema.EventType][]*registration
	log    pslog.Logger
}

// NewListeners constructs an empty listener registry.
func NewListeners(logger pslog.Logger) *Listeners {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Listeners{
		byType: make(map[schema.EventType][]*registration),
		log:    logger,
	}
}

// On appends fn under eventType. The returned function removes exactly this
// registration and may be called any number of times.
func (l *Listeners) On(eventType schema.EventType, fn Listener) func() {
	return l.Subscribe(eventType, fn).Cancel
}

// Subscribe appends fn under eventType and returns its handle.
func (l *Listeners) Subscribe(eventType schema.EventType, fn Listener) *Subscription {
	if fn == nil {
		return &Subscription{eventType: eventType}
	}
	reg := &registration{fn: fn}
	l.mu.Lock()
	l.byType[eventType] = append(l.byType[eventType], reg)
	l.mu.Unlock()
	return &Subscription{l: l, eventType: eventType, reg: reg}
}

// Off removes the registration sub refers to when it was made under
// eventType by this registry. Anything else is a no-op.
func (l *Listeners) Off(eventType schema.EventType, sub *Subscription) {
	if sub == nil || sub.l != l || sub.eventType != eventType {
		return
	}
	sub.Cancel()
}

func (l *Listeners) removeLocked(eventType schema.EventType, reg *registration) {
	regs := l.byType[eventType]
	for i, r := range regs {
		if r != reg {
			continue
		}
		next := make([]*registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(l.byType, eventType)
		} else {
			l.byType[eventType] = next
		}
		return
	}
}

// Count returns the number of listeners registered under eventType.
func (l *Listeners) Count(eventType schema.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byType[eventType])
}

// Dispatch invokes the listeners for env.Type in registration order. A
// panicking listener is logged and the rest still run.
func (l *Listeners) Dispatch(env schema.Envelope) {
	l.mu.Lock()
	regs := l.byType[env.Type]
	l.mu.Unlock()
	for _, r := range regs {
		l.invoke(r, env)
	}
}

func (l *Listeners) invoke(r *registration, env schema.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			l.log.Error("client listener panicked", "type", env.Type, "panic", rec)
		}
	}()
	r.fn(env)
}
