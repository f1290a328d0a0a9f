// Package registry tracks live output connections per channel and fans
// envelopes out to them.
package registry

import (
	"context"
	"sync"
	"time"

	"pkt.systems/orderpush/internal/metrics"
	"pkt.systems/orderpush/internal/sse"
	"pkt.systems/orderpush/schema"
	"pkt.systems/pslog"
)

// Conn is one physical server-to-client stream.
type Conn interface {
	// Send hands an encoded frame to the connection. It must not block; an
	// error means the connection can no longer be written to.
	Send(frame []byte) error
}

type entry struct {
	channel   schema.ChannelID
	conn      Conn
	createdAt time.Time
}

// Registry maps channel ids to the set of connections registered under them.
type Registry struct {
	mu       sync.Mutex
	channels map[schema.ChannelID]map[*entry]struct{}
	log      pslog.Logger
	observer metrics.Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver reports registry activity to o.
func WithObserver(o metrics.Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// New constructs an empty registry.
func New(logger pslog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	r := &Registry{
		channels: make(map[schema.ChannelID]map[*entry]struct{}),
		log:      logger,
		observer: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds conn under channel and returns a function that removes
// exactly this registration. Calling it more than once is harmless.
func (r *Registry) Register(channel schema.ChannelID, conn Conn) func() {
	e := &entry{channel: channel, conn: conn, createdAt: time.Now()}
	r.mu.Lock()
	set := r.channels[channel]
	if set == nil {
		set = make(map[*entry]struct{})
		r.channels[channel] = set
	}
	set[e] = struct{}{}
	count := len(set)
	r.mu.Unlock()
	r.observer.ConnectionRegistered(channel)
	r.log.With("channel", channel).Debug("registry register", "conns", count)

	var once sync.Once
	return func() {
		once.Do(func() {
			if r.remove(e) {
				r.log.With("channel", channel).Debug("registry unregister", "age_ms", time.Since(e.createdAt).Milliseconds())
			}
		})
	}
}

// Broadcast writes env to every connection registered under channel and
// returns how many accepted it. Connections whose Send fails are dropped;
// delivery to the rest continues.
func (r *Registry) Broadcast(channel schema.ChannelID, env schema.Envelope) int {
	frame, err := sse.Encode(env)
	if err != nil {
		r.log.With("channel", channel).Warn("registry encode failed", "type", env.Type, "err", err)
		return 0
	}
	r.mu.Lock()
	set := r.channels[channel]
	targets := make([]*entry, 0, len(set))
	for e := range set {
		targets = append(targets, e)
	}
	r.mu.Unlock()
	if len(targets) == 0 {
		return 0
	}

	delivered := 0
	for _, e := range targets {
		if err := e.conn.Send(frame); err != nil {
			if r.remove(e) {
				r.observer.ConnectionDropped(channel, err)
				r.log.With("channel", channel).Debug("registry dropped connection", "err", err)
			}
			continue
		}
		delivered++
	}
	r.observer.Broadcast(env.Type, delivered)
	r.log.With("channel", channel).Trace("registry broadcast", "type", env.Type, "delivered", delivered, "targets", len(targets))
	return delivered
}

// Count returns the number of connections registered under channel.
func (r *Registry) Count(channel schema.ChannelID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[channel])
}

// Total returns the number of registered connections across all channels.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, set := range r.channels {
		total += len(set)
	}
	return total
}

// Channels returns the ids that currently have at least one connection.
func (r *Registry) Channels() []schema.ChannelID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.ChannelID, 0, len(r.channels))
	for channel := range r.channels {
		out = append(out, channel)
	}
	return out
}

func (r *Registry) remove(e *entry) bool {
	r.mu.Lock()
	set := r.channels[e.channel]
	if _, ok := set[e]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(set, e)
	if len(set) == 0 {
		delete(r.channels, e.channel)
	}
	r.mu.Unlock()
	r.observer.ConnectionUnregistered(e.channel)
	return true
}
