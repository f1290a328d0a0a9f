package client

import (
	"sync"

	"pkt.systems/orderpush/schema"
)

// Factory hands out one Manager per identity.
type Factory struct {
	opts Options

	mu       sync.Mutex
	managers map[schema.ChannelID]*Manager
}

// NewFactory constructs a factory whose managers share opts.
func NewFactory(opts Options) *Factory {
	return &Factory{
		opts:     opts.withDefaults(),
		managers: make(map[schema.ChannelID]*Manager),
	}
}

func (f *Factory) key(identity string) schema.ChannelID {
	return schema.NormalizeChannel(identity, f.opts.GlobalChannel)
}

// Get returns the manager for identity, creating it on first use. A blank
// identity selects the global channel.
func (f *Factory) Get(identity string) *Manager {
	key := f.key(identity)
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.managers[key]; ok {
		return m
	}
	m := NewManager(string(key), f.opts)
	f.managers[key] = m
	return m
}

// Dispose closes and forgets the manager for identity.
func (f *Factory) Dispose(identity string) {
	key := f.key(identity)
	f.mu.Lock()
	m := f.managers[key]
	delete(f.managers, key)
	f.mu.Unlock()
	if m != nil {
		m.Close()
	}
}

// Close disposes every manager.
func (f *Factory) Close() {
	f.mu.Lock()
	managers := f.managers
	f.managers = make(map[schema.ChannelID]*Manager)
	f.mu.Unlock()
	for _, m := range managers {
		m.Close()
	}
}

// Len returns the number of live managers.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.managers)
}
