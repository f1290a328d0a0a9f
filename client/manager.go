package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/orderpush/internal/logx"
	"pkt.systems/orderpush/internal/sse"
	"pkt.systems/orderpush/schema"
	"pkt.systems/pslog"
)

// State is the manager connection state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
)

// Status is a point-in-time view of a manager.
type Status struct {
	Connected            bool  `json:"connected"`
	State                State `json:"state"`
	ReconnectAttempts    int   `json:"reconnectAttempts"`
	MaxReconnectAttempts int   `json:"maxReconnectAttempts"`
}

// Options configures a Manager. Start from DefaultOptions; a zero
// MaxReconnectAttempts disables retries and a zero IdleTimeout disables the
// idle watchdog.
type Options struct {
	URL                  string
	GlobalChannel        schema.ChannelID
	Dialer               Dialer
	Sender               Sender
	MaxReconnectAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	IdleTimeout          time.Duration
	Logger               pslog.Logger
}

const (
	DefaultMaxReconnectAttempts = 5
	DefaultBaseDelay            = time.Second
	DefaultMaxDelay             = 30 * time.Second
	// DefaultIdleTimeout is three missed heartbeats.
	DefaultIdleTimeout = 90 * time.Second

	sendTimeout = 10 * time.Second
)

// DefaultOptions returns options for the stream at url.
func DefaultOptions(url string) Options {
	return Options{
		URL:                  url,
		GlobalChannel:        schema.DefaultGlobalChannel,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		BaseDelay:            DefaultBaseDelay,
		MaxDelay:             DefaultMaxDelay,
		IdleTimeout:          DefaultIdleTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.GlobalChannel == "" {
		o.GlobalChannel = schema.DefaultGlobalChannel
	}
	if o.Dialer == nil {
		o.Dialer = HTTPDialer{URL: o.URL}
	}
	if o.MaxReconnectAttempts < 0 {
		o.MaxReconnectAttempts = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.IdleTimeout < 0 {
		o.IdleTimeout = 0
	}
	if o.Logger == nil {
		o.Logger = pslog.Ctx(context.Background())
	}
	return o
}

// backoffDelay returns min(base*2^(attempt-1), limit) for attempt >= 1.
func backoffDelay(attempt int, base, limit time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= limit/2 {
			return limit
		}
		delay *= 2
	}
	if delay > limit {
		return limit
	}
	return delay
}

// Manager keeps at most one stream open for its channel and reconnects with
// exponential backoff when the stream is lost.
type Manager struct {
	channel   schema.ChannelID
	opts      Options
	listeners *Listeners
	log       pslog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	// gen advances whenever the current stream or timer is replaced, so
	// late callbacks from a previous one are ignored.
	gen    uint64
	cancel context.CancelFunc
	stream io.Closer
	timer  *time.Timer
	closed bool
}

// NewManager constructs a disconnected manager for channel. A blank channel
// maps to the global channel.
func NewManager(channel string, opts Options) *Manager {
	opts = opts.withDefaults()
	id := schema.NormalizeChannel(channel, opts.GlobalChannel)
	log := logx.WithChannel(opts.Logger, id)
	return &Manager{
		channel:   id,
		opts:      opts,
		listeners: NewListeners(log),
		log:       log,
		state:     StateDisconnected,
	}
}

// Channel returns the channel the manager is bound to.
func (m *Manager) Channel() schema.ChannelID {
	return m.channel
}

// Connect opens the stream and blocks until the first event arrives, the
// attempt fails or ctx ends. Background retries are scheduled on failure
// either way. Connect is a no-op while connecting or connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	switch m.state {
	case StateConnecting, StateConnected:
		m.mu.Unlock()
		return nil
	case StateFailed:
		m.mu.Unlock()
		return ErrRetriesExhausted
	}
	ready := m.startLocked()
	m.mu.Unlock()
	return m.await(ctx, ready)
}

// Reconnect drops any stream or pending retry, resets the attempt counter
// and connects again. It also recovers a manager in the FAILED state.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	stale := m.stopLocked()
	m.attempts = 0
	ready := m.startLocked()
	m.mu.Unlock()
	closeQuietly(stale)
	m.log.Info("client manual reconnect")
	return m.await(ctx, ready)
}

func (m *Manager) await(ctx context.Context, ready <-chan error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the stream and any pending retry. Connect fails with ErrClosed
// afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	stale := m.stopLocked()
	m.state = StateDisconnected
	m.attempts = 0
	m.mu.Unlock()
	closeQuietly(stale)
	m.log.Debug("client closed")
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Connected:            m.state == StateConnected,
		State:                m.state,
		ReconnectAttempts:    m.attempts,
		MaxReconnectAttempts: m.opts.MaxReconnectAttempts,
	}
}

// On registers fn for eventType and returns its unsubscribe function.
func (m *Manager) On(eventType schema.EventType, fn Listener) func() {
	return m.listeners.On(eventType, fn)
}

// Subscribe registers fn for eventType and returns a handle for Off.
func (m *Manager) Subscribe(eventType schema.EventType, fn Listener) *Subscription {
	return m.listeners.Subscribe(eventType, fn)
}

// Off removes the registration sub refers to.
func (m *Manager) Off(eventType schema.EventType, sub *Subscription) {
	m.listeners.Off(eventType, sub)
}

// Send hands message to the configured Sender without waiting. It reports
// false when no stream is open or no Sender is configured.
func (m *Manager) Send(message []byte) bool {
	m.mu.Lock()
	sender := m.opts.Sender
	open := m.state == StateConnected
	m.mu.Unlock()
	if sender == nil || !open {
		m.log.Debug("client send dropped", "bytes", len(message), "open", open)
		return false
	}
	payload := append([]byte(nil), message...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := sender.Send(ctx, m.channel, payload); err != nil {
			m.log.Warn("client send failed", "err", err)
		}
	}()
	return true
}

// startLocked begins a new stream attempt. The caller holds m.mu.
func (m *Manager) startLocked() <-chan error {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.state = StateConnecting
	ready := make(chan error, 1)
	go m.run(ctx, gen, ready)
	return ready
}

// stopLocked invalidates the current stream and timer. The returned closer
// must be closed after m.mu is released.
func (m *Manager) stopLocked() io.Closer {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	stream := m.stream
	m.stream = nil
	m.state = StateDisconnected
	return stream
}

func (m *Manager) run(ctx context.Context, gen uint64, ready chan<- error) {
	m.log.Debug("client dialing", "gen", gen)
	body, err := m.opts.Dialer.Dial(ctx, m.channel)
	if err != nil {
		m.fail(gen, fmt.Errorf("dial: %w", err), ready)
		return
	}
	if !m.attach(gen, body) {
		closeQuietly(body)
		return
	}

	var idled atomic.Bool
	var idle *time.Timer
	if m.opts.IdleTimeout > 0 {
		idle = time.AfterFunc(m.opts.IdleTimeout, func() {
			idled.Store(true)
			closeQuietly(body)
		})
		defer idle.Stop()
	}

	reader := sse.NewReader(body)
	connected := false
	for {
		frame, err := reader.Next()
		if err != nil {
			closeQuietly(body)
			switch {
			case idled.Load():
				err = errors.New("idle timeout")
			case errors.Is(err, io.EOF):
				err = errors.New("stream ended")
			}
			m.fail(gen, err, ready)
			return
		}
		if idle != nil {
			idle.Reset(m.opts.IdleTimeout)
		}
		env, err := sse.Decode(frame.Data)
		if err != nil {
			m.log.Warn("client discarded malformed frame", "err", err, "bytes", len(frame.Data))
			continue
		}
		if !connected {
			if !m.markConnected(gen) {
				closeQuietly(body)
				return
			}
			connected = true
			m.listeners.Dispatch(env)
			notify(ready, nil)
			continue
		}
		if !m.current(gen) {
			closeQuietly(body)
			return
		}
		m.log.Trace("client event", "type", env.Type)
		m.listeners.Dispatch(env)
	}
}

func (m *Manager) attach(gen uint64, body io.Closer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.closed {
		return false
	}
	m.stream = body
	return true
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && !m.closed
}

func (m *Manager) markConnected(gen uint64) bool {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return false
	}
	m.state = StateConnected
	m.attempts = 0
	m.mu.Unlock()
	m.log.Info("client stream connected")
	return true
}

// fail records the loss of stream gen and schedules the next attempt.
func (m *Manager) fail(gen uint64, cause error, ready chan<- error) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		notify(ready, cause)
		return
	}
	wasConnected := m.state == StateConnected
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.stream = nil
	m.attempts++
	attempts := m.attempts
	exhausted := attempts > m.opts.MaxReconnectAttempts
	var delay time.Duration
	if exhausted {
		m.state = StateFailed
	} else {
		m.state = StateReconnecting
		delay = backoffDelay(attempts, m.opts.BaseDelay, m.opts.MaxDelay)
		m.timer = time.AfterFunc(delay, func() { m.retry(gen) })
	}
	m.mu.Unlock()

	notify(ready, cause)
	now := schema.FormatTimestamp(time.Now())
	if wasConnected {
		m.log.Warn("client stream lost", "err", cause)
		m.listeners.Dispatch(schema.NewEnvelope(schema.EventConnectionClosed, map[string]any{
			"reason":    cause.Error(),
			"timestamp": now,
		}))
	}
	if exhausted {
		m.log.Error("client reconnect attempts exhausted", "attempts", attempts, "err", cause)
		m.listeners.Dispatch(schema.NewEnvelope(schema.EventConnectionError, map[string]any{
			"reason":    cause.Error(),
			"attempts":  attempts,
			"timestamp": now,
		}))
		return
	}
	m.log.Warn("client reconnect scheduled", "attempt", attempts, "max", m.opts.MaxReconnectAttempts, "delay_ms", delay.Milliseconds(), "err", cause)
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.startLocked()
	m.mu.Unlock()
}

func notify(ready chan<- error, err error) {
	select {
	case ready <- err:
	default:
	}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
