package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/orderpush/internal/logx"
	"pkt.systems/orderpush/internal/sse"
	"pkt.systems/orderpush/schema"
)

// streamConn is the registry side of one open stream. Broadcasts enqueue
// frames; the owning handler goroutine is the only writer to the response.
type streamConn struct {
	id        string
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newStreamConn(id string, depth int) *streamConn {
	return &streamConn{
		id:    id,
		queue: make(chan []byte, depth),
		done:  make(chan struct{}),
	}
}

// Send enqueues frame without blocking. A full queue evicts the connection.
func (c *streamConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return schema.ErrConnectionClosed
	default:
	}
	select {
	case c.queue <- frame:
		return nil
	default:
		c.close()
		return schema.ErrSlowConsumer
	}
}

// The queue is never closed so a racing Send cannot panic.
func (c *streamConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	channel := schema.NormalizeChannel(r.URL.Query().Get("channel"), s.cfg.GlobalChannel)
	connID := uuid.NewString()
	log := logx.WithConn(logx.ChannelLogger(r.Context(), channel), connID)
	ctx := logx.ContextWithConn(logx.ContextWithChannelLogger(r.Context(), log, channel), connID)

	s.setCORSHeaders(w)
	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.serveStream(ctx, w, flusher, channel)
}

// serveStream owns every write to w until the client goes away, the
// connection is evicted or a write fails.
func (s *Server) serveStream(ctx context.Context, w io.Writer, flusher http.Flusher, channel schema.ChannelID) {
	log := logx.Ctx(ctx)
	connID := logx.ConnFromContext(ctx)
	opened := time.Now()
	conn := newStreamConn(connID, s.cfg.QueueDepth)
	unregister := s.registry.Register(channel, conn)
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)

	var cleanupOnce sync.Once
	cleanup := func(reason string) {
		cleanupOnce.Do(func() {
			heartbeat.Stop()
			unregister()
			conn.close()
			log.Info("http stream closed", "reason", reason, "duration_ms", time.Since(opened).Milliseconds())
		})
	}
	defer cleanup("handler returned")

	open := schema.NewEnvelope(schema.EventConnectionOpen, map[string]any{
		"channel":      string(channel),
		"connectionId": connID,
		"timestamp":    schema.FormatTimestamp(opened),
	})
	if err := sse.Write(w, open); err != nil {
		cleanup("open write failed")
		return
	}
	flusher.Flush()
	log.Info("http stream opened", "heartbeat_ms", s.cfg.HeartbeatInterval.Milliseconds())

	for {
		select {
		case <-ctx.Done():
			cleanup("client disconnected")
			return
		case <-conn.done:
			cleanup("evicted")
			return
		case frame := <-conn.queue:
			if _, err := w.Write(frame); err != nil {
				log.Debug("http stream write failed", "err", err)
				cleanup("write failed")
				return
			}
			flusher.Flush()
		case now := <-heartbeat.C:
			err := sse.Write(w, schema.NewEnvelope(schema.EventHeartbeat, map[string]any{
				"timestamp": schema.FormatTimestamp(now),
			}))
			s.observer.Heartbeat(err)
			if err != nil {
				log.Debug("http stream heartbeat failed", "err", err)
				cleanup("heartbeat write failed")
				return
			}
			flusher.Flush()
		}
	}
}
