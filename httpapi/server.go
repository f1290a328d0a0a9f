package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pkt.systems/orderpush/internal/broadcast"
	"pkt.systems/orderpush/internal/logx"
	"pkt.systems/orderpush/internal/metrics"
	"pkt.systems/orderpush/internal/registry"
	"pkt.systems/orderpush/schema"
)

// Server serves the event stream and its supporting endpoints.
type Server struct {
	cfg       Config
	registry  *registry.Registry
	publisher broadcast.Publisher
	observer  metrics.Observer
	metrics   http.Handler
	basePath  string
}

// ServerOption configures optional Server collaborators.
type ServerOption func(*Server)

// WithObserver reports heartbeat results to o.
func WithObserver(o metrics.Observer) ServerOption {
	return func(s *Server) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithMetricsHandler serves h on Config.MetricsPath.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// NewServer constructs an HTTP server over reg. publisher backs the optional
// publish endpoint and may be nil when it is disabled.
func NewServer(cfg Config, reg *registry.Registry, publisher broadcast.Publisher, opts ...ServerOption) *Server {
	s := &Server{
		cfg:       cfg.withDefaults(),
		registry:  reg,
		publisher: publisher,
		observer:  metrics.Nop{},
		basePath:  normalizeBasePath(cfg.BasePath),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.EnablePublish && s.publisher != nil {
		mux.HandleFunc("/api/publish", s.handlePublish)
	}
	quiet := []string{"/healthz"}
	if s.metrics != nil && s.cfg.MetricsPath != "" {
		mux.Handle(s.cfg.MetricsPath, s.metrics)
		quiet = append(quiet, s.cfg.MetricsPath)
	}

	handler := withRequestLogging(mux, quiet...)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

// StreamPath returns the path clients open the event stream on.
func (s *Server) StreamPath() string {
	return mountPath(s.basePath, "/api/events")
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleStream(w, r)
	case http.MethodOptions:
		s.handlePreflight(w, r)
	default:
		w.Header().Set("Allow", "GET, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	s.setCORSHeaders(w)
	h := w.Header()
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control, Last-Event-ID")
	h.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
	if s.cfg.AllowedOrigin != "*" {
		h.Add("Vary", "Origin")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"channels":    len(s.registry.Channels()),
		"connections": s.registry.Total(),
	})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	const maxPublishSize = 64 << 10
	var payload struct {
		OrderID string `json:"orderId"`
		UserID  string `json:"userId"`
		Status  string `json:"status"`
	}
	if err := decodeJSON(io.LimitReader(r.Body, maxPublishSize), &payload); err != nil {
		log.Warn("http publish decode failed", "err", err)
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	if strings.TrimSpace(payload.OrderID) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: orderId is required", schema.ErrInvalidRequest))
		return
	}
	if strings.TrimSpace(payload.Status) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: status is required", schema.ErrInvalidRequest))
		return
	}
	s.publisher.PublishOrderStatusChange(payload.OrderID, strings.TrimSpace(payload.UserID), payload.Status)
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	log.Debug("http publish ok", "order", payload.OrderID, "user", payload.UserID)
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
