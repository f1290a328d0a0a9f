// Package metrics exports stream hub telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"pkt.systems/orderpush/schema"
)

// Observer receives hub lifecycle and delivery notifications.
type Observer interface {
	ConnectionRegistered(channel schema.ChannelID)
	ConnectionUnregistered(channel schema.ChannelID)
	ConnectionDropped(channel schema.ChannelID, err error)
	Broadcast(eventType schema.EventType, delivered int)
	Heartbeat(err error)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ConnectionRegistered(schema.ChannelID) {}

func (Nop) ConnectionUnregistered(schema.ChannelID) {}

func (Nop) ConnectionDropped(schema.ChannelID, error) {}

func (Nop) Broadcast(schema.EventType, int) {}

func (Nop) Heartbeat(error) {}

// PrometheusObserver records hub metrics in a Prometheus registry.
type PrometheusObserver struct {
	activeConnections prometheus.Gauge
	registrations     prometheus.Counter
	dropped           *prometheus.CounterVec
	broadcasts        *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	heartbeats        *prometheus.CounterVec
}

// NewPrometheusObserver registers the hub collectors with reg.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "orderpush"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_connections",
			Help:      "Output connections currently registered.",
		}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "registrations_total",
			Help:      "Output connections registered since start.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "dropped_connections_total",
			Help:      "Output connections removed after a failed send.",
		}, []string{"reason"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "broadcasts_total",
			Help:      "Broadcast calls by event type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "deliveries_total",
			Help:      "Frames handed to output connections by event type.",
		}, []string{"type"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "heartbeats_total",
			Help:      "Heartbeat writes by result.",
		}, []string{"result"}),
	}
	var err error
	if o.activeConnections, err = register(reg, o.activeConnections); err != nil {
		return nil, err
	}
	if o.registrations, err = register(reg, o.registrations); err != nil {
		return nil, err
	}
	if o.dropped, err = register(reg, o.dropped); err != nil {
		return nil, err
	}
	if o.broadcasts, err = register(reg, o.broadcasts); err != nil {
		return nil, err
	}
	if o.deliveries, err = register(reg, o.deliveries); err != nil {
		return nil, err
	}
	if o.heartbeats, err = register(reg, o.heartbeats); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *PrometheusObserver) ConnectionRegistered(schema.ChannelID) {
	if o == nil {
		return
	}
	o.activeConnections.Inc()
	o.registrations.Inc()
}

func (o *PrometheusObserver) ConnectionUnregistered(schema.ChannelID) {
	if o == nil {
		return
	}
	o.activeConnections.Dec()
}

// ConnectionDropped counts a connection evicted during a broadcast. The
// eviction itself is reported separately through ConnectionUnregistered.
func (o *PrometheusObserver) ConnectionDropped(_ schema.ChannelID, err error) {
	if o == nil {
		return
	}
	o.dropped.WithLabelValues(dropReason(err)).Inc()
}

func (o *PrometheusObserver) Broadcast(eventType schema.EventType, delivered int) {
	if o == nil {
		return
	}
	o.broadcasts.WithLabelValues(string(eventType)).Inc()
	if delivered > 0 {
		o.deliveries.WithLabelValues(string(eventType)).Add(float64(delivered))
	}
}

func (o *PrometheusObserver) Heartbeat(err error) {
	if o == nil {
		return
	}
	if err != nil {
		o.heartbeats.WithLabelValues("error").Inc()
		return
	}
	o.heartbeats.WithLabelValues("ok").Inc()
}

// register adds collector to reg, returning the already registered
// collector of the same description when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, fmt.Errorf("register stream metric: %w", err)
	}
	return collector, nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, schema.ErrSlowConsumer):
		return "slow_consumer"
	case errors.Is(err, schema.ErrConnectionClosed):
		return "closed"
	default:
		return "error"
	}
}
