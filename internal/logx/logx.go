package logx

import (
	"context"

	"pkt.systems/orderpush/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	channelKey contextKey = iota
	connKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithChannel annotates the logger with the channel id if present.
func WithChannel(log pslog.Logger, channel schema.ChannelID) pslog.Logger {
	if channel != "" {
		log = log.With("channel", channel)
	}
	return log
}

// WithConn annotates the logger with a connection id when available.
func WithConn(log pslog.Logger, connID string) pslog.Logger {
	if connID != "" {
		log = log.With("conn", connID)
	}
	return log
}

// ChannelLogger returns the context logger annotated with channel unless the
// context already carries the same channel marker.
func ChannelLogger(ctx context.Context, channel schema.ChannelID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if current, ok := ctx.Value(channelKey).(schema.ChannelID); ok && current == channel {
		return log
	}
	return WithChannel(log, channel)
}

// ContextWithChannel stores the channel marker on the context for log de-duplication.
func ContextWithChannel(ctx context.Context, channel schema.ChannelID) context.Context {
	if ctx == nil || channel == "" {
		return ctx
	}
	return context.WithValue(ctx, channelKey, channel)
}

// ContextWithChannelLogger attaches the logger and channel marker to the context.
func ContextWithChannelLogger(ctx context.Context, log pslog.Logger, channel schema.ChannelID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithChannel(ctx, channel)
}

// ContextWithConn stores the connection id marker on the context.
func ContextWithConn(ctx context.Context, connID string) context.Context {
	if ctx == nil || connID == "" {
		return ctx
	}
	return context.WithValue(ctx, connKey, connID)
}

// ConnFromContext returns the connection id stored by ContextWithConn.
func ConnFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(connKey).(string)
	return id
}
