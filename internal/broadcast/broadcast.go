// Package broadcast is the write path external order handlers use to push
// status changes into the connection registry.
package broadcast

import (
	"context"
	"strings"
	"time"

	"pkt.systems/orderpush/internal/logx"
	"pkt.systems/orderpush/schema"
	"pkt.systems/pslog"
)

// Publisher is implemented by anything that accepts order status changes.
type Publisher interface {
	PublishOrderStatusChange(orderID, userID, status string)
}

// Target delivers an envelope to every connection under a channel.
type Target interface {
	Broadcast(channel schema.ChannelID, env schema.Envelope) int
}

// Broadcaster formats order events and delivers them to the owning user's
// channel and to the global channel.
type Broadcaster struct {
	target Target
	global schema.ChannelID
	log    pslog.Logger
	now    func() time.Time
}

// New constructs a Broadcaster writing to target.
func New(target Target, global schema.ChannelID, logger pslog.Logger) *Broadcaster {
	if global == "" {
		global = schema.DefaultGlobalChannel
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Broadcaster{
		target: target,
		global: global,
		log:    logger,
		now:    time.Now,
	}
}

// GlobalChannel returns the channel every event is also delivered to.
func (b *Broadcaster) GlobalChannel() schema.ChannelID {
	return b.global
}

// PublishOrderStatusChange delivers ORDER_STATUS_CHANGED to userID's channel
// and to the global channel. It never fails from the caller's perspective.
func (b *Broadcaster) PublishOrderStatusChange(orderID, userID, status string) {
	if b == nil || b.target == nil {
		return
	}
	userID = strings.TrimSpace(userID)
	env := schema.OrderStatusChange{OrderID: orderID, UserID: userID, Status: status}.Envelope(b.now())
	user := schema.NormalizeChannel(userID, b.global)
	log := logx.WithChannel(b.log, user).With("order", orderID, "status", status)

	userDelivered := 0
	if user != b.global {
		userDelivered = b.target.Broadcast(user, env)
	}
	globalDelivered := b.target.Broadcast(b.global, env)
	log.Info("order status published", "user_conns", userDelivered, "global_conns", globalDelivered)
}
