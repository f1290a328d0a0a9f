package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the envelope payload.
type EventType string

const (
	// EventConnectionOpen is the first event written on every stream.
	EventConnectionOpen EventType = "CONNECTION_OPEN"
	// EventConnectionClosed reports the loss of an established stream.
	EventConnectionClosed EventType = "CONNECTION_CLOSED"
	// EventConnectionError reports that automatic reconnects were exhausted.
	EventConnectionError EventType = "CONNECTION_ERROR"
	// EventHeartbeat keeps intermediaries from timing out idle streams.
	EventHeartbeat EventType = "HEARTBEAT"
	// EventOrderStatusChanged carries an order status transition.
	EventOrderStatusChanged EventType = "ORDER_STATUS_CHANGED"
	// EventError carries a server-side error notice.
	EventError EventType = "ERROR"
)

// EventTypes lists every known event type in declaration order.
var EventTypes = []EventType{
	EventConnectionOpen,
	EventConnectionClosed,
	EventConnectionError,
	EventHeartbeat,
	EventOrderStatusChanged,
	EventError,
}

// Known reports whether t is part of the enumeration.
func (t EventType) Known() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Envelope is the unit written to and read from a stream.
type Envelope struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
}

// NewEnvelope builds an envelope with a copy of data.
func NewEnvelope(eventType EventType, data map[string]any) Envelope {
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	return Envelope{Type: eventType, Data: copied}
}

// Validate reports envelopes that cannot be dispatched.
func (e Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	return nil
}

// String returns the data value for key when it is a string.
func (e Envelope) String(key string) string {
	if e.Data == nil {
		return ""
	}
	value, _ := e.Data[key].(string)
	return value
}

// Timestamp returns the parsed timestamp field, if any.
func (e Envelope) Timestamp() (time.Time, bool) {
	raw := e.String("timestamp")
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// FormatTimestamp renders t the way envelopes carry it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// OrderStatusChange is the ORDER_STATUS_CHANGED payload.
type OrderStatusChange struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Status  string `json:"status"`
}

// Envelope converts the change into its wire envelope stamped with at.
func (c OrderStatusChange) Envelope(at time.Time) Envelope {
	return Envelope{
		Type: EventOrderStatusChanged,
		Data: map[string]any{
			"orderId":   c.OrderID,
			"userId":    c.UserID,
			"status":    c.Status,
			"timestamp": FormatTimestamp(at),
		},
	}
}

// OrderStatus decodes the ORDER_STATUS_CHANGED payload.
func (e Envelope) OrderStatus() (OrderStatusChange, error) {
	if e.Type != EventOrderStatusChanged {
		return OrderStatusChange{}, fmt.Errorf("%w: %s is not %s", ErrInvalidEnvelope, e.Type, EventOrderStatusChanged)
	}
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return OrderStatusChange{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	var change OrderStatusChange
	if err := json.Unmarshal(raw, &change); err != nil {
		return OrderStatusChange{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if change.OrderID == "" {
		return OrderStatusChange{}, fmt.Errorf("%w: missing orderId", ErrInvalidEnvelope)
	}
	return change, nil
}
