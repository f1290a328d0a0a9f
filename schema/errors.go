package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidEnvelope indicates an envelope or frame that cannot be decoded.
	ErrInvalidEnvelope = errors.New("invalid envelope")
	// ErrConnectionClosed indicates a write to a closed output connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSlowConsumer indicates an output connection whose queue is full.
	ErrSlowConsumer = errors.New("slow consumer")
)
