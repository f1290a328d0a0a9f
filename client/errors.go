package client

import "errors"

var (
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("client closed")
	// ErrRetriesExhausted is returned by Connect once the manager has given
	// up reconnecting. Reconnect starts over.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	// ErrUnexpectedStatus reports a non-200 stream response.
	ErrUnexpectedStatus = errors.New("unexpected stream status")
)
