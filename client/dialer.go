package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"pkt.systems/orderpush/internal/sse"
	"pkt.systems/orderpush/schema"
)

// Dialer opens one event stream for channel. The returned body yields SSE
// frames until it is closed or ctx ends.
type Dialer interface {
	Dial(ctx context.Context, channel schema.ChannelID) (io.ReadCloser, error)
}

// Sender carries an outbound message for channel. Streams are server-push
// only, so this is an optional side channel.
type Sender interface {
	Send(ctx context.Context, channel schema.ChannelID, message []byte) error
}

// HTTPDialer opens the stream with GET URL?channel=<id>.
type HTTPDialer struct {
	URL string
	// Client must not set a Timeout; streams are long lived.
	Client *http.Client
	Header http.Header
}

// Dial implements Dialer.
func (d HTTPDialer) Dial(ctx context.Context, channel schema.ChannelID) (io.ReadCloser, error) {
	target, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	query := target.Query()
	query.Set("channel", string(channel))
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	for key, values := range d.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", sse.ContentType)
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return resp.Body, nil
}
