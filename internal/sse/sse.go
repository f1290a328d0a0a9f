// Package sse encodes envelopes into Server-Sent Events frames and reads them back.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"pkt.systems/orderpush/schema"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

// Encode renders env as a single `data: <json>\n\n` frame.
func Encode(env schema.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// Write encodes env and writes the frame to w.
func Write(w io.Writer, env schema.Envelope) error {
	frame, err := Encode(env)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// Decode parses the data field of a frame into an envelope. Data follows
// encoding/json's generic mapping, so numbers decode as float64 and nested
// objects as map[string]any regardless of the Go types that were encoded.
func Decode(data []byte) (schema.Envelope, error) {
	var env schema.Envelope
	if err := json.Unmarshal(bytes.TrimSpace(data), &env); err != nil {
		return schema.Envelope{}, fmt.Errorf("%w: %v", schema.ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return schema.Envelope{}, err
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	return env, nil
}

// Frame is one dispatched event from a stream.
type Frame struct {
	ID    string
	Event string
	Data  []byte
	Retry int
}

// MaxLineSize bounds a single field line, terminator included.
const MaxLineSize = 1 << 20

// ErrLineTooLong is returned by Reader.Next when a line exceeds the limit.
var ErrLineTooLong = errors.New("sse: line too long")

// Reader splits an event stream into frames.
type Reader struct {
	r   *bufio.Reader
	max int
}

// NewReader wraps r with the default MaxLineSize.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, MaxLineSize)
}

// NewReaderSize wraps r, rejecting lines longer than maxLine bytes.
func NewReaderSize(r io.Reader, maxLine int) *Reader {
	if maxLine <= 0 {
		maxLine = MaxLineSize
	}
	return &Reader{r: bufio.NewReader(r), max: maxLine}
}

// readLine reads through the next '\n' without growing past r.max.
func (r *Reader) readLine() (string, error) {
	var buf []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		if len(buf)+len(chunk) > r.max {
			return "", ErrLineTooLong
		}
		buf = append(buf, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		return string(buf), err
	}
}

// Next blocks until a complete frame with data is read. Comment lines and
// frames without data are skipped. io.EOF is returned when the stream ends.
func (r *Reader) Next() (Frame, error) {
	var frame Frame
	var data []string
	hasData := false
	for {
		line, err := r.readLine()
		if err != nil && (err != io.EOF || line == "") {
			return Frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				frame.Data = []byte(strings.Join(data, "\n"))
				return frame, nil
			}
			frame = Frame{}
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			frame.Event = value
		case "id":
			frame.ID = value
		case "retry":
			if n, convErr := strconv.Atoi(value); convErr == nil {
				frame.Retry = n
			}
		}
		if err == io.EOF {
			// A trailing frame without the blank terminator is incomplete.
			return Frame{}, io.EOF
		}
	}
}
