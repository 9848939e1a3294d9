// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package can

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket carries frames to a remote CAN gateway. Each binary message holds
// one or more 16-byte struct can_frame records; other message types are ignored.
type WebSocket struct {
	conn   *websocket.Conn
	name   string
	closed atomic.Bool

	txMu  sync.Mutex
	txBuf [FrameSize]byte

	// undecoded records from the last message
	pending []byte
}

// OpenWebSocket dials a CAN gateway with optional HTTP Basic auth.
func OpenWebSocket(wsURL, username, password string, skipSSLVerify bool) (*WebSocket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return NewWebSocket(conn, u.Host), nil
}

// NewWebSocket wraps an established connection, client or server side.
func NewWebSocket(conn *websocket.Conn, name string) *WebSocket {
	return &WebSocket{conn: conn, name: name}
}

// Send writes one frame as a single binary message.
func (w *WebSocket) Send(frame Frame) error {
	if w.closed.Load() {
		return ErrClosed
	}

	w.txMu.Lock()
	defer w.txMu.Unlock()

	if err := frame.marshalTo(w.txBuf[:]); err != nil {
		return err
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, w.txBuf[:]); err != nil {
		return fmt.Errorf("write %s: %w", w.name, err)
	}
	return nil
}

// Receive returns the next frame, reading a new message when the previous
// one is exhausted.
func (w *WebSocket) Receive() (Frame, error) {
	for len(w.pending) == 0 {
		if w.closed.Load() {
			return Frame{}, ErrClosed
		}

		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			if w.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return Frame{}, ErrClosed
			}
			return Frame{}, fmt.Errorf("read %s: %w", w.name, err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if len(data)%FrameSize != 0 {
			return Frame{}, fmt.Errorf("%w: message of %d bytes is not a multiple of %d", ErrMalformed, len(data), FrameSize)
		}
		w.pending = data
	}

	var frame Frame
	record := w.pending[:FrameSize]
	w.pending = w.pending[FrameSize:]
	if err := frame.UnmarshalBinary(record); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// Close sends a close message and drops the connection.
func (w *WebSocket) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.txMu.Lock()
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.txMu.Unlock()
	return w.conn.Close()
}

func (w *WebSocket) String() string {
	return "websocket:" + w.name
}
