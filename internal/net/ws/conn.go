package ws

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTextFrame is returned by Read when the peer sends a text message. The
// block protocol only travels in binary frames.
var ErrTextFrame = errors.New("websocket text frame")

// closeGrace bounds how long Close waits to deliver the close frame.
const closeGrace = time.Second

// Conn presents a websocket as the byte stream a session expects: binary
// messages are concatenated on read and every Write is one binary message.
// One goroutine may read while another writes.
type Conn struct {
	ws      *websocket.Conn
	reader  io.Reader
	closeMu sync.Once
}

// NewConn wraps an established websocket.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read fills p from the current binary message, advancing to the next one
// when it is exhausted.
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if c.reader == nil {
			kind, r, err := c.ws.NextReader()
			if err != nil {
				return 0, normalizeError(err)
			}
			if kind != websocket.BinaryMessage {
				return 0, ErrTextFrame
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends p as a single binary message.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, normalizeError(err)
	}
	return len(p), nil
}

// Close sends a normal close frame, best effort, and releases the socket.
func (c *Conn) Close() error {
	var err error
	c.closeMu.Do(func() {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGrace))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
func (c *Conn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }

// normalizeError maps an orderly close to io.EOF so the session reports a
// lost connection rather than a protocol failure.
func normalizeError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("websocket closed with code %d: %w", closeErr.Code, io.EOF)
	}
	return err
}
