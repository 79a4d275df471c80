package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"blockworld/server/internal/net/proto"
	"blockworld/server/internal/net/session"
)

func dial(t *testing.T, serve ServeFunc) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(NewHandler(serve, HandlerConfig{}).Handle))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	if err != nil {
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestConnStreamsAcrossMessages(t *testing.T) {
	client := dial(t, func(c *Conn) {
		defer c.Close()
		buf := make([]byte, 6)
		if _, err := io.ReadFull(c, buf); err != nil {
			return
		}
		_, _ = c.Write(buf)
	})

	for _, part := range []string{"ab", "", "cde", "f"} {
		if err := client.WriteMessage(websocket.BinaryMessage, []byte(part)); err != nil {
			t.Fatalf("write %q: %v", part, err)
		}
	}
	kind, payload, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if kind != websocket.BinaryMessage || string(payload) != "abcdef" {
		t.Fatalf("expected binary \"abcdef\", got %d %q", kind, payload)
	}
}

func TestConnRejectsTextFrames(t *testing.T) {
	result := make(chan error, 1)
	client := dial(t, func(c *Conn) {
		defer c.Close()
		_, err := c.Read(make([]byte, 1))
		result <- err
	})
	if err := client.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case err := <-result:
		if !errors.Is(err, ErrTextFrame) {
			t.Fatalf("expected ErrTextFrame, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server never read")
	}
}

func TestCloseSendsNormalClosure(t *testing.T) {
	client := dial(t, func(c *Conn) {
		_ = c.Close()
		_ = c.Close()
	})
	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestPeerCloseReadsAsEOF(t *testing.T) {
	result := make(chan error, 1)
	client := dial(t, func(c *Conn) {
		defer c.Close()
		_, err := c.Read(make([]byte, 1))
		result <- err
	})
	message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	if err := client.WriteMessage(websocket.CloseMessage, message); err != nil {
		t.Fatalf("write close: %v", err)
	}
	select {
	case err := <-result:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server never read")
	}
}

type rejectingHandler struct {
	names chan string
}

func (h rejectingHandler) HandlePacket(_ *session.Session, pkt proto.Packet) error {
	h.names <- pkt.String("username")
	return errors.New("Come back later")
}

func (rejectingHandler) HandleClose(*session.Session, string) {}

func TestSessionOverWebsocket(t *testing.T) {
	in, out := proto.DefaultTables().Codecs()
	handler := rejectingHandler{names: make(chan string, 1)}
	client := dial(t, func(c *Conn) {
		s := session.New(c, session.Options{Transport: "ws", Incoming: in, Outgoing: out, Handler: handler})
		_ = s.Run(context.Background())
	})

	frame, err := in.Builder(proto.InIdentification).
		Byte("protocol_version", proto.Version).
		String("username", "webby").
		Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Split the packet over two messages to exercise stream reassembly.
	if err := client.WriteMessage(websocket.BinaryMessage, frame[:10]); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := client.WriteMessage(websocket.BinaryMessage, frame[10:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case name := <-handler.names:
		if name != "webby" {
			t.Fatalf("expected username webby, got %q", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("packet never reached the handler")
	}

	_, payload, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read disconnect: %v", err)
	}
	pkt, err := out.Decode(payload, proto.OutDisconnect)
	if err != nil {
		t.Fatalf("decode disconnect: %v", err)
	}
	if got := pkt.String("reason"); got != "Come back later" {
		t.Fatalf("expected reason %q, got %q", "Come back later", got)
	}
}
