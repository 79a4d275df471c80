package app

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"blockworld/server/internal/net/proto"
	"blockworld/server/internal/persistence"
)

func TestParseEnvMapDefaults(t *testing.T) {
	cfg, err := ParseEnvMap(map[string]string{})
	if err != nil {
		t.Fatalf("expected defaults to parse, got %v", err)
	}
	if cfg.ListenAddr != ":25565" {
		t.Fatalf("expected default listen address, got %q", cfg.ListenAddr)
	}
	if cfg.TickRate != 20 || cfg.MaxPlayers != 64 {
		t.Fatalf("expected tick rate 20 and 64 players, got %d and %d", cfg.TickRate, cfg.MaxPlayers)
	}
	if cfg.PingInterval != 2*time.Second {
		t.Fatalf("expected 2s ping interval, got %s", cfg.PingInterval)
	}
	if cfg.LogColor != "auto" {
		t.Fatalf("expected auto colour, got %q", cfg.LogColor)
	}
}

func TestParseEnvMapReadsPrefixedVariables(t *testing.T) {
	cfg, err := ParseEnvMap(map[string]string{
		"BLOCKWORLD_SERVER_NAME": "Testing",
		"BLOCKWORLD_OPERATORS":   "alice,bob",
		"BLOCKWORLD_TICK_RATE":   "50",
		"SERVER_NAME":            "ignored",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ServerName != "Testing" {
		t.Fatalf("expected prefixed server name, got %q", cfg.ServerName)
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, cfg.Operators); diff != "" {
		t.Fatalf("operators mismatch (-want +got):\n%s", diff)
	}
	if cfg.TickRate != 50 {
		t.Fatalf("expected tick rate 50, got %d", cfg.TickRate)
	}
}

func TestNormalizedRejectsUnusableSettings(t *testing.T) {
	if _, err := ParseEnvMap(map[string]string{"BLOCKWORLD_LISTEN_ADDR": " "}); err == nil {
		t.Fatalf("expected an empty listen address to fail")
	}
	if _, err := ParseEnvMap(map[string]string{"BLOCKWORLD_VERIFY_NAMES": "true"}); err == nil {
		t.Fatalf("expected name verification without a salt to fail")
	}
	if _, err := ParseEnvMap(map[string]string{"BLOCKWORLD_TICK_RATE": "fast"}); err == nil {
		t.Fatalf("expected a malformed tick rate to fail")
	}
}

func TestNormalizedClamps(t *testing.T) {
	cfg, err := ParseEnvMap(map[string]string{
		"BLOCKWORLD_MAX_PLAYERS": "900",
		"BLOCKWORLD_TICK_RATE":   "0",
		"BLOCKWORLD_LOG_COLOR":   "rainbow",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MaxPlayers != 128 {
		t.Fatalf("expected players clamped to 128, got %d", cfg.MaxPlayers)
	}
	if cfg.TickRate != 20 {
		t.Fatalf("expected tick rate reset to 20, got %d", cfg.TickRate)
	}
	if cfg.LogColor != "auto" {
		t.Fatalf("expected unknown colour mode to become auto, got %q", cfg.LogColor)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func TestRunServesTCPAndHTTPUntilCancelled(t *testing.T) {
	cfg, err := ParseEnvMap(map[string]string{
		"BLOCKWORLD_LISTEN_ADDR": "127.0.0.1:0",
		"BLOCKWORLD_HTTP_ADDR":   "127.0.0.1:0",
		"BLOCKWORLD_SERVER_NAME": "Run Test",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addrs := make(chan [2]net.Addr, 1)
	result := make(chan error, 1)
	go func() {
		result <- Run(ctx, cfg, Options{
			EventWriter: &syncBuffer{},
			Store:       persistence.NewMemoryStore(),
			OnListen: func(tcpAddr, httpAddr net.Addr) {
				addrs <- [2]net.Addr{tcpAddr, httpAddr}
			},
		})
	}()

	var bound [2]net.Addr
	select {
	case bound = <-addrs:
	case err := <-result:
		t.Fatalf("expected server to start, got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server never started listening")
	}

	resp, err := http.Get("http://" + bound[1].String() + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", resp.StatusCode, body)
	}

	conn, err := net.Dial("tcp", bound[0].String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	in, out := proto.DefaultTables().Codecs()
	frame, err := in.Builder(proto.InIdentification).
		Byte("protocol_version", proto.Version).
		String("username", "alice").
		Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	pkt, err := out.ReadPacket(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pkt.Opcode() != proto.OutServerIdentification {
		t.Fatalf("expected server identification, got opcode %d", pkt.Opcode())
	}
	if got := pkt.String("server_name"); got != "Run Test" {
		t.Fatalf("expected server name %q, got %q", "Run Test", got)
	}

	cancel()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestSessionTrackerRefusesAfterWait(t *testing.T) {
	tracker := &sessionTracker{}
	if !tracker.add() {
		t.Fatalf("expected a session to be admitted before shutdown")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tracker.wait(ctx) {
		t.Fatalf("expected wait to time out while a session runs")
	}
	if tracker.add() {
		t.Fatalf("expected sessions to be refused once shutdown is waiting")
	}
	tracker.done()
	if !tracker.wait(context.Background()) {
		t.Fatalf("expected wait to finish once the running session ends")
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	err := Run(context.Background(), Config{}, Options{EventWriter: io.Discard})
	if err == nil {
		t.Fatalf("expected an empty config to be rejected")
	}
}
