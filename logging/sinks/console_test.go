package sinks

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"blockworld/server/logging"
)

func TestConsoleSinkPlainLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsole(&buf)
	err := sink.Write(logging.Event{
		Type:     "network.session_closed",
		Tick:     3,
		Time:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Actor:    logging.SessionRef("s1"),
		Severity: logging.SeverityWarn,
		Extra:    map[string]any{"b": 2, "a": 1},
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	line := buf.String()
	for _, want := range []string{"2024-01-02T03:04:05Z", "warn", "[network.session_closed]", "tick=3", "actor=session:s1", " a=1 b=2"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("expected no colour escapes in plain mode, got %q", line)
	}
}

func TestConsoleSinkColour(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, logging.ConsoleConfig{UseColor: true})
	if err := sink.Write(logging.Event{Type: "x", Severity: logging.SeverityError}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected colour escapes, got %q", buf.String())
	}
}

func TestColorSupportedRejectsNil(t *testing.T) {
	if ColorSupported(nil) {
		t.Fatalf("expected nil file to be unsupported")
	}
}
