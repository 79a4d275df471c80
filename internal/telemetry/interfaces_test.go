package telemetry

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestWrapLogrus(t *testing.T) {
	t.Run("nil logger", func(t *testing.T) {
		logger := WrapLogrus(nil)
		logger.Printf("ignored %d", 42)
	})

	t.Run("forwards to logrus", func(t *testing.T) {
		var buf bytes.Buffer
		logger := WithFields(WrapLogrus(NewLogrus(&buf, "info", false)), map[string]any{"session": "s1"})
		logger.Printf("hello %s", "world")
		out := buf.String()
		if !strings.Contains(out, `msg="hello world"`) || !strings.Contains(out, "session=s1") {
			t.Fatalf("unexpected log output: %q", out)
		}
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		logger := WrapLogrus(NewLogrus(&buf, "warn", false))
		logger.Printf("quiet")
		if buf.Len() != 0 {
			t.Fatalf("expected info line to be filtered, got %q", buf.String())
		}
	})
}

func TestCounters(t *testing.T) {
	counters := NewCounters()
	counters.Add("test_counter", 2)
	counters.Store("test_counter", 5)
	counters.Add("test_counter", 3)

	if got := counters.Snapshot()["test_counter"]; got != 8 {
		t.Fatalf("unexpected metric value: %d", got)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				counters.Add("concurrent", 1)
			}
		}()
	}
	wg.Wait()
	if got := counters.Load("concurrent"); got != 800 {
		t.Fatalf("expected 800, got %d", got)
	}
	if keys := counters.Keys(); len(keys) != 2 || keys[0] != "concurrent" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	// Ensure nil counters do not panic.
	var nilCounters *Counters
	nilCounters.Add("ignored", 1)
	nilCounters.Store("ignored", 1)
}
