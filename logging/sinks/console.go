package sinks

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"blockworld/server/logging"
)

// ConsoleSink prints one line per event. Severities are coloured when the
// sink is configured for colour.
type ConsoleSink struct {
	mu       sync.Mutex
	w        io.Writer
	severity map[logging.Severity]func(a ...any) string
	dim      func(a ...any) string
}

// NewConsole writes plain lines to w.
func NewConsole(w io.Writer) *ConsoleSink {
	return NewConsoleSink(w, logging.ConsoleConfig{})
}

// NewConsoleSink writes to w, colouring severities when cfg.UseColor is set.
func NewConsoleSink(w io.Writer, cfg logging.ConsoleConfig) *ConsoleSink {
	s := &ConsoleSink{w: w}
	if !cfg.UseColor {
		plain := fmt.Sprint
		s.dim = plain
		s.severity = map[logging.Severity]func(a ...any) string{}
		return s
	}
	paint := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		c.EnableColor()
		return c.SprintFunc()
	}
	s.dim = paint(color.Faint)
	s.severity = map[logging.Severity]func(a ...any) string{
		logging.SeverityDebug: paint(color.FgHiBlack),
		logging.SeverityInfo:  paint(color.FgCyan),
		logging.SeverityWarn:  paint(color.FgYellow, color.Bold),
		logging.SeverityError: paint(color.FgRed, color.Bold),
	}
	return s
}

// ColorSupported reports whether f is a terminal that should get colour.
func ColorSupported(f *os.File) bool {
	if f == nil || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s == nil || s.w == nil {
		return nil
	}
	severity := event.Severity.String()
	if paint, ok := s.severity[event.Severity]; ok {
		severity = paint(severity)
	}
	line := fmt.Sprintf("%s %-5s [%s] tick=%d actor=%s%s%s%s\n",
		s.dim(event.Time.Format(time.RFC3339)),
		severity,
		event.Type,
		event.Tick,
		formatEntity(event.Actor),
		formatTargets(event.Targets),
		formatPayload(event.Payload),
		formatExtra(event.Extra),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, line)
	return err
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
}

func formatTargets(targets []logging.EntityRef) string {
	if len(targets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(targets))
	for _, target := range targets {
		parts = append(parts, formatEntity(target))
	}
	return fmt.Sprintf(" targets=%s", strings.Join(parts, ","))
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	return fmt.Sprintf(" payload=%+v", payload)
}

func formatExtra(extra map[string]any) string {
	if len(extra) == 0 {
		return ""
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, extra[k])
	}
	return b.String()
}
