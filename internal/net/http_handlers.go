package net

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"time"

	"blockworld/server"
	"blockworld/server/internal/observability"
	"blockworld/server/internal/telemetry"
)

// diagnosticsTimeout bounds the wait for the world goroutine.
const diagnosticsTimeout = 2 * time.Second

// DiagnosticsSource reports the world's state. *server.Hub satisfies it.
type DiagnosticsSource interface {
	Diagnostics(ctx context.Context) (server.Diagnostics, error)
}

type HTTPHandlerConfig struct {
	// ClientDir, when set, is served at / for browser clients.
	ClientDir string
	// WebSocket serves /ws; the route is absent when nil.
	WebSocket nethttp.Handler
	Counters  *telemetry.Counters
	Logger    telemetry.Logger

	// Observability mounts optional debug endpoints.
	Observability observability.Config

	// Clock is overridable for tests.
	Clock func() time.Time
}

func NewHTTPHandler(hub DiagnosticsSource, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	mux := nethttp.NewServeMux()
	cfg.Observability.Register(mux)

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), diagnosticsTimeout)
		defer cancel()
		world, err := hub.Diagnostics(ctx)
		if err != nil {
			logger.Printf("[http] diagnostics unavailable: %v", err)
			httpError(w, "world unavailable", nethttp.StatusServiceUnavailable)
			return
		}

		var counters map[string]uint64
		if cfg.Counters != nil {
			counters = cfg.Counters.Snapshot()
		}
		payload := struct {
			Status     string             `json:"status"`
			ServerTime int64              `json:"serverTime"`
			World      server.Diagnostics `json:"world"`
			Counters   map[string]uint64  `json:"counters,omitempty"`
		}{
			Status:     "ok",
			ServerTime: now().UnixMilli(),
			World:      world,
			Counters:   counters,
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if cfg.WebSocket != nil {
		mux.Handle("/ws", cfg.WebSocket)
	}

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
