// Package ws serves the block protocol to browser clients over websocket
// binary frames.
package ws

import (
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"blockworld/server/internal/telemetry"
)

const (
	upgradesMetricKey        = "ws_upgrades_total"
	upgradeFailuresMetricKey = "ws_upgrade_failures_total"
)

// Subprotocol is offered by browser clients speaking the block protocol.
const Subprotocol = "ClassiCube"

// ServeFunc runs one connection to completion. It is called on the HTTP
// handler goroutine.
type ServeFunc func(conn *Conn)

type HandlerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	Logger          telemetry.Logger
	Metrics         telemetry.Metrics
}

// Handler upgrades requests and hands the wrapped socket to serve.
type Handler struct {
	serve    ServeFunc
	logger   telemetry.Logger
	metrics  telemetry.Metrics
	upgrader websocket.Upgrader
}

func NewHandler(serve ServeFunc, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 4096
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		Subprotocols:    []string{Subprotocol},
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		serve:    serve,
		logger:   logger,
		metrics:  metrics,
		upgrader: upgrader,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	if h == nil || h.serve == nil {
		nethttp.Error(w, "websocket transport disabled", nethttp.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.Add(upgradeFailuresMetricKey, 1)
		h.logger.Printf("[ws] upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	h.metrics.Add(upgradesMetricKey, 1)
	h.serve(NewConn(conn))
}
