// Package app wires the server together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	server "blockworld/server"
	servernet "blockworld/server/internal/net"
	"blockworld/server/internal/net/ext"
	"blockworld/server/internal/net/intake"
	"blockworld/server/internal/net/proto"
	"blockworld/server/internal/net/session"
	"blockworld/server/internal/net/ws"
	"blockworld/server/internal/persistence"
	"blockworld/server/internal/persistence/sqlite"
	"blockworld/server/internal/sim"
	"blockworld/server/internal/telemetry"
	"blockworld/server/internal/world"
	"blockworld/server/logging"
	loggingSinks "blockworld/server/logging/sinks"
)

// Options carries what the caller owns rather than configures.
type Options struct {
	Logger telemetry.Logger
	// Events receives the console event sink; stdout when nil.
	Events *os.File
	// EventWriter overrides Events, mainly for tests.
	EventWriter io.Writer
	// Store overrides the store selected by the configuration.
	Store persistence.Store
	// OnListen is called once both listeners are bound. httpAddr is nil
	// when HTTP is disabled.
	OnListen func(tcpAddr, httpAddr net.Addr)
}

// Run serves until ctx ends or a listener fails, then shuts down in order:
// listeners, sessions, tick loop, world queue, persistence, event router.
func Run(ctx context.Context, cfg Config, opts Options) error {
	cfg, err := cfg.Normalized()
	if err != nil {
		return err
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.Discard
	}
	counters := telemetry.NewCounters()

	router, err := newRouter(cfg, opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	level, err := cfg.Level()
	if err != nil {
		return fmt.Errorf("build level: %w", err)
	}

	store := opts.Store
	if store == nil {
		store, err = openStore(cfg)
		if err != nil {
			return err
		}
		if closer, ok := store.(io.Closer); ok {
			defer closer.Close()
		}
	}

	queue := sim.NewQueue(sim.DefaultQueueConfig(), logger, counters)
	manager := persistence.NewManager(persistence.Config{
		Workers: cfg.PersistenceWorkers,
		Timeout: cfg.PersistenceTimeout,
	}, store, queue, logger, counters, router)
	supervisor := sim.NewSupervisor(logger, 0)

	in, out := proto.DefaultTables().Codecs()
	registry := ext.NewRegistry(ext.DefaultDeclarations())

	hub, err := server.NewHub(server.HubConfig{
		ServerName:         cfg.ServerName,
		MOTD:               cfg.MOTD,
		PingInterval:       cfg.PingInterval,
		CheckpointInterval: cfg.CheckpointInterval,
		FollowInterval:     cfg.FollowInterval,
		Operators:          cfg.Operators,
	}, server.HubDeps{
		Queue:       queue,
		Level:       level,
		Registry:    world.NewRegistry(cfg.MaxPlayers),
		Outgoing:    out,
		Persistence: manager,
		Supervisor:  supervisor,
		Logger:      logger,
		Metrics:     counters,
		Publisher:   router,
	})
	if err != nil {
		return err
	}
	loop := sim.NewLoop(queue, sim.LoopConfig{TickRate: cfg.TickRate}, sim.LoopHooks{OnTick: hub.Tick}, logging.SystemClock{}, counters)
	dispatcher := intake.NewDispatcher(intake.Config{
		AppName:     cfg.AppName,
		VerifyNames: cfg.VerifyNames,
		Salt:        cfg.Salt,
	}, queue, hub, registry, out, logger, counters, router)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	var httpListener net.Listener
	if cfg.HTTPAddr != "" {
		httpListener, err = net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			listener.Close()
			return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
		}
	}

	background, backgroundCtx := errgroup.WithContext(context.Background())
	background.Go(func() error { return queue.Run(backgroundCtx) })
	background.Go(func() error { return manager.Run(backgroundCtx) })

	group, groupCtx := errgroup.WithContext(ctx)
	sessions := &sessionTracker{}
	serve := func(conn session.Conn, transport string) {
		if !sessions.add() {
			conn.Close()
			return
		}
		defer sessions.done()
		s := session.New(conn, session.Options{
			Config:     cfg.Session(),
			Transport:  transport,
			Incoming:   in,
			Outgoing:   out,
			Extensions: registry,
			Handler:    dispatcher,
			Logger:     telemetry.WithFields(logger, map[string]any{"remote": conn.RemoteAddr().String()}),
			Metrics:    counters,
			Publisher:  router,
		})
		if err := s.Run(groupCtx); err != nil {
			logger.Printf("[session] %s ended: %v", s.ID(), err)
		}
	}

	group.Go(func() error { return loop.Run(groupCtx) })
	group.Go(func() error {
		return acceptLoop(groupCtx, listener, func(conn net.Conn) { serve(conn, "tcp") })
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return listener.Close()
	})

	var httpAddr net.Addr
	if httpListener != nil {
		httpAddr = httpListener.Addr()
		wsHandler := ws.NewHandler(func(conn *ws.Conn) { serve(conn, "ws") }, ws.HandlerConfig{
			Logger:  logger,
			Metrics: counters,
		})
		handlerCfg := servernet.HTTPHandlerConfig{
			ClientDir: cfg.ClientDir,
			WebSocket: http.HandlerFunc(wsHandler.Handle),
			Counters:  counters,
			Logger:    logger,
		}
		handlerCfg.Observability.EnablePprof = cfg.Pprof
		srv := &http.Server{
			Handler:           servernet.NewHTTPHandler(hub, handlerCfg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		group.Go(func() error {
			if err := srv.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		logger.Printf("http listening on %s", httpAddr)
	}
	logger.Printf("server listening on %s", listener.Addr())
	if opts.OnListen != nil {
		opts.OnListen(listener.Addr(), httpAddr)
	}

	runErr := group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if !sessions.wait(shutdownCtx) {
		logger.Printf("[session] shutdown timed out waiting for sessions")
	}
	// Disconnect tasks queued by the closing sessions release their saves.
	if err := queue.Do(shutdownCtx, func() {}); err != nil {
		logger.Printf("[queue] flush before shutdown: %v", err)
	}
	supervisor.StopAll()
	queue.Close()
	<-queue.Done()
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Printf("[persistence] close: %v", err)
	}
	if err := background.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func acceptLoop(ctx context.Context, listener net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		go handle(conn)
	}
}

// sessionTracker counts running sessions. Once wait has been called it
// refuses new ones, so no session can start after shutdown stops waiting.
type sessionTracker struct {
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func (t *sessionTracker) add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *sessionTracker) done() { t.wg.Done() }

// wait reports whether every session finished before ctx ended.
func (t *sessionTracker) wait(ctx context.Context) bool {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()
	finished := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-ctx.Done():
		return false
	}
}

func newRouter(cfg Config, opts Options, logger telemetry.Logger) (*logging.Router, error) {
	w := opts.EventWriter
	useColor := false
	if w == nil {
		f := opts.Events
		if f == nil {
			f = os.Stdout
		}
		w = f
		useColor = cfg.LogColor == "always" || (cfg.LogColor == "auto" && loggingSinks.ColorSupported(f))
	}
	logCfg := logging.DefaultConfig()
	logCfg.MinimumSeverity = logging.ParseSeverity(cfg.EventSeverity)
	logCfg.Console = logging.ConsoleConfig{UseColor: useColor}
	sinks := map[string]logging.Sink{
		"console": loggingSinks.NewConsoleSink(w, logCfg.Console),
	}
	router, err := logging.NewRouter(logCfg, logging.SystemClock{}, logger, sinks)
	if err != nil {
		return nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	return router, nil
}

func openStore(cfg Config) (persistence.Store, error) {
	if cfg.DatabasePath == "" {
		return persistence.NewMemoryStore(), nil
	}
	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}
