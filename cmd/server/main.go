package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ztrue/tracerr"

	"blockworld/server/internal/app"
	"blockworld/server/internal/telemetry"
	loggingSinks "blockworld/server/logging/sinks"
)

func main() {
	cfg, err := app.ParseEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	useColor := cfg.LogColor == "always" || (cfg.LogColor == "auto" && loggingSinks.ColorSupported(os.Stderr))
	logger := telemetry.NewLogrus(os.Stderr, cfg.LogLevel, useColor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, app.Options{Logger: telemetry.WrapLogrus(logger)}); err != nil {
		logger.Error(tracerr.Sprint(tracerr.Wrap(err)))
		stop()
		os.Exit(1)
	}
}
