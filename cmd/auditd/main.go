package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"auditchain/internal/platform/config"
	"auditchain/internal/platform/logger"
)

// main loads configuration and hands control to run. Everything the daemon
// owns is built in wire.go and torn down in reverse order on SIGINT/SIGTERM.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	for _, w := range cfg.Warnings {
		log.Warn("configuration value ignored", "detail", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("auditd exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("auditd stopped")
}
