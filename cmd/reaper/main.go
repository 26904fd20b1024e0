// Command reaper runs the Orphan Reaper as a standalone process,
// sweeping stuck phases every five minutes (spec §4.9, §9 Open
// Question: external process chosen over a database-side scheduled
// function). Grounded on the teacher's background-ticker loop shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mentorfy/ingestpipe/engine/config"
	"github.com/mentorfy/ingestpipe/engine/pipeline"
	"github.com/mentorfy/ingestpipe/engine/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("reaper exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()

	reaper := pipeline.NewReaper(st, logger)
	logger.Info("orphan reaper started")
	return reaper.Run(ctx)
}
