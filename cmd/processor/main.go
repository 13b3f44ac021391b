// Command processor runs the vessel notification stream processor:
// it consumes vessel state records from the durable partitioned log,
// evaluates them against the rule catalog, and emits notifications
// (spec §1-§8).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fanwu/vessel-notifier/internal/app"
	"github.com/fanwu/vessel-notifier/pkg/config"
	"github.com/fanwu/vessel-notifier/pkg/logger"
)

func main() {
	reset := flag.Bool("reset", false, "purge state, reset the consumer offset, and restart from the beginning")
	fromBeginning := flag.Bool("from-beginning", false, "consume from the earliest retained offset")
	info := flag.Bool("info", false, "print topic partition count and backlog, then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vessel-notifier: config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stdout",
	}).WithField("service", cfg.Service)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{Reset: *reset, FromBeginning: *fromBeginning}, log)
	if err != nil {
		log.WithError(err).Fatal("vessel-notifier: failed to initialize")
	}

	if *info {
		result, err := a.Info(ctx)
		if err != nil {
			log.WithError(err).Fatal("vessel-notifier: failed to load source info")
		}
		fmt.Printf("partitions=%d backlog=%d\n", result.Partitions, result.Backlog)
		_ = a.Shutdown(context.Background())
		return
	}

	if err := a.Run(ctx); err != nil {
		log.WithError(err).Fatal("vessel-notifier: run failed")
	}
}
