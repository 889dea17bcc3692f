package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/xnovu/worker/catalog/postgres"
	"github.com/xnovu/worker/config"
	"github.com/xnovu/worker/dispatch"
	"github.com/xnovu/worker/engine"
	"github.com/xnovu/worker/provider/novu"
	"github.com/xnovu/worker/schedule/temporal"
	"github.com/xnovu/worker/telemetry"
	"github.com/xnovu/worker/template"
	"github.com/xnovu/worker/workflows"
)

const (
	exitInitFailure   = 1
	exitConfigFailure = 3
)

func main() {
	dbgF := flag.Bool("debug", false, "Enable debug logs")
	flag.Parse()

	// Setup logger. Components log through telemetry.Logger; the clue
	// context carries format and debug settings.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	logger := telemetry.NewClueLogger()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "invalid configuration"})
		os.Exit(exitConfigFailure)
	}

	if err := run(ctx, cfg, logger); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "engine failed"})
		os.Exit(exitInitFailure)
	}
}

func run(ctx context.Context, cfg config.Config, logger telemetry.Logger) error {
	// Catalog DB.
	db, err := postgres.Connect(ctx, cfg.CatalogURL)
	if err != nil {
		return fmt.Errorf("connect catalog: %w", err)
	}
	cat, err := postgres.New(postgres.Options{DB: db})
	if err != nil {
		return fmt.Errorf("catalog store: %w", err)
	}

	// Schedule Store.
	store, err := temporal.New(temporal.Options{
		HostPort:                cfg.ScheduleStoreAddress,
		Namespace:               cfg.ScheduleStoreNamespace,
		TaskQueue:               cfg.TaskQueue,
		MaxConcurrentActivities: cfg.MaxConcurrentActivities,
		MaxConcurrentWorkflows:  cfg.MaxConcurrentWorkflows,
		Logger:                  logger,
	})
	if err != nil {
		return fmt.Errorf("schedule store: %w", err)
	}
	defer store.Close()

	// Delivery Provider and dispatch adapter.
	prov, err := novu.New(cfg.ProviderURL, cfg.ProviderKey)
	if err != nil {
		return fmt.Errorf("delivery provider: %w", err)
	}
	dispatcher, err := dispatch.New(dispatch.Options{
		Provider: prov,
		Renderer: template.NewRenderer(template.NewCatalogLoader(cat)),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("dispatch adapter: %w", err)
	}

	// Workflows and activities on the task queue.
	acts, err := workflows.NewActivities(workflows.ActivitiesOptions{
		Catalog:    cat,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("activities: %w", err)
	}
	if err := workflows.Register(store, acts); err != nil {
		return fmt.Errorf("register workflows: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Config:   cfg,
		Catalog:  cat,
		Schedule: store,
		Worker:   store,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := eng.Init(ctx); err != nil {
		return fmt.Errorf("engine init: %w", err)
	}
	log.Printf(ctx, "worker running on queue %q", cfg.TaskQueue)

	// Block until SIGINT or SIGTERM, then drain.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	log.Printf(ctx, "exiting (%v)", <-sig)

	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := eng.Shutdown(sctx); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}
	log.Printf(ctx, "exited")
	return nil
}
