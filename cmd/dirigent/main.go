package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/dirigent/internal/budget"
	"github.com/aristath/dirigent/internal/cancel"
	"github.com/aristath/dirigent/internal/config"
	"github.com/aristath/dirigent/internal/engine"
	"github.com/aristath/dirigent/internal/escalation"
	"github.com/aristath/dirigent/internal/events"
	"github.com/aristath/dirigent/internal/gate"
	"github.com/aristath/dirigent/internal/graph"
	"github.com/aristath/dirigent/internal/lane"
	"github.com/aristath/dirigent/internal/persistence"
	"github.com/aristath/dirigent/internal/retry"
	"github.com/aristath/dirigent/internal/scheduler"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runInit writes the default configuration to the project path so users
// have something concrete to edit.
func runInit() error {
	path := filepath.Join(".dirigent", "config.json")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func run() error {
	// Signal-aware context for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := persistence.NewSQLiteStore(ctx, cfg.Scheduler.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	bus := events.NewBus()
	defer bus.Close()

	core := buildCore(cfg, store, bus)

	// Log every event; operators can follow a run from the journal alone.
	logEvents(bus.SubscribeAll(512))

	if err := core.Restore(ctx); err != nil {
		return fmt.Errorf("restoring goals: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- core.Start(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		// Restore default signal handling so a second Ctrl+C force-exits.
		stop()
		log.Println("Shutdown signal received, stopping scheduler...")
		core.Stop()

		shutdownCtx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelFn()
		select {
		case <-errChan:
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded, forcing exit")
		}
		return nil
	}
}

// buildCore wires every component from configuration.
func buildCore(cfg *config.Config, store persistence.Store, bus *events.Bus) *scheduler.Core {
	limits := lane.Limits{}
	for name, limit := range cfg.Lanes {
		limits[lane.Lane(name)] = limit
	}

	commands := make(map[string]engine.CommandSpec, len(cfg.Backends))
	for name, backend := range cfg.Backends {
		commands[name] = engine.CommandSpec{Command: backend.Command, Args: backend.Args}
	}
	eng := engine.NewResilient(
		engine.NewProcess(commands, cfg.Scheduler.WorkDir),
		engine.DefaultRetryConfig(),
	)

	return scheduler.New(
		scheduler.Config{
			TickInterval:      time.Duration(cfg.Scheduler.TickIntervalMS) * time.Millisecond,
			DefaultMaxRetries: cfg.Retry.DefaultMaxRetries,
		},
		scheduler.Deps{
			Store:  store,
			Graph:  graph.NewManager(),
			Lanes:  lane.NewSelector(limits),
			Budget: budget.NewTracker(budget.Thresholds{
				Warning:  cfg.Budget.WarningRatio,
				Critical: cfg.Budget.CriticalRatio,
			}),
			Classifier: retry.NewClassifier(retry.BackoffConfig{
				BaseDelay:    time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
				MaxDelay:     time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
				JitterFactor: cfg.Retry.JitterFactor,
			}),
			Gates: gate.NewRunner(gate.Config{
				WorkDir:           cfg.Scheduler.WorkDir,
				DefaultTimeout:    time.Duration(cfg.Gates.DefaultTimeoutSeconds) * time.Second,
				ContinueOnFailure: cfg.Gates.ContinueOnFailure,
			}, nil),
			Ledger:   escalation.NewLedger(),
			Cancels:  cancel.NewRegistry(),
			Bus:      bus,
			Engine:   eng,
			Selector: engine.NewDefaultSelector(cfg.BackendOrder),
		},
	)
}

func logEvents(ch <-chan events.Event) {
	go func() {
		for ev := range ch {
			log.Printf("[event] %s goal=%s", ev.Kind(), ev.Goal())
		}
	}()
}
