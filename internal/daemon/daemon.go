// Package daemon wires the planning engine, execution engine, and action
// dispatcher into a long-running service.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nadia/kinara/internal/config"
	"github.com/nadia/kinara/internal/logger"
	"github.com/nadia/kinara/internal/metrics"
	"github.com/nadia/kinara/pkg/action"
	"github.com/nadia/kinara/pkg/dispatch"
	"github.com/nadia/kinara/pkg/execution"
	"github.com/nadia/kinara/pkg/goal"
	"github.com/nadia/kinara/pkg/planning"
	"github.com/nadia/kinara/pkg/reasoning"
	"github.com/nadia/kinara/pkg/store"
)

// Daemon is the assembled Kinara service.
type Daemon struct {
	cfg    *config.Config
	log    *logger.Logger
	zlog   zerolog.Logger
	store  *store.Store
	goals  *goal.FileSource
	budget *dispatch.Budget

	metrics    *metrics.Metrics
	catalog    *action.Catalog
	dispatcher *dispatch.Dispatcher
	planner    *planning.Engine
	executor   *execution.Engine

	cron       *cron.Cron
	cfgLoader  *config.Loader
	watcher    *config.Watcher
	httpServer *http.Server
	startedAt  time.Time
}

// New builds a daemon from configuration. Nothing starts running until Start.
func New(cfg *config.Config, loader *config.Loader, log *logger.Logger) (*Daemon, error) {
	zlog := log.Zerolog()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "kinara.db"), zlog)
	if err != nil {
		return nil, err
	}

	goals := goal.NewFileSource(filepath.Join(cfg.DataDir, "goals.json"))
	m := metrics.New()

	local := reasoning.NewOpenAIProvider(cfg.AI.Local.APIKey, cfg.AI.Local.BaseURL, cfg.AI.Local.Model)
	remote := reasoning.NewAnthropicProvider(cfg.AI.Remote.APIKey, cfg.AI.Remote.Model)

	budget := dispatch.NewBudget(st, nil, cfg.Dispatch.MaxRemoteDispatchesPerDay)
	escalation, err := dispatch.NewEscalationCache(cfg.Dispatch.EscalationCacheSize, cfg.Dispatch.EscalationThreshold, 0)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create escalation cache: %w", err)
	}

	catalog := action.NewCatalog(zlog)

	dispatcher, err := dispatch.New(dispatch.Config{
		Local:      local,
		Remote:     remote,
		Catalog:    catalog,
		Budget:     budget,
		Escalation: escalation,
		Recorder:   m,
		Logger:     zlog,
		MaxTurns:   cfg.Dispatch.MaxComplexTurns,
		MaxTokens:  cfg.Dispatch.MaxTokens,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	planner, err := planning.New(st, goals, nil, local, zlog, planning.Config{
		MaxActivePlans:  cfg.Planner.MaxActivePlans,
		MaxStepsPerPlan: cfg.Planner.MaxStepsPerPlan,
		StalenessDays:   cfg.Planner.StalenessDays,
		MaxTokens:       cfg.Dispatch.MaxTokens,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:        cfg,
		log:        log,
		zlog:       zlog,
		store:      st,
		goals:      goals,
		budget:     budget,
		metrics:    m,
		catalog:    catalog,
		dispatcher: dispatcher,
		planner:    planner,
		cfgLoader:  loader,
	}

	messenger := newOutboxMessenger(filepath.Join(cfg.DataDir, "outbox.jsonl"), zlog)
	recaller := &logRecaller{store: st}

	executor, err := execution.New(st, zlog, execution.Config{
		MaxActivePlans: cfg.Planner.MaxActivePlans,
		MaxRetries:     cfg.Executor.MaxRetries,
		StepTimeout:    time.Duration(cfg.Executor.StepTimeoutSeconds) * time.Second,
		Dispatcher:     dispatcher,
		Messenger:      messenger,
		Searcher:       &modelSearcher{provider: local},
		Recaller:       recaller,
		Reasoner:       local,
		Recorder:       m,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	d.executor = executor

	d.registerActions(messenger, recaller)
	return d, nil
}

// Start runs the daemon until the context is cancelled or a termination
// signal arrives.
func (d *Daemon) Start(ctx context.Context) error {
	d.startedAt = time.Now()

	d.cron = cron.New()
	if _, err := d.cron.AddFunc(d.cfg.Planner.Interval, d.planningPass); err != nil {
		return fmt.Errorf("invalid planner interval: %w", err)
	}
	if _, err := d.cron.AddFunc(d.cfg.Executor.Interval, d.executionPass); err != nil {
		return fmt.Errorf("invalid executor interval: %w", err)
	}
	d.cron.Start()

	if d.cfg.HTTP.Enabled {
		if err := d.startHTTP(); err != nil {
			return err
		}
	}

	if d.cfgLoader != nil {
		w, err := config.NewWatcher(d.cfgLoader, d.zlog, d.applyConfig)
		if err != nil {
			d.zlog.Warn().Err(err).Msg("Config hot reload unavailable")
		} else {
			d.watcher = w
		}
	}

	d.zlog.Info().Msg("Daemon started")

	// Run both passes once at startup so a fresh process does not wait a
	// full interval before doing anything.
	go d.planningPass()
	go d.executionPass()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		d.zlog.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}
	return d.Stop()
}

// Stop shuts everything down in reverse start order.
func (d *Daemon) Stop() error {
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.cron != nil {
		stopCtx := d.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(10 * time.Second):
			d.zlog.Warn().Msg("Timed out waiting for scheduled passes to finish")
		}
	}
	d.stopHTTP()
	if err := d.store.Close(); err != nil {
		d.zlog.Error().Err(err).Msg("Failed to close store")
	}
	d.zlog.Info().Msg("Daemon stopped")
	return nil
}

// planningPass runs one planning cycle.
func (d *Daemon) planningPass() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	created, err := d.planner.RunOnce(ctx)
	if err != nil {
		d.zlog.Error().Err(err).Msg("Planning pass failed")
		return
	}
	for i := 0; i < created; i++ {
		d.metrics.PlansCreatedTotal.Inc()
	}
}

// executionPass runs one execution cycle and refreshes the budget gauge.
func (d *Daemon) executionPass() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	summary, err := d.executor.ExecuteActivePlans(ctx)
	if err != nil {
		d.zlog.Error().Err(err).Msg("Execution pass failed")
		return
	}
	d.zlog.Debug().
		Int("plans_active", summary.PlansActive).
		Int("steps_executed", summary.StepsExecuted).
		Int("plans_completed", summary.PlansCompleted).
		Int("plans_failed", summary.PlansFailed).
		Msg("Execution pass finished")

	if remaining, err := d.budget.Remaining(ctx); err == nil {
		d.metrics.RemoteBudgetLeft.Set(float64(remaining))
	}
}

// applyConfig applies a hot-reloaded configuration to the running components.
// Provider endpoints and HTTP settings still require a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	d.planner.SetConfig(planning.Config{
		MaxActivePlans:  cfg.Planner.MaxActivePlans,
		MaxStepsPerPlan: cfg.Planner.MaxStepsPerPlan,
		StalenessDays:   cfg.Planner.StalenessDays,
	})
	d.executor.SetConfig(
		cfg.Planner.MaxActivePlans,
		cfg.Executor.MaxRetries,
		time.Duration(cfg.Executor.StepTimeoutSeconds)*time.Second,
	)
	d.budget.SetLimit(cfg.Dispatch.MaxRemoteDispatchesPerDay)
	d.cfg = cfg
	d.zlog.Info().Msg("Runtime configuration applied")
}
