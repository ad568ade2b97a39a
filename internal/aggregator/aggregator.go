package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ObiAU/mentionfeed/internal/config"
	"github.com/ObiAU/mentionfeed/internal/metrics"
	"github.com/ObiAU/mentionfeed/internal/models"
	"github.com/ObiAU/mentionfeed/internal/storage"
	"github.com/google/uuid"
)

// RunSummary describes the last completed run for /stats.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  string        `json:"duration"`
	New       int           `json:"new"`
	FeedSize  int           `json:"feed_size"`
	Sources   []SourceStats `json:"sources"`
	Failed    []string      `json:"failed_sources,omitempty"`
	CommitErr string        `json:"commit_error,omitempty"`
}

// Aggregator wraps the Engine with load, commit and notify, and can serve the
// result over HTTP between periodic runs.
type Aggregator struct {
	config    *config.Config
	engine    *Engine
	store     storage.Store
	notifiers []models.Notifier
	metrics   *metrics.Recorder
	logger    *slog.Logger
	server    *http.Server
	mu        sync.RWMutex
	running   bool
	lastRun   *RunSummary
}

func New(cfg *config.Config, store storage.Store, adapters []models.Adapter, notifiers []models.Notifier, recorder *metrics.Recorder, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	return &Aggregator{
		config:    cfg,
		engine:    NewEngine(adapters, cfg.AdapterTimeout, logger),
		store:     store,
		notifiers: notifiers,
		metrics:   recorder,
		logger:    logger,
	}
}

// RunOnce performs one complete pass: load, fetch, merge, commit, notify.
// Only a commit failure is returned; adapter and notifier failures are
// logged and counted.
func (a *Aggregator) RunOnce(ctx context.Context) (Result, error) {
	started := time.Now()
	runID := uuid.NewString()
	logger := a.logger.With("run_id", runID)
	ctx = models.WithRunID(ctx, runID)

	state := a.store.Load(ctx)
	logger.Info("run started",
		"feed_size", len(state.Feed),
		"seen_ids", state.Seen.IDs.Len(),
		"seen_conversations", state.Seen.Conversations.Len(),
		"sources", len(a.engine.adapters))

	res := a.engine.RunOnce(ctx, state)

	summary := &RunSummary{
		RunID:     runID,
		StartedAt: started.UTC(),
		New:       len(res.New),
		FeedSize:  len(res.State.Feed),
		Sources:   res.Sources,
	}

	for _, s := range res.Sources {
		a.metrics.ObserveSource(string(s.Source), s.Fetched, s.New, s.Err)
		if s.Err != nil {
			summary.Failed = append(summary.Failed, string(s.Source))
			logger.Warn("source failed", "source", s.Source, "error", s.Err)
			continue
		}
		logger.Info("source fetched",
			"source", s.Source,
			"fetched", s.Fetched,
			"filtered", s.Filtered,
			"invalid", s.Invalid,
			"new", s.New,
			"feed_size", len(res.State.Feed))
	}

	// Fan-out has joined; a cancellation arriving now must not abort the write.
	if err := a.store.Commit(context.WithoutCancel(ctx), res.State); err != nil {
		summary.Duration = time.Since(started).String()
		summary.CommitErr = err.Error()
		a.setLastRun(summary)
		a.metrics.ObserveRun(time.Since(started), false)
		return res, fmt.Errorf("commit run %s: %w", runID, err)
	}

	committedAt := time.Now()
	a.metrics.ObserveCommit(committedAt, len(res.State.Feed), res.State.Seen.IDs.Len(), res.State.Seen.Conversations.Len())
	logger.Info("run committed",
		"new", len(res.New),
		"feed_size", len(res.State.Feed),
		"seen_ids", res.State.Seen.IDs.Len(),
		"failed_sources", len(summary.Failed))

	a.notify(ctx, logger, res.New)

	summary.Duration = time.Since(started).String()
	a.setLastRun(summary)
	a.metrics.ObserveRun(time.Since(started), true)
	return res, nil
}

// notify hands the new items to every notifier in turn. Delivery failures do
// not affect the committed state.
func (a *Aggregator) notify(ctx context.Context, logger *slog.Logger, items []models.Item) {
	for _, n := range a.notifiers {
		if err := n.Notify(ctx, items); err != nil {
			a.metrics.NotifyFailed(n.Name())
			logger.Warn("notification failed", "notifier", n.Name(), "error", err)
			continue
		}
		if len(items) > 0 {
			logger.Info("notified", "notifier", n.Name(), "count", len(items))
		}
	}
}

// Run serves HTTP and performs a pass immediately and then every
// ProcessingInterval until ctx is cancelled. Failed passes are logged and
// retried on the next tick.
func (a *Aggregator) Run(ctx context.Context) error {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	a.startHTTPServer()
	a.processLoop(ctx)
	return a.shutdown()
}

func (a *Aggregator) processLoop(ctx context.Context) {
	if _, err := a.RunOnce(ctx); err != nil {
		a.logger.Error("run failed", "error", err)
	}

	ticker := time.NewTicker(a.config.ProcessingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil {
				a.logger.Error("run failed", "error", err)
			}
		}
	}
}

// Handler returns the HTTP routes served in Run.
func (a *Aggregator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/stats", a.statsHandler)
	mux.HandleFunc("/feed.json", a.feedHandler)
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

func (a *Aggregator) startHTTPServer() {
	a.server = &http.Server{
		Addr:              ":" + a.config.ServerPort,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("http server error", "error", err)
		}
	}()
}

func (a *Aggregator) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (a *Aggregator) statsHandler(w http.ResponseWriter, r *http.Request) {
	state := a.store.Load(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"feed_size":  len(state.Feed),
		"seen_ids":   state.Seen.IDs.Stats(),
		"seen_convs": state.Seen.Conversations.Stats(),
		"running":    a.isRunning(),
		"last_run":   a.LastRun(),
	})
}

func (a *Aggregator) feedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.store.Load(r.Context()).Feed)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// LastRun returns the summary of the most recent run, or nil.
func (a *Aggregator) LastRun() *RunSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastRun
}

func (a *Aggregator) setLastRun(s *RunSummary) {
	a.mu.Lock()
	a.lastRun = s
	a.mu.Unlock()
}

func (a *Aggregator) isRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

func (a *Aggregator) shutdown() error {
	a.logger.Info("shutting down aggregator")

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	return nil
}
