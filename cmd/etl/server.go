package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"nft-market-etl/internal/dispatcher"
	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/observability"
	"nft-market-etl/internal/orchestrator"
	"nft-market-etl/internal/storage"
	"nft-market-etl/internal/tasks"
)

// serve runs the worker pool, the refresh scheduler and the admin server
// until ctx is cancelled.
func (a *app) serve(ctx context.Context, addr string, interval time.Duration) error {
	a.log.WithField("interval", interval).Info("starting refresh service")

	errCh := make(chan error, 2)
	workers := a.startWorkers(ctx)
	go func() { errCh <- a.runHTTP(ctx, addr) }()
	go a.runScheduler(ctx, interval)

	select {
	case <-ctx.Done():
		_ = a.broker.Close()
		<-workers
		return ctx.Err()
	case err := <-workers:
		if err != nil {
			return fmt.Errorf("workers: %w", err)
		}
		return errors.New("worker pool stopped")
	case err := <-errCh:
		_ = a.broker.Close()
		<-workers
		if err == nil {
			return ctx.Err()
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// work runs the worker pool and the admin server only. Cycles are started
// by another process sharing the Redis queue.
func (a *app) work(ctx context.Context, addr string) error {
	if _, ok := a.broker.(*dispatcher.RedisBroker); !ok {
		return errors.New("worker mode needs the redis broker")
	}
	a.log.Info("starting worker pool")

	errCh := make(chan error, 1)
	workers := a.startWorkers(ctx)
	go func() { errCh <- a.runHTTP(ctx, addr) }()

	select {
	case <-ctx.Done():
		_ = a.broker.Close()
		<-workers
		return ctx.Err()
	case err := <-workers:
		if err != nil {
			return fmt.Errorf("workers: %w", err)
		}
		return errors.New("worker pool stopped")
	case err := <-errCh:
		_ = a.broker.Close()
		<-workers
		if err == nil {
			return ctx.Err()
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func (a *app) runScheduler(ctx context.Context, interval time.Duration) {
	// Run immediately on start
	a.runCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runCycle(ctx)
		}
	}
}

func (a *app) runCycle(ctx context.Context) {
	res, err := a.orch.RunCycle(ctx)
	switch {
	case errors.Is(err, orchestrator.ErrCycleInProgress):
		a.log.Info("refresh cycle already running, skipping")
	case err != nil:
		a.log.WithError(err).Error("refresh cycle failed")
	default:
		a.log.WithFields(logrus.Fields{
			"cycle_id": res.ID,
			"outcome":  res.Outcome(),
		}).Debug("scheduled cycle done")
	}
}

func (a *app) runHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.WithField("addr", addr).Info("starting HTTP server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// routes builds the admin mux. Background cycles started over HTTP run
// under ctx so they stop with the process.
func (a *app) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("POST /refresh", func(w http.ResponseWriter, r *http.Request) {
		a.handleRefresh(ctx, w)
	})
	mux.HandleFunc("POST /rankings/delete", a.handleDeleteRankings)
	mux.HandleFunc("GET /rankings", a.handleRankings)
	mux.HandleFunc("GET /tasks/{id}", a.handleTaskResult)
	return mux
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status             string                 `json:"status"`
	Uptime             string                 `json:"uptime"`
	Started            time.Time              `json:"started"`
	State              orchestrator.State     `json:"state"`
	StorageInitialized bool                   `json:"storage_initialized"`
	QueueLength        int64                  `json:"queue_length"`
	LastCycle          *CycleSummary          `json:"last_cycle,omitempty"`
	RecentCycles       []*storage.CycleRecord `json:"recent_cycles,omitempty"`
}

// CycleSummary is the JSON form of the last cycle result.
type CycleSummary struct {
	ID                   string    `json:"id"`
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
	Outcome              string    `json:"outcome"`
	States               []string  `json:"states"`
	Discovered           int       `json:"discovered"`
	Known                int       `json:"known"`
	New                  int       `json:"new"`
	CollectionsRefreshed int       `json:"collections_refreshed"`
	TasksSubmitted       int       `json:"tasks_submitted"`
	FloorGroupsSkipped   int       `json:"floor_groups_skipped"`
	FloorGroupsTruncated int       `json:"floor_groups_truncated"`
	Errors               []string  `json:"errors,omitempty"`
}

func summarize(r *orchestrator.CycleResult) *CycleSummary {
	if r == nil {
		return nil
	}
	s := &CycleSummary{
		ID:                   r.ID,
		StartedAt:            r.StartedAt,
		FinishedAt:           r.FinishedAt,
		Outcome:              r.Outcome(),
		Discovered:           r.Discovered,
		Known:                r.Known,
		New:                  r.New,
		CollectionsRefreshed: r.CollectionsRefreshed,
		TasksSubmitted:       r.TasksSubmitted,
		FloorGroupsSkipped:   r.FloorGroupsSkipped,
		FloorGroupsTruncated: r.FloorGroupsTruncated,
		Errors:               r.Errors,
	}
	for _, st := range r.States {
		s.States = append(s.States, string(st))
	}
	return s
}

func (a *app) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:             "running",
		Uptime:             time.Since(a.started).Round(time.Second).String(),
		Started:            a.started,
		State:              a.orch.State(),
		StorageInitialized: a.session.Initialized(),
		LastCycle:          summarize(a.orch.LastResult()),
	}

	switch b := a.broker.(type) {
	case *dispatcher.ChannelBroker:
		resp.QueueLength = int64(b.Len())
	case *dispatcher.RedisBroker:
		if n, err := b.Len(r.Context()); err == nil {
			resp.QueueLength = n
		}
	}

	if a.cycles != nil {
		recent, err := a.cycles.GetRecent(r.Context(), 10)
		if err != nil {
			a.log.WithError(err).Warn("load recent cycles")
		}
		resp.RecentCycles = recent
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *app) handleRefresh(ctx context.Context, w http.ResponseWriter) {
	if a.orch.State() != orchestrator.StateIdle {
		writeError(w, http.StatusConflict, orchestrator.ErrCycleInProgress)
		return
	}
	go a.runCycle(ctx)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (a *app) handleDeleteRankings(w http.ResponseWriter, r *http.Request) {
	id, err := a.tasks.DeleteRankings(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (a *app) handleRankings(w http.ResponseWriter, r *http.Request) {
	metric := domain.Metric(r.URL.Query().Get("metric"))
	duration := domain.Duration(r.URL.Query().Get("duration"))
	if !metric.IsValid() || !duration.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: metric %q duration %q", storage.ErrInvalidInput, metric, duration))
		return
	}

	entries, err := tasks.FetchRankings(r.Context(), a.dispatcher, metric, duration)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *app) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	if a.results == nil {
		writeError(w, http.StatusNotFound, errors.New("task results need the redis broker"))
		return
	}
	res, err := a.results.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
