package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// statusResponse is the payload served on /status.
type statusResponse struct {
	UptimeSeconds   int64       `json:"uptime_seconds"`
	Plans           interface{} `json:"plans"`
	RemoteBudget    int         `json:"remote_budget_remaining"`
	RemoteBudgetCap int         `json:"remote_budget_limit"`
}

func (d *Daemon) startHTTP() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/status", d.handleStatus)

	addr := fmt.Sprintf("%s:%d", d.cfg.HTTP.Host, d.cfg.HTTP.Port)
	d.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		d.zlog.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.zlog.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	return nil
}

func (d *Daemon) stopHTTP() {
	if d.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.httpServer.Shutdown(ctx); err != nil {
		d.zlog.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summary, err := d.store.Summary(ctx, 5)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	remaining, err := d.budget.Remaining(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := statusResponse{
		UptimeSeconds:   int64(time.Since(d.startedAt).Seconds()),
		Plans:           summary,
		RemoteBudget:    remaining,
		RemoteBudgetCap: d.budget.Limit(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		d.zlog.Warn().Err(err).Msg("Failed to encode status response")
	}
}
