package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ============================================================================
// HTTP Server
// ============================================================================
// One server carries the live WebSocket (/ws) and the read-only endpoints:
//   - /chart   HTML line chart of the current series (go-echarts)
//   - /stats   JSON statistics per series
//   - /export  JSON export download
// Every read goes through the daemon loop (RequestSnapshot / RequestExport).
// ============================================================================

// runHTTPServer serves handler on port and shuts it down gracefully when ctx is canceled.
func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	listenAddr := fmt.Sprintf(":%d", port)
	logger.Info("http server listening", "port", port)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		// Wait for the ListenAndServe goroutine to return.
		_ = <-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

// httpAPI holds the read-only HTTP endpoints.
type httpAPI struct {
	events chan<- Event
	logger *slog.Logger
}

// Register registers the endpoints on mux.
func (a *httpAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("/chart", a.handleChart)
	mux.HandleFunc("/stats", a.handleStats)
	mux.HandleFunc("/export", a.handleExport)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (a *httpAPI) snapshot(r *http.Request) (SeriesSnapshot, error) {
	return requestSnapshot(r.Context(), a.events, requestTimeoutMS*time.Millisecond)
}

func (a *httpAPI) handleChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	req, err := parseChartRequest(q.Get("field"), q.Get("series"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := a.snapshot(r)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("snapshot: %v", err))
		return
	}

	var buf bytes.Buffer
	if err := renderSeriesChart(&buf, snap, req); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (a *httpAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, err := a.snapshot(r)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("snapshot: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(buildStatsReport(snap.View.Session, snap.Log)); err != nil {
		a.logger.Warn("stats encode failed", "error", err)
	}
}

func (a *httpAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	data, err := requestExport(r.Context(), a.events, requestTimeoutMS*time.Millisecond)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("export: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=motionscope-%s.json", time.Now().UTC().Format("20060102-150405")))
	_, _ = w.Write(data)
}
