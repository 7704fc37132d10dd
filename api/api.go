// Package api exposes the workflow executor over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/medocr/docflow/engine"
	"github.com/medocr/docflow/stream"
)

// API wires the HTTP handlers to an executor.
type API struct {
	exec   *engine.Executor
	broker *stream.Broker
	logger *slog.Logger
	token  string
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithToken requires "Authorization: Bearer <token>" on every /v1 route.
// An empty token disables the check.
func WithToken(token string) Option {
	return func(a *API) { a.token = token }
}

// WithBroker enables GET /v1/events, a server-sent event feed of run
// lifecycle events. The broker must also be registered with the executor
// as an extension.
func WithBroker(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// New creates an API serving exec.
func New(exec *engine.Executor, opts ...Option) *API {
	a := &API{exec: exec, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers all routes into mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	a.registerWorkflowRoutes(mux)
	a.registerRunRoutes(mux)
	a.registerStepRoutes(mux)
	a.registerEventRoutes(mux)
}

func (a *API) registerWorkflowRoutes(mux *http.ServeMux) {
	mux.Handle("POST /v1/workflows/{workflowId}/run", a.guard(a.runWorkflow))
	mux.Handle("POST /v1/documents/{documentId}/process", a.guard(a.processDocument))
}

func (a *API) registerRunRoutes(mux *http.ServeMux) {
	mux.Handle("GET /v1/runs", a.guard(a.listRuns))
	mux.Handle("GET /v1/runs/{runId}", a.guard(a.getRun))
}

func (a *API) registerStepRoutes(mux *http.ServeMux) {
	mux.Handle("GET /v1/steps", a.guard(a.listSteps))
}

// ListenAndServe serves the API on addr until ctx is done, then shuts the
// server down gracefully.
func (a *API) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      a.exec.Config().MaxRunDuration + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if a.broker != nil {
		// Open event streams never finish on their own.
		srv.RegisterOnShutdown(a.broker.Close)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("api server listening", slog.String("address", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api serve: %w", err)
	}
	<-done
	return nil
}
