// Package server exposes a flag manager over HTTP: an admin API for
// inspection, overrides and refreshes, a webhook receiver for change
// notifications, and request middleware that derives evaluation contexts.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/OrlandoBitencourt/pennant"
	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// Admin is the part of *pennant.Manager the admin API drives.
type Admin interface {
	State() pennant.State
	ProviderStatuses() []pennant.ProviderStatus
	ListAllFlags() map[string]domain.FlagValue
	ListOverrides() map[string]domain.FlagValue
	SetOverride(key string, value domain.FlagValue) error
	ClearOverride(key string) bool
	ClearAllOverrides() int
	Sync(ctx context.Context) error
	RefreshProvider(ctx context.Context, name string) error
}

var _ Admin = (*pennant.Manager)(nil)

// AdminOption customizes an AdminServer.
type AdminOption func(*AdminServer)

// WithAdminLogger sets the logger. The default discards everything.
func WithAdminLogger(l *slog.Logger) AdminOption {
	return func(a *AdminServer) { a.logger = l }
}

// WithMetricsHandler serves h at /metrics, e.g. the handler of a
// telemetry.PrometheusProvider.
func WithMetricsHandler(h http.Handler) AdminOption {
	return func(a *AdminServer) { a.metrics = h }
}

// AdminServer serves admin endpoints under a base path plus /health.
type AdminServer struct {
	addr    string
	path    string
	admin   Admin
	metrics http.Handler
	logger  *slog.Logger
	tracer  trace.Tracer

	server *http.Server
	wg     sync.WaitGroup
}

// NewAdminServer creates an admin server listening on addr with endpoints
// under path (e.g. "/admin").
func NewAdminServer(addr, path string, admin Admin, opts ...AdminOption) *AdminServer {
	a := &AdminServer{
		addr:   addr,
		path:   path,
		admin:  admin,
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("pennant.admin"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the routing for every admin endpoint.
func (a *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()

	base := a.path
	mux.HandleFunc("GET "+base+"/status", a.handleStatus)
	mux.HandleFunc("GET "+base+"/flags", a.handleFlags)
	mux.HandleFunc("GET "+base+"/overrides", a.handleListOverrides)
	mux.HandleFunc("PUT "+base+"/overrides/{key}", a.handleSetOverride)
	mux.HandleFunc("DELETE "+base+"/overrides/{key}", a.handleClearOverride)
	mux.HandleFunc("DELETE "+base+"/overrides", a.handleClearAllOverrides)
	mux.HandleFunc("POST "+base+"/refresh", a.handleRefresh)
	mux.HandleFunc("POST "+base+"/refresh/{provider}", a.handleRefreshProvider)
	mux.HandleFunc("GET /health", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}

	return TracingMiddleware(mux)
}

// Start starts serving in the background.
func (a *AdminServer) Start(ctx context.Context) error {
	a.server = &http.Server{
		Addr:              a.addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin server stopped", "addr", a.addr, "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (a *AdminServer) Stop(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	a.wg.Wait()
	return nil
}

type providerStatusResponse struct {
	Name                string    `json:"name"`
	HasSnapshot         bool      `json:"has_snapshot"`
	Revision            string    `json:"revision,omitempty"`
	SnapshotAgeMs       int64     `json:"snapshot_age_ms"`
	Stale               bool      `json:"stale"`
	Circuit             string    `json:"circuit"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	Healthy             *bool     `json:"healthy,omitempty"`
}

type statusResponse struct {
	State     string                   `json:"state"`
	Providers []providerStatusResponse `json:"providers"`
}

func (a *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, span := a.tracer.Start(r.Context(), "admin.status")
	defer span.End()

	resp := statusResponse{State: a.admin.State().String()}
	for _, st := range a.admin.ProviderStatuses() {
		ps := providerStatusResponse{
			Name:                st.Name,
			HasSnapshot:         st.HasSnapshot,
			Revision:            st.Revision,
			SnapshotAgeMs:       st.SnapshotAge.Milliseconds(),
			Stale:               st.Stale,
			Circuit:             st.Circuit.String(),
			LastSuccess:         st.LastSuccess,
			ConsecutiveFailures: st.ConsecutiveFailures,
		}
		if st.LastError != nil {
			ps.LastError = st.LastError.Error()
		}
		if st.Reported != nil {
			ps.Healthy = &st.Reported.Healthy
		}
		resp.Providers = append(resp.Providers, ps)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *AdminServer) handleFlags(w http.ResponseWriter, r *http.Request) {
	_, span := a.tracer.Start(r.Context(), "admin.flags")
	defer span.End()

	a.writeValues(w, span, a.admin.ListAllFlags())
}

func (a *AdminServer) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	_, span := a.tracer.Start(r.Context(), "admin.overrides.list")
	defer span.End()

	a.writeValues(w, span, a.admin.ListOverrides())
}

func (a *AdminServer) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	_, span := a.tracer.Start(r.Context(), "admin.overrides.set")
	defer span.End()

	key := r.PathValue("key")
	span.SetAttributes(attribute.String("flag.key", key))

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	value, err := domain.UnmarshalValue(body)
	if err != nil || value == nil {
		http.Error(w, "Invalid flag value", http.StatusBadRequest)
		return
	}

	if err := a.admin.SetOverride(key, value); err != nil {
		span.RecordError(err)
		status := http.StatusInternalServerError
		if domain.IsInvalidArgument(err) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	a.logger.Info("override set", "key", key, "kind", value.Kind())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "key": key})
}

func (a *AdminServer) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	_, span := a.tracer.Start(r.Context(), "admin.overrides.clear")
	defer span.End()

	key := r.PathValue("key")
	if !a.admin.ClearOverride(key) {
		http.Error(w, "Override not found", http.StatusNotFound)
		return
	}

	a.logger.Info("override cleared", "key", key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "key": key})
}

func (a *AdminServer) handleClearAllOverrides(w http.ResponseWriter, r *http.Request) {
	_, span := a.tracer.Start(r.Context(), "admin.overrides.clear_all")
	defer span.End()

	n := a.admin.ClearAllOverrides()
	a.logger.Info("overrides cleared", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cleared": n})
}

func (a *AdminServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "admin.refresh")
	defer span.End()

	if err := a.admin.Sync(ctx); err != nil {
		span.RecordError(err)
		a.logger.Warn("manual refresh incomplete", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AdminServer) handleRefreshProvider(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "admin.refresh_provider")
	defer span.End()

	name := r.PathValue("provider")
	span.SetAttributes(attribute.String("provider", name))

	if err := a.admin.RefreshProvider(ctx, name); err != nil {
		span.RecordError(err)
		status := http.StatusBadGateway
		if errors.Is(err, pennant.ErrUnknownProvider) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "provider": name})
}

// handleHealth is 200 once bootstrap has completed and 503 before.
func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, span := a.tracer.Start(r.Context(), "admin.health")
	defer span.End()

	state := a.admin.State()
	status := http.StatusOK
	if state != pennant.StateReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": state.String()})
}

func (a *AdminServer) writeValues(w http.ResponseWriter, span trace.Span, values map[string]domain.FlagValue) {
	out := make(map[string]json.RawMessage, len(values))
	for key, v := range values {
		raw, err := domain.MarshalValue(v)
		if err != nil {
			span.RecordError(err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out[key] = raw
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
