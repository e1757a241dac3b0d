package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/OrlandoBitencourt/pennant"
	"github.com/OrlandoBitencourt/pennant/pkg/codec"
	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// Webhook event types.
const (
	// EventSnapshotUpdated carries a full snapshot for one provider.
	EventSnapshotUpdated = "snapshot.updated"
	// EventFlagsChanged asks for a refresh of the listed providers, or of
	// every provider when none is listed.
	EventFlagsChanged = "flags.changed"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Pennant-Signature"

// WebhookPayload is the body of a webhook request.
type WebhookPayload struct {
	Event     string                   `json:"event"`
	Provider  string                   `json:"provider,omitempty"`
	Providers []string                 `json:"providers,omitempty"`
	Snapshot  *domain.ProviderSnapshot `json:"snapshot,omitempty"`
	Timestamp string                   `json:"timestamp,omitempty"`
}

// WebhookTarget is the part of *pennant.Manager the webhook drives.
type WebhookTarget interface {
	UpdateSnapshotFromRealtime(name string, snap domain.ProviderSnapshot) error
	RefreshProvider(ctx context.Context, name string) error
	Sync(ctx context.Context) error
}

var _ WebhookTarget = (*pennant.Manager)(nil)

// WebhookServer turns change notifications from a flag service into
// snapshot updates and refreshes.
type WebhookServer struct {
	addr     string
	path     string
	verifier codec.Verifier
	target   WebhookTarget
	logger   *slog.Logger

	tracer       trace.Tracer
	eventCounter metric.Int64Counter

	server *http.Server
	wg     sync.WaitGroup
}

// WebhookOption customizes a WebhookServer.
type WebhookOption func(*WebhookServer)

// WithWebhookLogger sets the logger. The default discards everything.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *WebhookServer) { w.logger = l }
}

// WithSecret requires every request to carry a valid SignatureHeader
// computed with secret.
func WithSecret(secret []byte) WebhookOption {
	return func(w *WebhookServer) { w.verifier = codec.NewHMACSigner(secret) }
}

// NewWebhookServer creates a webhook server listening on addr at path.
func NewWebhookServer(addr, path string, target WebhookTarget, opts ...WebhookOption) (*WebhookServer, error) {
	meter := otel.Meter("github.com/OrlandoBitencourt/pennant")

	eventCounter, err := meter.Int64Counter(
		"pennant.webhook.events",
		metric.WithDescription("Webhook events received"),
	)
	if err != nil {
		return nil, err
	}

	w := &WebhookServer{
		addr:         addr,
		path:         path,
		target:       target,
		logger:       slog.New(slog.DiscardHandler),
		tracer:       otel.Tracer("pennant.webhook"),
		eventCounter: eventCounter,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Handler returns the webhook endpoint.
func (w *WebhookServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+w.path, w.handleWebhook)
	return mux
}

// Start starts serving in the background.
func (w *WebhookServer) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              w.addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("webhook server stopped", "addr", w.addr, "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (w *WebhookServer) Stop(ctx context.Context) error {
	if w.server != nil {
		if err := w.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	w.wg.Wait()
	return nil
}

func (w *WebhookServer) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	ctx, span := w.tracer.Start(r.Context(), "webhook.handle")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		span.RecordError(err)
		http.Error(rw, "Invalid payload", http.StatusBadRequest)
		return
	}

	if w.verifier != nil {
		sig, err := hex.DecodeString(r.Header.Get(SignatureHeader))
		if err != nil || !w.verifier.Verify(body, sig) {
			span.AddEvent("unauthorized")
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		span.RecordError(err)
		http.Error(rw, "Invalid payload", http.StatusBadRequest)
		return
	}

	w.eventCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", payload.Event),
	))
	span.SetAttributes(attribute.String("event.type", payload.Event))

	switch payload.Event {
	case EventSnapshotUpdated:
		err = w.applySnapshot(payload)
	case EventFlagsChanged:
		err = w.refresh(ctx, payload.Providers)
	default:
		http.Error(rw, "Unknown event type", http.StatusBadRequest)
		return
	}

	if err != nil {
		span.RecordError(err)
		w.logger.Warn("webhook event failed", "event", payload.Event, "error", err)
		http.Error(rw, err.Error(), statusFor(err))
		return
	}

	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func (w *WebhookServer) applySnapshot(payload WebhookPayload) error {
	if payload.Provider == "" || payload.Snapshot == nil {
		return domain.NewInvalidArgumentError("payload", "snapshot events need provider and snapshot")
	}
	return w.target.UpdateSnapshotFromRealtime(payload.Provider, *payload.Snapshot)
}

func (w *WebhookServer) refresh(ctx context.Context, providers []string) error {
	if len(providers) == 0 {
		return w.target.Sync(ctx)
	}

	var errs []error
	for _, name := range providers {
		if err := w.target.RefreshProvider(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func statusFor(err error) int {
	switch {
	case domain.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errors.Is(err, pennant.ErrUnknownProvider):
		return http.StatusNotFound
	case domain.IsParseError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
