package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

type contextKey string

const contextKeyEvalCtx contextKey = "pennant_eval_ctx"

// Request headers read by EvalContextMiddleware.
const (
	HeaderUserID     = "X-User-ID"
	HeaderDeviceID   = "X-Device-ID"
	HeaderAppVersion = "X-App-Version"
	HeaderOSName     = "X-OS-Name"
	HeaderOSVersion  = "X-OS-Version"
	HeaderRegion     = "X-Region"

	// HeaderAttributePrefix marks headers copied into EvalContext.Attributes,
	// e.g. X-Flag-Attr-Plan: pro sets attribute "plan".
	HeaderAttributePrefix = "X-Flag-Attr-"
)

// EvalContextMiddleware builds a domain.EvalContext from each request and
// stores it in the request context. The user id falls back to the user_id
// cookie and the locale to the first Accept-Language tag.
func EvalContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithEvalContext(r.Context(), BuildEvalContext(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BuildEvalContext extracts the evaluation context from r.
func BuildEvalContext(r *http.Request) domain.EvalContext {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		if cookie, err := r.Cookie("user_id"); err == nil {
			userID = cookie.Value
		}
	}

	ec := domain.EvalContext{
		UserID:     userID,
		DeviceID:   r.Header.Get(HeaderDeviceID),
		AppVersion: r.Header.Get(HeaderAppVersion),
		OSName:     r.Header.Get(HeaderOSName),
		OSVersion:  r.Header.Get(HeaderOSVersion),
		Locale:     primaryLanguage(r.Header.Get("Accept-Language")),
		Region:     r.Header.Get(HeaderRegion),
	}

	for key, values := range r.Header {
		name, ok := strings.CutPrefix(key, HeaderAttributePrefix)
		if !ok || name == "" || len(values) == 0 {
			continue
		}
		if ec.Attributes == nil {
			ec.Attributes = make(map[string]string)
		}
		ec.Attributes[strings.ToLower(name)] = values[0]
	}

	return ec
}

// WithEvalContext returns a copy of ctx carrying ec.
func WithEvalContext(ctx context.Context, ec domain.EvalContext) context.Context {
	return context.WithValue(ctx, contextKeyEvalCtx, ec)
}

// EvalContextFrom returns the evaluation context stored by
// EvalContextMiddleware.
func EvalContextFrom(ctx context.Context) (domain.EvalContext, bool) {
	ec, ok := ctx.Value(contextKeyEvalCtx).(domain.EvalContext)
	return ec, ok
}

func primaryLanguage(header string) string {
	tag, _, _ := strings.Cut(header, ",")
	tag, _, _ = strings.Cut(tag, ";")
	return strings.TrimSpace(tag)
}

// TracingMiddleware wraps each request in a span recording method, path,
// status and duration.
func TracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("pennant.server")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "http.request",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			),
		)
		defer span.End()

		start := time.Now()
		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r.WithContext(ctx))

		span.SetAttributes(
			attribute.Int("http.status_code", wrapper.statusCode),
			attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
