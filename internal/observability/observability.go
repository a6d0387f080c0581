package observability

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Ingest results used as the "result" label.
const (
	ResultStored       = "stored"
	ResultMalformed    = "malformed"
	ResultUnknownTopic = "unknown_topic"
	ResultRetained     = "retained"
	ResultStoreFailed  = "store_failed"
)

var (
	IngestMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_ingest_messages_total",
			Help: "MQTT messages handled by outcome.",
		},
		[]string{"topic", "result"},
	)
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)
	RecordsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_records_deleted_total",
			Help: "Records removed by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(IngestMessages, RequestCounter, RecordsDeleted)
}

// Setup installs the global tracer provider. Spans are exported over OTLP/HTTP
// only when endpoint is set.
func Setup(ctx context.Context, serviceName, endpoint string) (shutdown func(context.Context) error, tracer oteltrace.Tracer, err error) {
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, otel.Tracer(serviceName), nil
}

// Handler serves the prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// unmatchedRoute labels requests no route answered, so stray paths cannot
// grow the label set.
const unmatchedRoute = "unmatched"

// Middleware counts requests by chi route pattern and wraps each in a span.
func Middleware(tracer oteltrace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
			next.ServeHTTP(rw, r.WithContext(ctx))

			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", rw.status),
			)
			span.End()
			RequestCounter.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrade on /ws.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
