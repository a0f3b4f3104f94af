// Package observability provides Prometheus metrics and lightweight
// in-process tracing for the points platform.
//
// Spans cover the redemption lifecycle (initiate → verify → fulfill) and
// ledger mutations; they are held in an in-memory ring buffer for the debug
// endpoint rather than exported to an external collector.
package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Trace Spans ────────────────────────────────────────────────────────────

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// Span represents a unit of work within a trace.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Tracer records spans into a bounded in-memory ring buffer.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 10_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 10_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a new span with the given operation name.
// Returns the span (caller must call EndSpan when done).
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	if !t.enabled {
		return &Span{Operation: operation}
	}

	return &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    generateID(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		TraceErrors.Inc()
	}
	TracesRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the recent spans.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "laurel-trace-id"
	spanIDKey  contextKey = "laurel-span-id"
)

// WithTraceID returns a context carrying the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context carrying the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return generateID()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// generateID creates a short unique ID (not cryptographically secure — fine for tracing).
var spanCounter atomic.Int64

func generateID() string {
	n := spanCounter.Add(1)
	return fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), n)
}

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerAppends counts ledger writes by transaction type and outcome.
var LedgerAppends = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "laurel",
	Subsystem: "ledger",
	Name:      "appends_total",
	Help:      "Total ledger append attempts by transaction type and outcome.",
}, []string{"type", "outcome"})

// LedgerInsufficientFunds counts debits rejected by the balance check.
var LedgerInsufficientFunds = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "laurel",
	Subsystem: "ledger",
	Name:      "insufficient_funds_total",
	Help:      "Total debits rejected because available balance could not cover them.",
})

// ─── Delegation Metrics ─────────────────────────────────────────────────────

// DelegationsTotal counts budget operations by kind.
var DelegationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "laurel",
	Subsystem: "delegation",
	Name:      "operations_total",
	Help:      "Total budget operations (inject, delegate, recall, award).",
}, []string{"operation"})

// DelegationPoints sums points moved by budget operations.
var DelegationPoints = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "laurel",
	Subsystem: "delegation",
	Name:      "points_total",
	Help:      "Total points moved by budget operations.",
}, []string{"operation"})

// ─── Redemption Metrics ─────────────────────────────────────────────────────

// RedemptionTransitions counts state-machine transitions.
var RedemptionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "laurel",
	Subsystem: "redemption",
	Name:      "transitions_total",
	Help:      "Total redemption state transitions by target state.",
}, []string{"to"})

// OTPFailures counts failed OTP verifications by reason.
var OTPFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "laurel",
	Subsystem: "redemption",
	Name:      "otp_failures_total",
	Help:      "Total failed OTP verifications by reason.",
}, []string{"reason"})

// ─── Fulfillment Metrics ────────────────────────────────────────────────────

// FulfillmentDuration tracks backend fulfillment latency.
var FulfillmentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "laurel",
	Subsystem: "fulfillment",
	Name:      "duration_seconds",
	Help:      "Backend fulfillment latency in seconds.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"item_type", "outcome"})

// FulfillmentQueueDepth tracks in-flight fulfillment jobs.
var FulfillmentQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "laurel",
	Subsystem: "fulfillment",
	Name:      "in_flight",
	Help:      "Number of fulfillment jobs currently executing.",
})

// ─── Trace Metrics ──────────────────────────────────────────────────────────

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "laurel",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "laurel",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
