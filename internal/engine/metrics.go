package engine

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("eresion.engine")

var (
	// eventsTotal counts submitted events by outcome
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eresion_events_total",
		Help: "Total submitted events by result",
	}, []string{"result"})

	// windowsClosed counts closed windows by scale
	windowsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eresion_windows_closed_total",
		Help: "Total closed windows by scale",
	}, []string{"scale"})

	// snapshotsShed counts snapshots dropped because analysis fell behind
	snapshotsShed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eresion_snapshots_shed_total",
		Help: "Total window snapshots shed from the analysis queue",
	})

	// analysisDuration tracks analysis latency per snapshot by scale
	analysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eresion_analysis_duration_seconds",
		Help:    "Window analysis duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"scale"})

	// analysisFailures counts isolated analyzer failures by stage
	analysisFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eresion_analysis_failures_total",
		Help: "Total dropped window analyses by failing stage",
	}, []string{"stage"})

	// resultsDiscarded counts analysis results superseded before applying
	resultsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eresion_analysis_discarded_total",
		Help: "Total analysis results discarded as superseded",
	})

	// motifTransitions counts motif state changes by target state
	motifTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eresion_motif_transitions_total",
		Help: "Total motif state transitions by target state",
	}, []string{"state"})

	// graphSize tracks live graph entities after each decay tick
	graphSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eresion_graph_size",
		Help: "Live graph entities by kind and tier",
	}, []string{"kind", "tier"})

	// degradationLevel is the current rung of the degradation ladder
	degradationLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eresion_degradation_level",
		Help: "Current degradation level (0 = normal, 4 = reactive only)",
	})
)

// loggerWithTrace returns a logger carrying the active span's ids.
func loggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
