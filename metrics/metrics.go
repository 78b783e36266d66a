// Package metrics exposes Prometheus collectors for loop outcomes, tool
// executions, and token spend.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/martinemde/orbit/loop"
)

var (
	initOnce sync.Once

	loopsTotalCounter     *prometheus.CounterVec
	stepsTotalCounter     prometheus.Counter
	toolExecutionsCounter *prometheus.CounterVec
	tokensTotalCounter    *prometheus.CounterVec
	estimatedCostCounter  prometheus.Counter
	llmCallsCounter       prometheus.Counter
	stepDurationMetric    prometheus.Histogram
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		loopsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbit_loops_total",
				Help: "Total number of finished loops by terminal status.",
			},
			[]string{"status"},
		)

		stepsTotalCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orbit_steps_total",
				Help: "Total number of completed loop steps.",
			},
		)

		toolExecutionsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbit_tool_executions_total",
				Help: "Total number of tool executions by outcome.",
			},
			[]string{"outcome"},
		)

		tokensTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbit_tokens_total",
				Help: "Total tokens consumed by direction.",
			},
			[]string{"direction"},
		)

		estimatedCostCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orbit_estimated_cost_dollars_total",
				Help: "Estimated provider spend in dollars.",
			},
		)

		llmCallsCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orbit_llm_calls_total",
				Help: "Total completions requested from the decision service.",
			},
		)

		stepDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orbit_step_duration_seconds",
				Help:    "Duration of completed loop steps in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			loopsTotalCounter,
			stepsTotalCounter,
			toolExecutionsCounter,
			tokensTotalCounter,
			estimatedCostCounter,
			llmCallsCounter,
			stepDurationMetric,
		)

		// Ensure label values are visible at /metrics before first increment.
		for _, status := range []loop.Status{
			loop.StatusCompleted,
			loop.StatusFailed,
			loop.StatusCancelled,
		} {
			loopsTotalCounter.WithLabelValues(string(status))
		}
		toolExecutionsCounter.WithLabelValues("success")
		toolExecutionsCounter.WithLabelValues("error")
		tokensTotalCounter.WithLabelValues("prompt")
		tokensTotalCounter.WithLabelValues("completion")
	})
}

// ObserveEvent records the metrics carried by one progress event.
func ObserveEvent(ev loop.Event) {
	Init()
	switch ev.Kind {
	case loop.EventStepCompleted:
		stepsTotalCounter.Inc()
		stepDurationMetric.Observe(num(ev.Data["duration_ms"]) / 1000)
	case loop.EventToolsCompleted:
		toolExecutionsCounter.WithLabelValues("success").Add(num(ev.Data["succeeded"]))
		toolExecutionsCounter.WithLabelValues("error").Add(num(ev.Data["failed"]))
	}
}

// ObserveFinal records a loop's terminal snapshot.
func ObserveFinal(state loop.State) {
	Init()
	if state.Status.Terminal() {
		loopsTotalCounter.WithLabelValues(string(state.Status)).Inc()
	}
	tokensTotalCounter.WithLabelValues("prompt").Add(float64(state.Usage.PromptTokens))
	tokensTotalCounter.WithLabelValues("completion").Add(float64(state.Usage.CompletionTokens))
	estimatedCostCounter.Add(state.Usage.EstimatedCost)
	llmCallsCounter.Add(float64(state.Usage.LLMCalls))
}

// Handler serves the default registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// num coerces the numeric types an event payload can carry: native ints
// in process, float64 after a JSON round trip.
func num(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
