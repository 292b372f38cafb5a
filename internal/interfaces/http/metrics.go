package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Run states exported on the state gauge, in lifecycle order
var runStates = []string{
	"idle",
	"resolving_universe",
	"computing_batches",
	"ranking",
	"persisting",
	"done",
	"failed",
}

// MetricsRegistry holds the Prometheus metrics of the metrics engine. It
// implements engine.Recorder.
type MetricsRegistry struct {
	registry *prometheus.Registry

	RunDuration      *prometheus.HistogramVec
	Runs             *prometheus.CounterVec
	RunState         *prometheus.GaugeVec
	SymbolsProcessed prometheus.Counter
	SymbolsFailed    prometheus.Counter
	WriteDuration    *prometheus.HistogramVec
	RowsWritten      prometheus.Counter
	WriteRetries     prometheus.Counter
}

// NewMetricsRegistry creates the metrics on a private registry
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockmetrics_run_duration_seconds",
				Help:    "Wall time of metrics runs by outcome",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400, 3600},
			},
			[]string{"outcome"},
		),

		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockmetrics_runs_total",
				Help: "Total number of metrics runs by outcome",
			},
			[]string{"outcome"},
		),

		RunState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockmetrics_run_state",
				Help: "1 for the state the engine is currently in, 0 otherwise",
			},
			[]string{"state"},
		),

		SymbolsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stockmetrics_symbols_processed_total",
				Help: "Symbols whose metrics were computed, including failures",
			},
		),

		SymbolsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stockmetrics_symbols_failed_total",
				Help: "Symbols whose computation failed and were written as nulls",
			},
		),

		WriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockmetrics_batch_write_duration_seconds",
				Help:    "Duration of one upsert batch including retries",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"result"},
		),

		RowsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stockmetrics_rows_written_total",
				Help: "Metrics rows upserted",
			},
		),

		WriteRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stockmetrics_write_retries_total",
				Help: "Upsert batch retries",
			},
		),
	}

	m.registry.MustRegister(
		m.RunDuration,
		m.Runs,
		m.RunState,
		m.SymbolsProcessed,
		m.SymbolsFailed,
		m.WriteDuration,
		m.RowsWritten,
		m.WriteRetries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.SetState("idle")
	return m
}

// Registry exposes the underlying registry for extra collectors
func (m *MetricsRegistry) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetState marks state as the current run state
func (m *MetricsRegistry) SetState(state string) {
	for _, s := range runStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.RunState.WithLabelValues(s).Set(v)
	}
}

// ObserveRun records a finished run
func (m *MetricsRegistry) ObserveRun(outcome string, duration time.Duration) {
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// AddSymbols records one computed batch
func (m *MetricsRegistry) AddSymbols(processed, failed int) {
	m.SymbolsProcessed.Add(float64(processed))
	m.SymbolsFailed.Add(float64(failed))
}

// ObserveWrite records one upsert batch
func (m *MetricsRegistry) ObserveWrite(rows int, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	} else {
		m.RowsWritten.Add(float64(rows))
	}
	m.WriteDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// IncWriteRetries records one upsert retry
func (m *MetricsRegistry) IncWriteRetries() {
	m.WriteRetries.Inc()
}

// MetricsSnapshot is a point-in-time read of the engine counters
type MetricsSnapshot struct {
	SymbolsProcessed float64            `json:"symbols_processed"`
	SymbolsFailed    float64            `json:"symbols_failed"`
	RowsWritten      float64            `json:"rows_written"`
	WriteRetries     float64            `json:"write_retries"`
	Runs             map[string]float64 `json:"runs"`
	State            string             `json:"state"`
}

// Snapshot reads the current counter values
func (m *MetricsRegistry) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SymbolsProcessed: counterValue(m.SymbolsProcessed),
		SymbolsFailed:    counterValue(m.SymbolsFailed),
		RowsWritten:      counterValue(m.RowsWritten),
		WriteRetries:     counterValue(m.WriteRetries),
		Runs:             map[string]float64{},
	}

	for _, outcome := range []string{"done", "failed"} {
		snap.Runs[outcome] = counterValue(m.Runs.WithLabelValues(outcome))
	}

	for _, s := range runStates {
		metric := &io_prometheus_client.Metric{}
		if err := m.RunState.WithLabelValues(s).Write(metric); err != nil {
			continue
		}
		if metric.GetGauge().GetValue() == 1 {
			snap.State = s
		}
	}
	return snap
}

func counterValue(c prometheus.Counter) float64 {
	metric := &io_prometheus_client.Metric{}
	if err := c.Write(metric); err != nil {
		log.Debug().Err(err).Msg("Failed to read counter")
		return 0
	}
	return metric.GetCounter().GetValue()
}
