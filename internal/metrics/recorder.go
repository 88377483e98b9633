package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
	"github.com/oshokin/alarm-monitor/internal/version"
)

const namespace = "alarm_monitor"

// Recorder implements the metric hooks used by the engine, writer, hub and ingestion.
type Recorder struct {
	wordsIngested    *prom.CounterVec
	transitions      *prom.CounterVec
	ingestRejected   *prom.CounterVec
	persistFailures  *prom.CounterVec
	persistDropped   *prom.CounterVec
	appendDuration   prom.Histogram
	observers        prom.Gauge
	broadcastDropped prom.Counter
}

// NewRecorder constructs the metrics and registers them on reg.
// A nil reg gets a fresh registry with the Go and process collectors.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = NewRegistry()
	}

	r := &Recorder{
		wordsIngested: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "words_ingested_total",
			Help:      "Status words processed per station",
		}, []string{"station"}),
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Detected alarm transitions by station and new state",
		}, []string{"station", "state"}),
		ingestRejected: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rejected_total",
			Help:      "Transport payloads rejected before reaching the engine",
		}, []string{"reason"}),
		persistFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Transition appends that failed in the history store",
		}, []string{"station"}),
		persistDropped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "persist_dropped_total",
			Help:      "Transitions dropped because the station write queue was full",
		}, []string{"station"}),
		appendDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "append_duration_seconds",
			Help:      "Latency of a single history append",
			Buckets:   prom.DefBuckets,
		}),
		observers: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Currently connected observers",
		}),
		broadcastDropped: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Notifications skipped for observers with a full queue",
		}),
	}

	info := version.Get()
	buildInfo := prom.NewGauge(prom.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build metadata of the running binary",
		ConstLabels: prom.Labels{"version": info.Version, "commit": info.Commit, "go_version": info.GoVersion},
	})
	buildInfo.Set(1)

	reg.MustRegister(
		buildInfo,
		r.wordsIngested,
		r.transitions,
		r.ingestRejected,
		r.persistFailures,
		r.persistDropped,
		r.appendDuration,
		r.observers,
		r.broadcastDropped,
	)

	return r
}

// NewRegistry returns a registry with the standard Go and process collectors.
func NewRegistry() *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (r *Recorder) IncWordsIngested(station string) {
	if r == nil {
		return
	}

	r.wordsIngested.WithLabelValues(station).Inc()
}

func (r *Recorder) IncTransition(station string, state alarm.EdgeState) {
	if r == nil {
		return
	}

	r.transitions.WithLabelValues(station, string(state)).Inc()
}

func (r *Recorder) IncIngestRejected(reason string) {
	if r == nil {
		return
	}

	r.ingestRejected.WithLabelValues(reason).Inc()
}

func (r *Recorder) IncPersistFailure(station string) {
	if r == nil {
		return
	}

	r.persistFailures.WithLabelValues(station).Inc()
}

func (r *Recorder) IncPersistDropped(station string) {
	if r == nil {
		return
	}

	r.persistDropped.WithLabelValues(station).Inc()
}

func (r *Recorder) ObserveAppendDuration(d time.Duration) {
	if r == nil {
		return
	}

	r.appendDuration.Observe(d.Seconds())
}

func (r *Recorder) SetObservers(n int) {
	if r == nil {
		return
	}

	r.observers.Set(float64(n))
}

func (r *Recorder) IncBroadcastDropped() {
	if r == nil {
		return
	}

	r.broadcastDropped.Inc()
}
