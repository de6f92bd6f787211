package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record outcomes used as the "outcome" label of satdb_records_total.
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// IngestCollector bundles Prometheus metrics for ingestion runs and element
// set lookups, and exposes them over HTTP.
type IngestCollector struct {
	gatherer prometheus.Gatherer

	Records        *prometheus.CounterVec
	IngestDuration *prometheus.HistogramVec
	ElementSets    *prometheus.CounterVec
	TextCache      *prometheus.CounterVec
	BusyWorkers    prometheus.Gauge
}

// NewIngestCollector registers satdb metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry returns the existing
// collectors.
func NewIngestCollector(reg prometheus.Registerer) (*IngestCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	records, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satdb_records_total",
		Help: "Element records processed, labeled by source format and outcome.",
	}, []string{"source", "outcome"}), "satdb_records_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "satdb_ingest_duration_seconds",
		Help:    "Wall time of complete ingestion runs in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"source"}), "satdb_ingest_duration_seconds")
	if err != nil {
		return nil, err
	}

	sets, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satdb_element_sets_assembled_total",
		Help: "Element set lookups, labeled by outcome.",
	}, []string{"outcome"}), "satdb_element_sets_assembled_total")
	if err != nil {
		return nil, err
	}

	cache, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satdb_text_cache_requests_total",
		Help: "Element set text cache lookups, labeled by hit, miss or error.",
	}, []string{"result"}), "satdb_text_cache_requests_total")
	if err != nil {
		return nil, err
	}

	busy, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "satdb_ingest_workers_busy",
		Help: "Number of ingestion workers currently storing a record.",
	}), "satdb_ingest_workers_busy")
	if err != nil {
		return nil, err
	}

	return &IngestCollector{
		gatherer:       gatherer,
		Records:        records,
		IngestDuration: durations,
		ElementSets:    sets,
		TextCache:      cache,
		BusyWorkers:    busy,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *IngestCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveRecord counts one processed record.
func (c *IngestCollector) ObserveRecord(source, outcome string) {
	if c == nil || c.Records == nil {
		return
	}
	c.Records.WithLabelValues(source, outcome).Inc()
}

// ObserveIngest records the duration of a finished run.
func (c *IngestCollector) ObserveIngest(source string, d time.Duration) {
	if c == nil || c.IngestDuration == nil {
		return
	}
	c.IngestDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveElementSet counts one element set lookup.
func (c *IngestCollector) ObserveElementSet(outcome string) {
	if c == nil || c.ElementSets == nil {
		return
	}
	c.ElementSets.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup counts one text cache lookup.
func (c *IngestCollector) ObserveCacheLookup(result string) {
	if c == nil || c.TextCache == nil {
		return
	}
	c.TextCache.WithLabelValues(result).Inc()
}

// WorkerBusy adjusts the busy worker gauge by delta.
func (c *IngestCollector) WorkerBusy(delta int) {
	if c == nil || c.BusyWorkers == nil {
		return
	}
	c.BusyWorkers.Add(float64(delta))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
