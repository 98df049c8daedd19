// Package metrics exposes the access controller's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace is used when the config leaves metrics.namespace empty.
const DefaultNamespace = "graylogic_access"

// Prom holds every collector the process updates.
type Prom struct {
	registry *prometheus.Registry

	// Validations
	ValidationsTotal   *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec
	RateLimitedTotal   *prometheus.CounterVec

	// Management commands over MQTT
	CommandsTotal *prometheus.CounterVec

	// Snapshot persistence
	FlushesTotal *prometheus.CounterVec

	// Store contents
	Users     *prometheus.GaugeVec
	Schedules prometheus.Gauge
}

// New creates and registers the collectors on a fresh registry, together
// with the Go runtime and process collectors.
func New(namespace string) *Prom {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()

	p := &Prom{
		registry: reg,
		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Credential validations by method, outcome and refusal reason.",
			},
			[]string{"method", "outcome", "reason"},
		),
		ValidationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "validation_duration_seconds",
				Help:      "Time to reach a verdict, including hash verification.",
				// Code lookups verify a PBKDF2 hash per user.
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Validation requests refused by the per-source rate limiter.",
			},
			[]string{"method"},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Management commands by operation and result.",
			},
			[]string{"op", "result"}, // result=ok|error
		),
		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "flushes_total",
				Help:      "Snapshot saves by result.",
			},
			[]string{"result"}, // result=ok|error
		),
		Users: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "users",
				Help:      "Stored users by kind (total, active, with_code, with_tag).",
			},
			[]string{"kind"},
		),
		Schedules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "schedules",
				Help:      "Stored schedules.",
			},
		),
	}

	reg.MustRegister(
		p.ValidationsTotal, p.ValidationDuration, p.RateLimitedTotal,
		p.CommandsTotal, p.FlushesTotal, p.Users, p.Schedules,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry returns the registry the collectors live on.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// ObserveValidation records one verdict.
func (p *Prom) ObserveValidation(method string, granted bool, reason string, seconds float64) {
	outcome := "refused"
	if granted {
		outcome = "granted"
	}
	p.ValidationsTotal.WithLabelValues(method, outcome, reason).Inc()
	if seconds >= 0 {
		p.ValidationDuration.WithLabelValues(method).Observe(seconds)
	}
}

// ObserveValidationDuration records how long a validation request took.
func (p *Prom) ObserveValidationDuration(method string, seconds float64) {
	p.ValidationDuration.WithLabelValues(method).Observe(seconds)
}

// ObserveRateLimited counts a request refused by the rate limiter.
func (p *Prom) ObserveRateLimited(method string) {
	p.RateLimitedTotal.WithLabelValues(method).Inc()
}

// ObserveFlush records a snapshot save.
func (p *Prom) ObserveFlush(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.FlushesTotal.WithLabelValues(result).Inc()
}

// ObserveCommand records a management command.
func (p *Prom) ObserveCommand(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.CommandsTotal.WithLabelValues(op, result).Inc()
}

// SetStoreCounts publishes the store's current contents.
func (p *Prom) SetStoreCounts(total, active, withCode, withTag, schedules int) {
	p.Users.WithLabelValues("total").Set(float64(total))
	p.Users.WithLabelValues("active").Set(float64(active))
	p.Users.WithLabelValues("with_code").Set(float64(withCode))
	p.Users.WithLabelValues("with_tag").Set(float64(withTag))
	p.Schedules.Set(float64(schedules))
}
