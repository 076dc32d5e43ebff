package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ledger counts command lifecycle transitions.
type Ledger interface {
	IncCreated(commandType string)
	AddClaimed(n int)
	IncReported(commandType, status string)
	AddExpired(n int64)
}

// Noop implements Ledger without emitting anything.
type Noop struct{}

func (Noop) IncCreated(string)          {}
func (Noop) AddClaimed(int)             {}
func (Noop) IncReported(string, string) {}
func (Noop) AddExpired(int64)           {}

// Prom implements Ledger on its own registry.
type Prom struct {
	registry *prometheus.Registry
	created  *prometheus.CounterVec
	claimed  prometheus.Counter
	reported *prometheus.CounterVec
	expired  prometheus.Counter
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_created_total",
			Help:      "Commands created by type",
		}, []string{"type"}),
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_claimed_total",
			Help:      "Commands flipped from PENDING to RUNNING",
		}),
		reported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_reported_total",
			Help:      "Results reported by type and status",
		}, []string{"type", "status"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_expired_total",
			Help:      "RUNNING commands failed by the staleness sweep",
		}),
	}
	p.registry.MustRegister(p.created, p.claimed, p.reported, p.expired,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return p
}

func (p *Prom) IncCreated(commandType string) { p.created.WithLabelValues(commandType).Inc() }

func (p *Prom) AddClaimed(n int) { p.claimed.Add(float64(n)) }

func (p *Prom) IncReported(commandType, status string) {
	p.reported.WithLabelValues(commandType, status).Inc()
}

func (p *Prom) AddExpired(n int64) { p.expired.Add(float64(n)) }

// Handler serves /metrics for this registry.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
