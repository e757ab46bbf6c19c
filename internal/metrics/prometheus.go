// Package metrics exposes deployment and record flow metrics through a
// Prometheus registry.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	"github.com/alexisbeaulieu97/pipez/internal/ports"
)

// Metric names.
const (
	StateChanges     = "pipez_operator_state_changes_total"
	RecordsSent      = "pipez_records_sent_total"
	RecordsRetrieved = "pipez_records_retrieved_total"
	SendFailures     = "pipez_send_failures_total"
	Restarts         = "pipez_operator_restarts_total"
	OperatorsRunning = "pipez_operators_running"
	Deployed         = "pipez_pipelines_deployed"
)

// Prometheus records metrics in its own registry.
type Prometheus struct {
	registry *prometheus.Registry
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	logger   *logger.Logger
}

var (
	_ ports.MetricsCollector = (*Prometheus)(nil)
	_ port.Observer          = (*Prometheus)(nil)
)

// New registers every pipez metric plus the Go runtime collectors.
func New(log *logger.Logger) *Prometheus {
	if log == nil {
		log = logger.Nop()
	}
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
		logger:   log,
	}

	p.counter(StateChanges, "Deployment state changes by target state.", "pipeline", "state")
	p.counter(RecordsSent, "Records sent through output ports.", "channel")
	p.counter(RecordsRetrieved, "Records retrieved through input ports.", "channel")
	p.counter(SendFailures, "Failed sends.", "channel")
	p.counter(Restarts, "Operator instance restarts.", "pipeline")
	p.gauge(OperatorsRunning, "Operator instances currently running.", "pipeline")
	p.gauge(Deployed, "Pipelines currently deployed.")

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) counter(name, help string, labels ...string) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	p.registry.MustRegister(vec)
	p.counters[name] = vec
}

func (p *Prometheus) gauge(name, help string, labels ...string) {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	p.registry.MustRegister(vec)
	if len(labels) == 0 {
		// Unlabelled gauges report zero before their first update.
		vec.WithLabelValues()
	}
	p.gauges[name] = vec
}

// Registry returns the underlying Prometheus registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *Prometheus) IncCounter(ctx context.Context, name string, labels map[string]string) {
	p.AddCounter(ctx, name, 1, labels)
}

func (p *Prometheus) AddCounter(_ context.Context, name string, value float64, labels map[string]string) {
	vec, ok := p.counters[name]
	if !ok {
		p.logger.Debug(fmt.Sprintf("unknown counter %s", name))
		return
	}
	c, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		p.logger.Error(err, fmt.Sprintf("counter %s", name))
		return
	}
	c.Add(value)
}

func (p *Prometheus) SetGauge(_ context.Context, name string, value float64, labels map[string]string) {
	if g := p.gaugeWith(name, labels); g != nil {
		g.Set(value)
	}
}

func (p *Prometheus) AddGauge(_ context.Context, name string, delta float64, labels map[string]string) {
	if g := p.gaugeWith(name, labels); g != nil {
		g.Add(delta)
	}
}

func (p *Prometheus) gaugeWith(name string, labels map[string]string) prometheus.Gauge {
	vec, ok := p.gauges[name]
	if !ok {
		p.logger.Debug(fmt.Sprintf("unknown gauge %s", name))
		return nil
	}
	g, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		p.logger.Error(err, fmt.Sprintf("gauge %s", name))
		return nil
	}
	return g
}

func (p *Prometheus) RecordsSent(channel string, n int) {
	p.AddCounter(context.Background(), RecordsSent, float64(n), map[string]string{"channel": channel})
}

func (p *Prometheus) RecordsRetrieved(channel string, n int) {
	p.AddCounter(context.Background(), RecordsRetrieved, float64(n), map[string]string{"channel": channel})
}

func (p *Prometheus) SendFailed(channel string) {
	p.IncCounter(context.Background(), SendFailures, map[string]string{"channel": channel})
}
