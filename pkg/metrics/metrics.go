// Package metrics records agent-loop, tool and workflow counters and reads them back from Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Loop outcomes.
const (
	OutcomeReplied  = "replied"
	OutcomeMaxIters = "max_iterations"
	OutcomeFailed   = "failed"
)

// Recorder receives domain events. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveLoop(outcome string, iterations int, duration time.Duration)
	ObserveTool(tool string, success bool)
	ObserveTransition(from, to string)
	ObserveConflict(command string)
}

// Noop discards everything.
type Noop struct{}

func (Noop) ObserveLoop(string, int, time.Duration) {}
func (Noop) ObserveTool(string, bool)               {}
func (Noop) ObserveTransition(string, string)       {}
func (Noop) ObserveConflict(string)                 {}

// Prometheus implements Recorder with client_golang collectors.
type Prometheus struct {
	loopRuns       *prometheus.CounterVec
	loopIterations prometheus.Histogram
	loopDuration   prometheus.Histogram
	toolCalls      *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	conflicts      *prometheus.CounterVec
}

// NewPrometheus registers the domain collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		loopRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantops_agent_runs_total",
			Help: "Agent loop runs by outcome",
		}, []string{"outcome"}),
		loopIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenantops_agent_iterations",
			Help:    "Inference calls per agent loop run",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8},
		}),
		loopDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenantops_agent_run_duration_seconds",
			Help:    "Wall time of agent loop runs",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantops_tool_calls_total",
			Help: "Tool dispatches by tool and status",
		}, []string{"tool", "status"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantops_workflow_transitions_total",
			Help: "Maintenance workflow state transitions",
		}, []string{"from_state", "to_state"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantops_workflow_conflicts_total",
			Help: "Workflow commands rejected by a concurrent update",
		}, []string{"command"}),
	}
}

func (p *Prometheus) ObserveLoop(outcome string, iterations int, duration time.Duration) {
	p.loopRuns.WithLabelValues(outcome).Inc()
	p.loopIterations.Observe(float64(iterations))
	p.loopDuration.Observe(duration.Seconds())
}

func (p *Prometheus) ObserveTool(tool string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	p.toolCalls.WithLabelValues(tool, status).Inc()
}

func (p *Prometheus) ObserveTransition(from, to string) {
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *Prometheus) ObserveConflict(command string) {
	p.conflicts.WithLabelValues(command).Inc()
}

// Handler exposes the collectors in gatherer for scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
