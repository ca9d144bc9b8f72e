// Package metrics provides Prometheus metrics export for the scheduler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the scheduler's Prometheus instruments. A fresh
// registry per Collector keeps tests isolated from the global default.
type Collector struct {
	registry *prometheus.Registry

	// Submission path
	TasksSubmitted prometheus.Counter

	// Scheduler loop
	SchedulerIterations prometheus.Counter
	TasksClaimed        prometheus.Counter
	ClaimConflicts      prometheus.Counter

	// Worker pool
	TasksCompleted prometheus.Counter
	TasksFailed    prometheus.Counter
	RunningTasks   prometheus.Gauge
	PoolCapacity   prometheus.Gauge
}

// NewCollector creates and registers the scheduler metrics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_tasks_submitted_total",
			Help: "Tasks accepted through the submission API.",
		}),
		SchedulerIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_scheduler_iterations_total",
			Help: "Completed scheduler poll iterations.",
		}),
		TasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_tasks_claimed_total",
			Help: "Tasks promoted QUEUED to RUNNING by the scheduler.",
		}),
		ClaimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_claim_conflicts_total",
			Help: "Claim attempts that lost to a concurrent claimant.",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_tasks_completed_total",
			Help: "Tasks that reached COMPLETED.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_tasks_failed_total",
			Help: "Tasks that reached FAILED.",
		}),
		RunningTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conductor_running_tasks",
			Help: "Tasks currently executing in the worker pool.",
		}),
		PoolCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conductor_pool_capacity",
			Help: "Configured worker pool size.",
		}),
	}

	registry.MustRegister(
		c.TasksSubmitted,
		c.SchedulerIterations,
		c.TasksClaimed,
		c.ClaimConflicts,
		c.TasksCompleted,
		c.TasksFailed,
		c.RunningTasks,
		c.PoolCapacity,
	)
	return c
}

// Handler returns the HTTP handler serving the registry in Prometheus
// text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
