// Package metrics exports execution events as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
)

const namespace = "planexec"

// Collector holds the metric vectors fed by the event bus.
type Collector struct {
	registry *prometheus.Registry

	plans       *prometheus.CounterVec
	planSeconds *prometheus.HistogramVec
	nodes       *prometheus.CounterVec
	nodeSeconds *prometheus.HistogramVec
	acquires    *prometheus.CounterVec
	calls       *prometheus.CounterVec
	callSeconds *prometheus.HistogramVec
	requests    *prometheus.CounterVec
	respBytes   prometheus.Counter
	cancelled   prometheus.Counter
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// New creates a collector with its own registry, which also carries the
// Go runtime and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "plans_total",
			Help: "Top-level plan executions by root kind and outcome.",
		}, []string{"root", "outcome"}),
		planSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "plan_duration_seconds",
			Help:    "Time until a plan produced its result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"root"}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "nodes_total",
			Help: "Node handler invocations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		nodeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "node_duration_seconds",
			Help:    "Node handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connection_acquires_total",
			Help: "Database connection acquisitions.",
		}, []string{"vendor", "outcome", "new_pool"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "backend_calls_total",
			Help: "Outbound service and gRPC calls.",
		}, []string{"protocol", "code"}),
		callSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "backend_call_duration_seconds",
			Help:    "Outbound call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"protocol"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Handled HTTP requests by status.",
		}, []string{"status"}),
		respBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_response_bytes_total",
			Help: "Serialized response bytes.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cancelled_executions_total",
			Help: "Executions cancelled through their session.",
		}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.plans, c.planSeconds, c.nodes, c.nodeSeconds, c.acquires,
		c.calls, c.callSeconds, c.requests, c.respBytes, c.cancelled,
	)
	return c
}

// Registry exposes the underlying registry for gathering in tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Subscribe feeds the collector from the global bus.
func (c *Collector) Subscribe() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.PlanFinish) {
			c.plans.WithLabelValues(e.RootKind, outcome(e.Err)).Inc()
			c.planSeconds.WithLabelValues(e.RootKind).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.NodeFinish) {
			c.nodes.WithLabelValues(e.Kind, outcome(e.Err)).Inc()
			c.nodeSeconds.WithLabelValues(e.Kind).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.ConnectionAcquire) {
			c.acquires.WithLabelValues(e.Vendor, outcome(e.Err), strconv.FormatBool(e.NewPool)).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.ServiceCallFinish) {
			code := strconv.Itoa(e.Status)
			if e.Status == 0 {
				code = "transport"
			}
			c.calls.WithLabelValues("http", code).Inc()
			c.callSeconds.WithLabelValues("http").Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.GRPCClientFinish) {
			c.calls.WithLabelValues("grpc", e.Code.String()).Inc()
			c.callSeconds.WithLabelValues("grpc").Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.HTTPFinish) {
			c.requests.WithLabelValues(strconv.Itoa(e.Status)).Inc()
			c.respBytes.Add(float64(e.Bytes))
		}),
		eventbus.Subscribe(func(_ context.Context, e events.SessionCancel) {
			c.cancelled.Add(float64(e.Cancelled))
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
