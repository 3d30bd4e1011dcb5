// Copyright 2025 The Agentstack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus instrumentation for every subsystem
// (queue, board, knowledge, tool, workflow, gateway, HTTP), nil-receiver
// safe so components can hold a *Metrics without a nil check at every
// call site.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures Prometheus metrics collection.
type Config struct {
	Enabled   bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// SetDefaults fills Endpoint/Namespace when unset.
func (c *Config) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "/metrics"
	}
	if c.Namespace == "" {
		c.Namespace = "agentstack"
	}
}

// Metrics is the process-wide instrumentation registry. A nil *Metrics is
// valid and every Record/Set/Observe method is a no-op against it, so
// instrumentation can be threaded through unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	queueClaims    *prometheus.CounterVec
	queueFailures  *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec

	boardPosts *prometheus.CounterVec
	boardReads *prometheus.CounterVec

	knowledgeWrites  *prometheus.CounterVec
	knowledgeQueries *prometheus.CounterVec
	knowledgeQueryDur *prometheus.HistogramVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	workflowRuns        *prometheus.CounterVec
	workflowRunDuration *prometheus.HistogramVec
	workflowStepFailures *prometheus.CounterVec

	gatewayCalls        *prometheus.CounterVec
	gatewayCallDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds a Metrics instance, or returns nil if cfg disables metrics.
func New(cfg *Config) *Metrics {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	cfg.SetDefaults()

	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initQueue(cfg.Namespace)
	m.initBoard(cfg.Namespace)
	m.initKnowledge(cfg.Namespace)
	m.initTool(cfg.Namespace)
	m.initWorkflow(cfg.Namespace)
	m.initGateway(cfg.Namespace)
	m.initHTTP(cfg.Namespace)
	return m
}

func (m *Metrics) initQueue(namespace string) {
	m.queueClaims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "queue", Name: "claims_total",
		Help: "Total number of task queue claims",
	}, []string{"priority"})
	m.queueFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "queue", Name: "failures_total",
		Help: "Total number of task failures, by outcome",
	}, []string{"outcome"}) // "retrying" or "failed"
	m.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "queue", Name: "depth",
		Help: "Current number of tasks by status",
	}, []string{"status"})
	m.registry.MustRegister(m.queueClaims, m.queueFailures, m.queueDepth)
}

func (m *Metrics) initBoard(namespace string) {
	m.boardPosts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "board", Name: "posts_total",
		Help: "Total number of messages posted to the board",
	}, []string{"channel"})
	m.boardReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "board", Name: "reads_total",
		Help: "Total number of board read calls",
	}, []string{"channel"})
	m.registry.MustRegister(m.boardPosts, m.boardReads)
}

func (m *Metrics) initKnowledge(namespace string) {
	m.knowledgeWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "knowledge", Name: "writes_total",
		Help: "Total number of knowledge store writes",
	}, []string{"namespace"})
	m.knowledgeQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "knowledge", Name: "queries_total",
		Help: "Total number of knowledge store queries",
	}, []string{"namespace"})
	m.knowledgeQueryDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "knowledge", Name: "query_duration_seconds",
		Help:    "Knowledge store query duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"namespace"})
	m.registry.MustRegister(m.knowledgeWrites, m.knowledgeQueries, m.knowledgeQueryDur)
}

func (m *Metrics) initTool(namespace string) {
	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tool", Name: "calls_total",
		Help: "Total number of custom tool invocations",
	}, []string{"tool_name", "mode"})
	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "tool", Name: "call_duration_seconds",
		Help:    "Custom tool execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tool_name", "mode"})
	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tool", Name: "errors_total",
		Help: "Total number of custom tool errors",
	}, []string{"tool_name", "mode"})
	m.registry.MustRegister(m.toolCalls, m.toolCallDuration, m.toolErrors)
}

func (m *Metrics) initWorkflow(namespace string) {
	m.workflowRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "workflow", Name: "runs_total",
		Help: "Total number of workflow runs, by terminal status",
	}, []string{"pattern", "status"})
	m.workflowRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "workflow", Name: "run_duration_seconds",
		Help:    "Workflow run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 14), // 500ms to ~68min
	}, []string{"pattern"})
	m.workflowStepFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "workflow", Name: "step_failures_total",
		Help: "Total number of failed workflow steps",
	}, []string{"pattern"})
	m.registry.MustRegister(m.workflowRuns, m.workflowRunDuration, m.workflowStepFailures)
}

func (m *Metrics) initGateway(namespace string) {
	m.gatewayCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "gateway", Name: "calls_total",
		Help: "Total number of gateway RPC calls, by outcome",
	}, []string{"method", "outcome"})
	m.gatewayCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "gateway", Name: "call_duration_seconds",
		Help:    "Gateway RPC call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	}, []string{"method"})
	m.registry.MustRegister(m.gatewayCalls, m.gatewayCallDuration)
}

func (m *Metrics) initHTTP(namespace string) {
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests served",
	}, []string{"method", "path", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
	m.registry.MustRegister(m.httpRequests, m.httpDuration)
}

// RecordQueueClaim records a successful claim of priority.
func (m *Metrics) RecordQueueClaim(priority string) {
	if m == nil {
		return
	}
	m.queueClaims.WithLabelValues(priority).Inc()
}

// RecordQueueFailure records a task failure reaching outcome ("retrying" or
// "failed").
func (m *Metrics) RecordQueueFailure(outcome string) {
	if m == nil {
		return
	}
	m.queueFailures.WithLabelValues(outcome).Inc()
}

// SetQueueDepth sets the current task count for status.
func (m *Metrics) SetQueueDepth(status string, count int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(status).Set(float64(count))
}

// RecordBoardPost records a message posted to channel.
func (m *Metrics) RecordBoardPost(channel string) {
	if m == nil {
		return
	}
	m.boardPosts.WithLabelValues(channel).Inc()
}

// RecordBoardRead records a read call against channel.
func (m *Metrics) RecordBoardRead(channel string) {
	if m == nil {
		return
	}
	m.boardReads.WithLabelValues(channel).Inc()
}

// RecordKnowledgeWrite records a knowledge store write in ns.
func (m *Metrics) RecordKnowledgeWrite(ns string) {
	if m == nil {
		return
	}
	m.knowledgeWrites.WithLabelValues(ns).Inc()
}

// RecordKnowledgeQuery records a knowledge store query in ns and its
// duration.
func (m *Metrics) RecordKnowledgeQuery(ns string, duration time.Duration) {
	if m == nil {
		return
	}
	m.knowledgeQueries.WithLabelValues(ns).Inc()
	m.knowledgeQueryDur.WithLabelValues(ns).Observe(duration.Seconds())
}

// RecordToolCall records a custom tool invocation of mode.
func (m *Metrics) RecordToolCall(toolName, mode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName, mode).Inc()
	m.toolCallDuration.WithLabelValues(toolName, mode).Observe(duration.Seconds())
}

// RecordToolError records a custom tool execution error.
func (m *Metrics) RecordToolError(toolName, mode string) {
	if m == nil {
		return
	}
	m.toolErrors.WithLabelValues(toolName, mode).Inc()
}

// RecordWorkflowRun records a completed workflow run's pattern, terminal
// status, and duration.
func (m *Metrics) RecordWorkflowRun(pattern, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.workflowRuns.WithLabelValues(pattern, status).Inc()
	m.workflowRunDuration.WithLabelValues(pattern).Observe(duration.Seconds())
}

// RecordWorkflowStepFailure records one failed step within a pattern run.
func (m *Metrics) RecordWorkflowStepFailure(pattern string) {
	if m == nil {
		return
	}
	m.workflowStepFailures.WithLabelValues(pattern).Inc()
}

// RecordGatewayCall records a gateway RPC call's method, outcome ("ok" or
// "error"), and duration.
func (m *Metrics) RecordGatewayCall(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(method, outcome).Inc()
	m.gatewayCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, statusLabel(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format, or a 503 if metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
