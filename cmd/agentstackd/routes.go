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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/agentstack/queue"
	"github.com/kadirpekel/agentstack/workflow"
)

// routes wires the stable execute(callId, args) envelope (spec §6) plus
// the operator-facing checkpoint/health/metrics surfaces. chi is used for
// its middleware stack, not for path params: every component action is
// multiplexed on a single POST /execute by its "action" field, the way
// the spec's tool invoker contract expects.
func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.metricsMiddleware)

	r.Post("/execute", a.handleExecute)
	r.Get("/health", a.handleHealth)
	r.Get("/workflows/checkpoints", a.handleListCheckpoints)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler())
	}
	return r
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *app) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	summaries, err := workflow.ListCheckpoints(a.resolver)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "storage", "error": err.Error()})
		return
	}
	stats, err := workflow.GetCheckpointStats(a.resolver)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "storage", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": summaries, "stats": stats})
}

// handleExecute implements the stable tool contract (spec §6): decode
// {action, ...}, dispatch, and respond with
// {content: [{text: <JSON-encoded result>}]}. Every branch below encodes
// failures into the result's "status" discriminant rather than an HTTP
// error status (spec §7 "errors never cross component boundaries as
// exceptions").
func (a *app) handleExecute(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeEnvelope(w, map[string]any{"status": "validation", "error": "malformed request body"})
		return
	}

	action, _ := raw["action"].(string)
	if action == "" {
		writeEnvelope(w, map[string]any{"status": "validation", "error": "action is required"})
		return
	}
	delete(raw, "action")
	delete(raw, "callId")

	result := a.dispatch(r.Context(), action, raw)
	writeEnvelope(w, result)
}

func (a *app) dispatch(ctx context.Context, action string, params map[string]any) any {
	switch {
	case strings.HasPrefix(action, "queue."):
		return a.dispatchQueue(action, params)
	case strings.HasPrefix(action, "board."):
		return a.dispatchBoard(action, params)
	case strings.HasPrefix(action, "knowledge."):
		return a.dispatchKnowledge(action, params)
	case action == "session.list":
		return map[string]any{"status": "ok", "templates": a.templates.Load().List()}
	case action == "session.apply":
		return a.dispatchSessionApply(ctx, params)
	case action == "workflow.run":
		return a.dispatchWorkflowRun(ctx, params)
	default:
		return a.dispatchCustomTool(ctx, action, params)
	}
}

// --- queue ---

func (a *app) dispatchQueue(action string, params map[string]any) any {
	switch action {
	case "queue.add":
		task, _ := params["task"].(string)
		if task == "" {
			return validationError("task is required")
		}
		opts := queue.AddOptions{
			Data:       params["data"],
			Priority:   queue.Priority(stringParam(params, "priority")),
			MaxRetries: intParam(params, "maxRetries"),
			Tags:       stringSliceParam(params, "tags"),
		}
		t, err := a.queue.Add(task, opts)
		if err != nil {
			return storageError(err)
		}
		if stats, err := a.queue.Stats(); err == nil {
			a.metrics.SetQueueDepth(string(queue.StatusPending), stats.Pending)
		}
		return map[string]any{"status": "added", "task": t}

	case "queue.claim":
		t, result, err := a.queue.Claim()
		if err != nil {
			return storageError(err)
		}
		if result == queue.ClaimEmpty {
			return map[string]any{"status": "empty"}
		}
		a.metrics.RecordQueueClaim(string(t.Priority))
		return map[string]any{"status": "claimed", "task": t}

	case "queue.complete":
		id, _ := params["id"].(string)
		out, err := a.queue.Complete(id, params["result"])
		if err != nil {
			return storageError(err)
		}
		return out

	case "queue.fail":
		id, _ := params["id"].(string)
		errMsg, _ := params["error"].(string)
		out, err := a.queue.Fail(id, errMsg)
		if err != nil {
			return storageError(err)
		}
		a.metrics.RecordQueueFailure(out.Status)
		return out

	case "queue.retry":
		id, _ := params["id"].(string)
		out, err := a.queue.Retry(id)
		if err != nil {
			return storageError(err)
		}
		return out

	case "queue.clear":
		removed, err := a.queue.Clear(floatParam(params, "olderThanHours"))
		if err != nil {
			return storageError(err)
		}
		return map[string]any{"status": "cleared", "removed": removed}

	case "queue.stats":
		stats, err := a.queue.Stats()
		if err != nil {
			return storageError(err)
		}
		return stats

	default:
		return validationError("unknown action: " + action)
	}
}

// --- board ---

func (a *app) dispatchBoard(action string, params map[string]any) any {
	switch action {
	case "board.post":
		name, _ := params["board"].(string)
		message, _ := params["message"].(string)
		from, _ := params["from"].(string)
		out, err := a.board.Post(name, message, from, stringSliceParam(params, "tags"))
		if err != nil {
			return storageError(err)
		}
		a.metrics.RecordBoardPost(name)
		return out

	case "board.read":
		name, _ := params["board"].(string)
		since := stringParam(params, "since")
		msgs, err := a.board.Read(name, since, intParam(params, "limit"))
		if err != nil {
			return storageError(err)
		}
		a.metrics.RecordBoardRead(name)
		return map[string]any{"status": "ok", "messages": msgs}

	case "board.list":
		names, err := a.board.List()
		if err != nil {
			return storageError(err)
		}
		return map[string]any{"status": "ok", "boards": names}

	case "board.clear":
		name, _ := params["board"].(string)
		if err := a.board.Clear(name); err != nil {
			return storageError(err)
		}
		return map[string]any{"status": "cleared"}

	default:
		return validationError("unknown action: " + action)
	}
}

// --- knowledge ---

func (a *app) dispatchKnowledge(action string, params map[string]any) any {
	switch action {
	case "knowledge.set":
		category, _ := params["category"].(string)
		key, _ := params["key"].(string)
		data, hasData := params["data"]
		if !hasData || data == nil {
			return validationError("data is required")
		}
		result, err := a.knowledge.Set(category, key, data, stringSliceParam(params, "tags"))
		if err != nil {
			return validationError(err.Error())
		}
		a.metrics.RecordKnowledgeWrite(category)
		return map[string]any{"status": string(result)}

	case "knowledge.get":
		category, _ := params["category"].(string)
		key, _ := params["key"].(string)
		entry, ok, err := a.knowledge.Get(category, key)
		if err != nil {
			return storageError(err)
		}
		if !ok {
			return map[string]any{"status": "not_found"}
		}
		return map[string]any{"status": "ok", "entry": entry}

	case "knowledge.delete":
		category, _ := params["category"].(string)
		key, _ := params["key"].(string)
		result, err := a.knowledge.Delete(category, key)
		if err != nil {
			return storageError(err)
		}
		return map[string]any{"status": string(result)}

	case "knowledge.list":
		category, _ := params["category"].(string)
		keys, err := a.knowledge.List(category, intParam(params, "limit"))
		if err != nil {
			return storageError(err)
		}
		return map[string]any{"status": "ok", "keys": keys}

	case "knowledge.query":
		category, _ := params["category"].(string)
		start := time.Now()
		filter, _ := params["filter"].(map[string]any)
		matches, err := a.knowledge.Query(category, filter, intParam(params, "limit"))
		if err != nil {
			return storageError(err)
		}
		a.metrics.RecordKnowledgeQuery(category, time.Since(start))
		return map[string]any{"status": "ok", "matches": matches}

	case "knowledge.categories":
		cats, err := a.knowledge.Categories()
		if err != nil {
			return storageError(err)
		}
		return map[string]any{"status": "ok", "categories": cats}

	default:
		return validationError("unknown action: " + action)
	}
}

// --- session ---

func (a *app) dispatchSessionApply(ctx context.Context, params map[string]any) any {
	templateName, _ := params["template"].(string)
	sessionKey := stringParam(params, "sessionKey")
	callerSessionKey := stringParam(params, "callerSessionKey")
	result, err := a.templates.Load().Apply(ctx, templateName, sessionKey, callerSessionKey)
	if err != nil {
		status := "transport"
		if !strings.HasPrefix(err.Error(), "transport:") {
			status = "validation"
		}
		return map[string]any{"status": status, "error": err.Error()}
	}
	return result
}

// --- workflow ---

func (a *app) dispatchWorkflowRun(ctx context.Context, params map[string]any) any {
	raw, err := json.Marshal(params)
	if err != nil {
		return validationError("malformed workflow request")
	}
	var req workflow.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return validationError("malformed workflow request")
	}

	agentID := stringParam(params, "agentId")
	callerSessionKey := stringParam(params, "callerSessionKey")

	start := time.Now()
	result, err := a.engine.Run(ctx, req, agentID, callerSessionKey)
	if err != nil {
		var forbidden *workflow.ErrForbidden
		var validation *workflow.ErrValidation
		switch {
		case errors.As(err, &forbidden):
			return map[string]any{"status": "forbidden", "error": forbidden.Error()}
		case errors.As(err, &validation):
			return validationError(validation.Error())
		default:
			return map[string]any{"status": "error", "error": err.Error()}
		}
	}
	a.metrics.RecordWorkflowRun(string(req.Pattern), result.Status, time.Since(start))
	if result.StepsFailed > 0 {
		a.metrics.RecordWorkflowStepFailure(string(req.Pattern))
	}
	return result
}

// --- custom tools ---

func (a *app) dispatchCustomTool(ctx context.Context, name string, params map[string]any) any {
	start := time.Now()
	cfg, ok := a.tools.Load().Lookup(name)
	if !ok {
		return validationError("unknown action: " + name)
	}
	result, err := a.tools.Load().Execute(ctx, name, params)
	if err != nil {
		return validationError(err.Error())
	}
	a.metrics.RecordToolCall(name, string(cfg.Mode()), time.Since(start))
	if m, ok := result.(map[string]any); ok {
		if status, _ := m["status"].(string); status == "error" {
			a.metrics.RecordToolError(name, string(cfg.Mode()))
		}
	}
	return result
}

// --- helpers ---

func validationError(msg string) map[string]any {
	return map[string]any{"status": "validation", "error": msg}
}

func storageError(err error) map[string]any {
	return map[string]any{"status": "storage", "error": err.Error()}
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func floatParam(params map[string]any, key string) float64 {
	f, _ := params[key].(float64)
	return f
}

func stringSliceParam(params map[string]any, key string) []string {
	raw, ok := params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEnvelope wraps result in the stable {content: [{text: ...}]}
// contract (spec §6); the envelope itself is always HTTP 200, since the
// result's "status" field is where success/failure is discriminated.
func writeEnvelope(w http.ResponseWriter, result any) {
	text, err := json.Marshal(result)
	if err != nil {
		text = []byte(fmt.Sprintf(`{"status":"error","error":%q}`, err.Error()))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content": []map[string]string{{"text": string(text)}},
	})
}

// metricsMiddleware records every HTTP request's method, path, status and
// duration (teacher's pkg/transport/http_metrics_middleware.go pattern,
// simplified from OpenTelemetry+chi route-context to a direct counter).
func (a *app) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.metrics.RecordHTTPRequest(r.Method, routePattern(r), ww.Status(), time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}
