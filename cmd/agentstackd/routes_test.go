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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentstack/board"
	"github.com/kadirpekel/agentstack/config"
	"github.com/kadirpekel/agentstack/gateway"
	"github.com/kadirpekel/agentstack/knowledge"
	"github.com/kadirpekel/agentstack/queue"
	"github.com/kadirpekel/agentstack/session"
	"github.com/kadirpekel/agentstack/subagents"
	"github.com/kadirpekel/agentstack/tool"
	"github.com/kadirpekel/agentstack/workflow"
	"github.com/kadirpekel/agentstack/workspace"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	resolver, err := workspace.NewStatic(t.TempDir())
	require.NoError(t, err)

	q, err := queue.New(resolver)
	require.NoError(t, err)
	k, err := knowledge.New(resolver)
	require.NoError(t, err)
	b := board.New(resolver)

	gw := gateway.New("http://unused.invalid")
	registry := subagents.New()
	engine := workflow.New(gw, registry, resolver, workflow.Limits{MaxSpawnDepth: 1, MaxChildrenPerAgent: 5}, func(string) string { return "" })

	a := &app{
		cfg:       &config.Config{},
		resolver:  resolver,
		queue:     q,
		board:     b,
		knowledge: k,
		gateway:   gw,
		registry:  registry,
		engine:    engine,
	}
	a.tools.Store(tool.NewRegistry(nil, builtinToolNames))
	a.templates.Store(session.New(gw, nil))
	return a
}

func execute(t *testing.T, a *app, body map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Content, 1)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.Content[0].Text), &result))
	return result
}

func TestHandleHealth(t *testing.T) {
	a := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExecute_UnknownActionIsValidation(t *testing.T) {
	a := newTestApp(t)
	result := execute(t, a, map[string]any{"action": "nonsense.action"})
	assert.Equal(t, "validation", result["status"])
}

func TestExecute_MissingActionIsValidation(t *testing.T) {
	a := newTestApp(t)
	result := execute(t, a, map[string]any{})
	assert.Equal(t, "validation", result["status"])
}

func TestExecute_QueueAddClaimCompleteLifecycle(t *testing.T) {
	a := newTestApp(t)

	added := execute(t, a, map[string]any{"action": "queue.add", "task": "do the thing", "priority": "high"})
	assert.Equal(t, "added", added["status"])
	task := added["task"].(map[string]any)
	id := task["id"].(string)

	claimed := execute(t, a, map[string]any{"action": "queue.claim"})
	assert.Equal(t, "claimed", claimed["status"])

	completed := execute(t, a, map[string]any{"action": "queue.complete", "id": id, "result": "ok"})
	assert.Equal(t, "done", completed["status"])

	stats := execute(t, a, map[string]any{"action": "queue.stats"})
	assert.Equal(t, float64(1), stats["done"])
}

func TestExecute_QueueClaimEmptyReturnsEmptyStatus(t *testing.T) {
	a := newTestApp(t)
	result := execute(t, a, map[string]any{"action": "queue.claim"})
	assert.Equal(t, "empty", result["status"])
}

func TestExecute_KnowledgeSetThenGetRoundTrips(t *testing.T) {
	a := newTestApp(t)

	setResult := execute(t, a, map[string]any{
		"action": "knowledge.set", "category": "contacts", "key": "sean",
		"data": map[string]any{"company": "Swinkels"},
	})
	assert.Equal(t, "created", setResult["status"])

	getResult := execute(t, a, map[string]any{"action": "knowledge.get", "category": "contacts", "key": "sean"})
	assert.Equal(t, "ok", getResult["status"])
	entry := getResult["entry"].(map[string]any)
	data := entry["data"].(map[string]any)
	assert.Equal(t, "Swinkels", data["company"])
}

func TestExecute_KnowledgeGetNotFound(t *testing.T) {
	a := newTestApp(t)
	result := execute(t, a, map[string]any{"action": "knowledge.get", "category": "contacts", "key": "ghost"})
	assert.Equal(t, "not_found", result["status"])
}

func TestExecute_KnowledgeSetRequiresData(t *testing.T) {
	a := newTestApp(t)
	result := execute(t, a, map[string]any{"action": "knowledge.set", "category": "c", "key": "k"})
	assert.Equal(t, "validation", result["status"])
}

func TestExecute_BoardPostThenRead(t *testing.T) {
	a := newTestApp(t)

	posted := execute(t, a, map[string]any{"action": "board.post", "board": "standup", "message": "hello", "from": "alice"})
	assert.Equal(t, true, posted["posted"])

	read := execute(t, a, map[string]any{"action": "board.read", "board": "standup"})
	assert.Equal(t, "ok", read["status"])
	msgs := read["messages"].([]any)
	require.Len(t, msgs, 1)
}

func TestExecute_WorkflowRunRejectsUnknownDependency(t *testing.T) {
	a := newTestApp(t)
	result := execute(t, a, map[string]any{
		"action":  "workflow.run",
		"pattern": "dag",
		"steps": []map[string]any{
			{"name": "A", "task": "do A", "dependsOn": []string{"ghost"}},
		},
	})
	assert.Equal(t, "validation", result["status"])
}

func TestExecute_SessionApplyUnknownTemplateIsValidation(t *testing.T) {
	a := newTestApp(t)
	result := execute(t, a, map[string]any{"action": "session.apply", "template": "ghost", "sessionKey": "s1"})
	assert.Equal(t, "validation", result["status"])
}

func TestHandleListCheckpoints_EmptyWorkspace(t *testing.T) {
	a := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/workflows/checkpoints", nil)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Checkpoints []workflow.CheckpointSummary `json:"checkpoints"`
		Stats       workflow.CheckpointStats     `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Checkpoints)
	assert.Equal(t, 0, body.Stats.Total)
}
