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

package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentstack/gateway"
	"github.com/kadirpekel/agentstack/subagents"
	"github.com/kadirpekel/agentstack/workspace"
)

// stubGateway answers every PatchSession/Agent call successfully and
// resolves History to a canned reply keyed by the session's step label
// (the Agent call's Label field), or fails a named step on demand.
type stubGateway struct {
	mu        sync.Mutex
	replies   map[string]string // label -> assistant reply
	failLabel map[string]bool   // label -> Agent() fails
	sessions  map[string]string // sessionKey -> label, so History can answer
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		replies:   map[string]string{},
		failLabel: map[string]bool{},
		sessions:  map[string]string{},
	}
}

func (s *stubGateway) PatchSession(ctx context.Context, key string, fields map[string]any) error {
	return nil
}

func (s *stubGateway) Agent(ctx context.Context, params gateway.AgentParams, stepTimeoutSeconds int) (*gateway.AgentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLabel[params.Label] {
		return nil, fmt.Errorf("transport: simulated failure for %s", params.Label)
	}
	s.sessions[params.SessionKey] = params.Label
	return &gateway.AgentResult{RunID: "run-" + params.Label}, nil
}

func (s *stubGateway) History(ctx context.Context, key string, limit int, timeout time.Duration) ([]gateway.HistoryMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	label, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	reply := s.replies[label]
	if reply == "" {
		reply = label + "-ok"
	}
	return []gateway.HistoryMessage{{Role: "assistant", Content: reply}}, nil
}

func newTestEngine(t *testing.T, gw gatewayClient) *Engine {
	t.Helper()
	resolver, err := workspace.NewStatic(t.TempDir())
	require.NoError(t, err)
	registry := subagents.New()
	return &Engine{
		gateway:      gw,
		registry:     registry,
		resolver:     resolver,
		limits:       Limits{MaxSpawnDepth: 2, MaxChildrenPerAgent: 5},
		resolveModel: func(string) string { return "" },
	}
}

func TestEngine_SequentialPassesContextAndMergesSections(t *testing.T) {
	gw := newStubGateway()
	engine := newTestEngine(t, gw)

	req := Request{
		Pattern:     PatternSequential,
		PassContext: true,
		Label:       "seq-merge",
		Steps: []Step{
			{Name: "A", Task: "do A"},
			{Name: "B", Task: "do B"},
		},
	}

	result, err := engine.Run(context.Background(), req, "agent-1", "caller-session")
	require.NoError(t, err)

	assert.Equal(t, "done", result.Status)
	assert.Equal(t, 2, result.StepsCompleted)
	assert.Equal(t, 0, result.StepsFailed)
	assert.Equal(t, "## A\n\nA-ok\n\n---\n\n## B\n\nB-ok", result.Results)
	assert.Empty(t, result.Checkpoint)
	assert.Empty(t, result.Failures)
}

func TestEngine_DAGStopsDownstreamOnUpstreamFailure(t *testing.T) {
	gw := newStubGateway()
	gw.failLabel["A"] = true
	engine := newTestEngine(t, gw)

	req := Request{
		Pattern: PatternDAG,
		Label:   "dag-fail",
		Steps: []Step{
			{Name: "A", Task: "do A"},
			{Name: "B", Task: "do B", DependsOn: []string{"A"}},
			{Name: "C", Task: "do C", DependsOn: []string{"A"}},
		},
	}

	result, err := engine.Run(context.Background(), req, "agent-1", "caller-session")
	require.NoError(t, err)

	assert.Equal(t, "failed", result.Status)
	require.Contains(t, result.Failures, "A")
	assert.NotEmpty(t, result.Checkpoint)

	// B and C never ran: neither completed nor failed.
	assert.NotContains(t, result.Failures, "B")
	assert.NotContains(t, result.Failures, "C")
}

func TestEngine_ParallelRunsAllStepsDespiteOneFailure(t *testing.T) {
	gw := newStubGateway()
	gw.failLabel["B"] = true
	engine := newTestEngine(t, gw)

	req := Request{
		Pattern: PatternParallel,
		Label:   "par-mixed",
		Steps: []Step{
			{Name: "A", Task: "do A"},
			{Name: "B", Task: "do B"},
			{Name: "C", Task: "do C"},
		},
	}

	result, err := engine.Run(context.Background(), req, "agent-1", "caller-session")
	require.NoError(t, err)

	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, 2, result.StepsCompleted)
	assert.Equal(t, 1, result.StepsFailed)
	require.Contains(t, result.Failures, "B")
}

func TestEngine_MergeObjectProducesMap(t *testing.T) {
	gw := newStubGateway()
	engine := newTestEngine(t, gw)

	req := Request{
		Pattern: PatternSequential,
		Merge:   MergeObject,
		Label:   "merge-object",
		Steps: []Step{
			{Name: "A", Task: "do A"},
		},
	}

	result, err := engine.Run(context.Background(), req, "agent-1", "caller-session")
	require.NoError(t, err)

	merged, ok := result.Results.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "A-ok", merged["A"])
}

func TestEngine_RejectsWhenCallerSpawnDepthExceedsLimit(t *testing.T) {
	gw := newStubGateway()
	engine := newTestEngine(t, gw)
	engine.limits = Limits{MaxSpawnDepth: 1, MaxChildrenPerAgent: 5}
	engine.registry.Register("root", subagents.Run{SessionKey: "caller-session", Depth: 1, ParentKey: "root"})

	req := Request{
		Pattern: PatternSequential,
		Label:   "depth-exceeded",
		Steps:   []Step{{Name: "A", Task: "do A"}},
	}

	_, err := engine.Run(context.Background(), req, "agent-1", "caller-session")
	require.Error(t, err)
	var forbidden *ErrForbidden
	assert.ErrorAs(t, err, &forbidden)
}

func TestEngine_RejectsParallelFanOutBeyondMaxChildren(t *testing.T) {
	gw := newStubGateway()
	engine := newTestEngine(t, gw)
	engine.limits = Limits{MaxSpawnDepth: 2, MaxChildrenPerAgent: 1}

	req := Request{
		Pattern: PatternParallel,
		Label:   "fanout-exceeded",
		Steps: []Step{
			{Name: "A", Task: "do A"},
			{Name: "B", Task: "do B"},
		},
	}

	_, err := engine.Run(context.Background(), req, "agent-1", "caller-session")
	require.Error(t, err)
	var forbidden *ErrForbidden
	assert.ErrorAs(t, err, &forbidden)
}

func TestEngine_ValidationRejectsDuplicateStepNames(t *testing.T) {
	gw := newStubGateway()
	engine := newTestEngine(t, gw)

	req := Request{
		Pattern: PatternSequential,
		Steps: []Step{
			{Name: "A", Task: "do A"},
			{Name: "A", Task: "do A again"},
		},
	}

	_, err := engine.Run(context.Background(), req, "agent-1", "caller-session")
	require.Error(t, err)
	var validationErr *ErrValidation
	assert.ErrorAs(t, err, &validationErr)
}

func TestEngine_ValidationRejectsUnknownDAGDependency(t *testing.T) {
	gw := newStubGateway()
	engine := newTestEngine(t, gw)

	req := Request{
		Pattern: PatternDAG,
		Steps: []Step{
			{Name: "A", Task: "do A", DependsOn: []string{"ghost"}},
		},
	}

	_, err := engine.Run(context.Background(), req, "agent-1", "caller-session")
	require.Error(t, err)
	var validationErr *ErrValidation
	assert.ErrorAs(t, err, &validationErr)
}
