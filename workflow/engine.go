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
	"log/slog"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentstack/gateway"
	"github.com/kadirpekel/agentstack/subagents"
	"github.com/kadirpekel/agentstack/workspace"
)

// Limits bounds workflow admission (spec §4.7.1).
type Limits struct {
	MaxSpawnDepth       int
	MaxChildrenPerAgent int
}

// Engine runs workflow requests against the gateway, subagent registry,
// and workspace checkpoint store.
type Engine struct {
	gateway      gatewayClient
	registry     *subagents.Registry
	resolver     workspace.Resolver
	limits       Limits
	resolveModel func(agentID string) string
}

// New builds an Engine. resolveModel implements the agent's default model
// resolver (spec §4.7.3).
func New(gw *gateway.Client, registry *subagents.Registry, resolver workspace.Resolver, limits Limits, resolveModel func(string) string) *Engine {
	return &Engine{gateway: gw, registry: registry, resolver: resolver, limits: limits, resolveModel: resolveModel}
}

// Run validates, admits, and executes req on behalf of agentID/callerSessionKey.
func (e *Engine) Run(ctx context.Context, req Request, agentID, callerSessionKey string) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	callerDepth := e.registry.Depth(callerSessionKey)
	if callerDepth >= e.limits.effectiveSpawnDepth() {
		return nil, &ErrForbidden{Message: fmt.Sprintf("caller spawn depth %d exceeds maxSpawnDepth %d", callerDepth, e.limits.effectiveSpawnDepth())}
	}
	if req.Pattern == PatternParallel && len(req.Steps) > e.limits.effectiveMaxChildren() {
		return nil, &ErrForbidden{Message: fmt.Sprintf("parallel fan-out %d exceeds maxChildrenPerAgent %d", len(req.Steps), e.limits.effectiveMaxChildren())}
	}

	store, err := openCheckpoint(e.resolver, req.Label)
	if err != nil {
		return nil, err
	}

	cp, err := e.loadOrCreateCheckpoint(store, req)
	if err != nil {
		return nil, err
	}

	rn := &run{
		engine:           e,
		req:              req,
		store:            store,
		cp:               cp,
		agentID:          agentID,
		callerSessionKey: callerSessionKey,
		callerDepth:      callerDepth,
	}

	switch req.Pattern {
	case PatternParallel:
		rn.runParallel(ctx)
	case PatternDAG:
		rn.runDAG(ctx)
	default:
		rn.runSequential(ctx)
	}

	return rn.finish(store)
}

func (l Limits) effectiveSpawnDepth() int {
	if l.MaxSpawnDepth > 0 {
		return l.MaxSpawnDepth
	}
	return 1
}

func (l Limits) effectiveMaxChildren() int {
	if l.MaxChildrenPerAgent > 0 {
		return l.MaxChildrenPerAgent
	}
	return 5
}

func validate(req Request) error {
	if len(req.Steps) == 0 {
		return &ErrValidation{Message: "steps must be non-empty"}
	}
	seen := map[string]bool{}
	for _, s := range req.Steps {
		if seen[s.Name] {
			return &ErrValidation{Message: "duplicate step name: " + s.Name}
		}
		seen[s.Name] = true
	}
	if req.Pattern == PatternDAG {
		for _, s := range req.Steps {
			for _, dep := range s.DependsOn {
				if !seen[dep] {
					return &ErrValidation{Message: "unknown DAG dependency: " + dep}
				}
			}
		}
	}
	return nil
}

// loadOrCreateCheckpoint implements spec §4.7.2's resume logic: adopt an
// existing checkpoint only if resume=true and its step sequence exactly
// matches the request.
func (e *Engine) loadOrCreateCheckpoint(store *checkpointStore, req Request) (*Checkpoint, error) {
	existing, err := store.load()
	if err != nil {
		return nil, err
	}

	wantNames := make([]string, len(req.Steps))
	for i, s := range req.Steps {
		wantNames[i] = s.Name
	}

	if req.Resume && existing != nil && sameSequence(existing.StepNames, wantNames) {
		existing.Status = "in_progress"
		slog.Info("resuming workflow checkpoint", "label", req.Label, "completed", len(existing.Completed))
		return existing, nil
	}

	cp := newCheckpoint(req)
	return cp, nil
}

// newChildSessionKey mints "agent:<agentId>:workflow:<uuid>" (spec
// §4.7.3).
func newChildSessionKey(agentID string) string {
	return fmt.Sprintf("agent:%s:workflow:%s", agentID, uuid.NewString())
}
