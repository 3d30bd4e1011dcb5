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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentstack/gateway"
	"github.com/kadirpekel/agentstack/subagents"
)

func newIdempotencyKey() string {
	return uuid.NewString()
}

// run carries the mutable state of one in-flight workflow invocation.
type run struct {
	engine           *Engine
	req              Request
	store            *checkpointStore
	cp               *Checkpoint
	agentID          string
	callerSessionKey string
	callerDepth      int

	mu sync.Mutex
}

// runSequential implements spec §4.7.4 Sequential.
func (r *run) runSequential(ctx context.Context) {
	for _, step := range r.req.Steps {
		if _, done := r.cp.Completed[step.Name]; done {
			continue
		}

		contextText := ""
		if r.req.PassContext {
			contextText = r.sectionedContext()
		}

		outcome := r.executeStep(ctx, step, contextText)
		r.record(step.Name, outcome)
		if err := r.store.save(r.cp); err != nil {
			slog.Error("checkpoint save failed", "label", r.req.Label, "error", err)
		}

		if outcome.Error != "" {
			r.cp.Status = "failed"
			return
		}
	}
	if len(r.cp.Failed) == 0 {
		r.cp.Status = "done"
	} else {
		r.cp.Status = "failed"
	}
}

// runParallel implements spec §4.7.4 Parallel: every not-yet-completed
// step launches concurrently; one failing must not interrupt the others.
func (r *run) runParallel(ctx context.Context) {
	var g errgroup.Group
	for _, step := range r.req.Steps {
		if _, done := r.cp.Completed[step.Name]; done {
			continue
		}
		step := step
		g.Go(func() error {
			outcome := r.executeStep(ctx, step, "")
			r.record(step.Name, outcome)
			return nil
		})
	}
	_ = g.Wait()

	if err := r.store.save(r.cp); err != nil {
		slog.Error("checkpoint save failed", "label", r.req.Label, "error", err)
	}
	if len(r.cp.Failed) == 0 {
		r.cp.Status = "done"
	} else {
		r.cp.Status = "failed"
	}
}

// runDAG implements spec §4.7.4 DAG: iterate up to len(steps) rounds,
// running every step whose dependencies are all completed.
func (r *run) runDAG(ctx context.Context) {
	for round := 0; round < len(r.req.Steps); round++ {
		ready := r.readySteps()
		if len(ready) == 0 {
			break
		}

		var g errgroup.Group
		for _, step := range ready {
			step := step
			g.Go(func() error {
				contextText := ""
				if r.req.PassContext {
					contextText = r.depContext(step)
				}
				outcome := r.executeStep(ctx, step, contextText)
				r.record(step.Name, outcome)
				return nil
			})
		}
		_ = g.Wait()

		if err := r.store.save(r.cp); err != nil {
			slog.Error("checkpoint save failed", "label", r.req.Label, "error", err)
		}
	}

	allSettled := len(r.cp.Completed)+len(r.cp.Failed) == len(r.req.Steps)
	if allSettled && len(r.cp.Failed) == 0 {
		r.cp.Status = "done"
	} else {
		r.cp.Status = "failed"
	}
}

// readySteps returns every step not yet completed or failed whose
// dependencies are all in Completed.
func (r *run) readySteps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []Step
	for _, step := range r.req.Steps {
		if _, done := r.cp.Completed[step.Name]; done {
			continue
		}
		if _, failed := r.cp.Failed[step.Name]; failed {
			continue
		}
		blocked := false
		for _, dep := range step.DependsOn {
			if _, ok := r.cp.Completed[dep]; !ok {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, step)
		}
	}
	return ready
}

func (r *run) record(name string, outcome StepOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if outcome.Error != "" {
		r.cp.Failed[name] = outcome
	} else {
		r.cp.Completed[name] = outcome
	}
}

// sectionedContext joins every completed step's "## <name>\n\n<result>"
// section, in request step order, with a blank line between sections.
func (r *run) sectionedContext() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sections []string
	for _, step := range r.req.Steps {
		if outcome, ok := r.cp.Completed[step.Name]; ok {
			sections = append(sections, fmt.Sprintf("## %s\n\n%s", step.Name, outcome.Result))
		}
	}
	return strings.Join(sections, "\n\n")
}

// depContext builds step's context from its direct dependencies'
// results, formatted as "### <dep>\n<result>" per spec §4.7.4 DAG.
func (r *run) depContext(step Step) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sections []string
	for _, dep := range step.DependsOn {
		if outcome, ok := r.cp.Completed[dep]; ok {
			sections = append(sections, fmt.Sprintf("### %s\n%s", dep, outcome.Result))
		}
	}
	return strings.Join(sections, "\n\n")
}

// executeStep runs one step to completion or timeout (spec §4.7.3).
func (r *run) executeStep(ctx context.Context, step Step, contextText string) StepOutcome {
	start := time.Now()

	fullTask := step.Task
	if r.req.PassContext && contextText != "" {
		fullTask = fmt.Sprintf("## Context from prior workflow steps\n\n%s\n\n---\n\n## Your task\n\n%s", contextText, step.Task)
	}

	childKey := newChildSessionKey(r.agentID)
	childDepth := r.callerDepth + 1

	if err := r.engine.gateway.PatchSession(ctx, childKey, map[string]any{"spawnDepth": childDepth}); err != nil {
		return StepOutcome{Name: step.Name, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()}
	}

	resolvedModel := step.Model
	if resolvedModel == "" && r.engine.resolveModel != nil {
		resolvedModel = r.engine.resolveModel(r.agentID)
	}
	if resolvedModel != "" {
		if err := r.engine.gateway.PatchSession(ctx, childKey, map[string]any{"model": resolvedModel}); err != nil {
			slog.Warn("non-fatal model patch failed", "step", step.Name, "error", err)
		}
	}

	idempotencyKey := newIdempotencyKey()
	_, err := r.engine.gateway.Agent(ctx, gateway.AgentParams{
		Message:           fullTask,
		SessionKey:        childKey,
		IdempotencyKey:    idempotencyKey,
		Deliver:           false,
		Lane:              "subagent",
		ExtraSystemPrompt: step.ExtraSystemPrompt,
		Thinking:          step.Thinking,
		Timeout:           step.timeout(),
		Label:             step.Name,
		SpawnedBy:         r.callerSessionKey,
	}, step.timeout())
	if err != nil {
		return StepOutcome{Name: step.Name, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()}
	}

	r.engine.registry.Register(r.callerSessionKey, subagents.Run{SessionKey: childKey, Depth: childDepth, ParentKey: r.callerSessionKey})

	result, err := r.poll(ctx, step.Name, childKey, step.timeout())
	duration := time.Since(start).Milliseconds()
	if err != nil {
		return StepOutcome{Name: step.Name, Error: err.Error(), DurationMs: duration}
	}
	return StepOutcome{Name: step.Name, Result: result, DurationMs: duration}
}

// poll implements spec §4.7.3's sub-agent completion poll: every 3s,
// until the last assistant message has non-empty content or the deadline
// elapses. Transient errors are swallowed.
func (r *run) poll(ctx context.Context, stepName, sessionKey string, timeoutSeconds int) (string, error) {
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)

	for {
		messages, err := r.engine.gateway.History(ctx, sessionKey, 5, 10*time.Second)
		if err == nil {
			if content := lastAssistantContent(messages); content != "" {
				return content, nil
			}
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("Step %q timed out after %ds with no result", stepName, timeoutSeconds)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func lastAssistantContent(messages []gateway.HistoryMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			continue
		}
		if messages[i].Content != "" {
			return messages[i].Content
		}
		return messages[i].Text
	}
	return ""
}

// finish assembles the final Result from the checkpoint, deleting it on a
// successful terminal state and otherwise persisting it with its final
// status (spec §4.7.5).
func (r *run) finish(store *checkpointStore) (*Result, error) {
	total := int64(0)
	for _, o := range r.cp.Completed {
		total += o.DurationMs
	}

	result := &Result{
		Status:          r.cp.Status,
		Pattern:         r.req.Pattern,
		StepsCompleted:  len(r.cp.Completed),
		StepsFailed:     len(r.cp.Failed),
		TotalSteps:      len(r.req.Steps),
		TotalDurationMs: total,
		Results:         r.assembleResults(),
	}

	if len(r.cp.Failed) > 0 {
		failures := make(map[string]string, len(r.cp.Failed))
		for name, o := range r.cp.Failed {
			failures[name] = o.Error
		}
		result.Failures = failures
	}

	if r.cp.Status == "done" {
		if err := store.delete(); err != nil {
			return nil, err
		}
	} else {
		if err := store.save(r.cp); err != nil {
			slog.Error("checkpoint save failed", "label", r.req.Label, "error", err)
		}
		result.Checkpoint = store.path
	}

	return result, nil
}

func (r *run) assembleResults() any {
	if r.req.Merge == MergeObject {
		out := make(map[string]string, len(r.cp.Completed))
		for name, o := range r.cp.Completed {
			out[name] = o.Result
		}
		return out
	}

	sections := make([]string, 0, len(r.req.Steps))
	for _, step := range r.req.Steps {
		if o, ok := r.cp.Completed[step.Name]; ok {
			sections = append(sections, fmt.Sprintf("## %s\n\n%s", step.Name, o.Result))
		}
	}
	return strings.Join(sections, "\n\n---\n\n")
}
