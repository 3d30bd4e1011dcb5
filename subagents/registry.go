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

// Package subagents tracks the process-scoped spawn-depth and fan-out
// state the workflow engine consults before admitting a new run (spec
// §4.7.1, §5 "Shared resources"). It is shared, mutable state and must
// serialize its own mutations.
package subagents

import "sync"

// Run is one registered sub-agent run.
type Run struct {
	SessionKey string
	Depth      int
	ParentKey  string
}

// Registry is the process-scoped sub-agent run tracker.
type Registry struct {
	mu    sync.Mutex
	depth map[string]int // sessionKey -> spawn depth
	runs  map[string][]Run
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		depth: map[string]int{},
		runs:  map[string][]Run{},
	}
}

// Depth returns the current spawn depth for sessionKey, or 0 if the
// session has never spawned anything and has no recorded depth of its
// own (i.e. it is a root session).
func (r *Registry) Depth(sessionKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depth[sessionKey]
}

// ChildrenCount returns how many runs are currently registered as having
// been spawned by parentKey.
func (r *Registry) ChildrenCount(parentKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs[parentKey])
}

// Register records a new child run and its depth, so subsequent Depth and
// ChildrenCount calls reflect it.
func (r *Registry) Register(parentKey string, run Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth[run.SessionKey] = run.Depth
	r.runs[parentKey] = append(r.runs[parentKey], run)
}
