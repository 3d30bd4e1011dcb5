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

// Package workflow implements the sub-agent workflow engine: sequential,
// parallel, and DAG orchestration of child gateway sessions with on-disk
// checkpointing for crash recovery (spec §4.7 — "the hardest subsystem").
package workflow

// Pattern selects one of the three step-orchestration strategies.
type Pattern string

const (
	PatternSequential Pattern = "sequential"
	PatternParallel   Pattern = "parallel"
	PatternDAG        Pattern = "dag"
)

// Merge selects how per-step results are assembled (spec §4.7.5).
type Merge string

const (
	MergeSections Merge = ""
	MergeObject   Merge = "merge"
)

// Step is one sub-agent invocation within a workflow.
type Step struct {
	Name              string   `json:"name"`
	Task              string   `json:"task"`
	Model             string   `json:"model,omitempty"`
	Thinking          string   `json:"thinking,omitempty"`
	ExtraSystemPrompt string   `json:"extraSystemPrompt,omitempty"`
	TimeoutSeconds    int      `json:"timeoutSeconds,omitempty"`
	DependsOn         []string `json:"dependsOn,omitempty"`
}

func (s Step) timeout() int {
	if s.TimeoutSeconds > 0 {
		return s.TimeoutSeconds
	}
	return 600
}

// Request is the full workflow invocation (spec §4.7).
type Request struct {
	Pattern     Pattern `json:"pattern"`
	Steps       []Step  `json:"steps"`
	PassContext bool    `json:"passContext,omitempty"`
	Merge       Merge   `json:"merge,omitempty"`
	Label       string  `json:"label,omitempty"`
	Resume      bool    `json:"resume,omitempty"`
}

// StepOutcome is one step's recorded result, successful or not.
type StepOutcome struct {
	Name       string `json:"name"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Result is the engine's final response (spec §4.7.5).
type Result struct {
	Status          string            `json:"status"`
	Pattern         Pattern           `json:"pattern"`
	StepsCompleted  int               `json:"stepsCompleted"`
	StepsFailed     int               `json:"stepsFailed"`
	TotalSteps      int               `json:"totalSteps"`
	TotalDurationMs int64             `json:"totalDurationMs"`
	Results         any               `json:"results"`
	Failures        map[string]string `json:"failures,omitempty"`
	Checkpoint      string            `json:"checkpoint,omitempty"`
}

// ErrForbidden is returned when admission rejects a request (spec §7
// "forbidden": spawn depth or fan-out limit exceeded).
type ErrForbidden struct {
	Message string
}

func (e *ErrForbidden) Error() string { return e.Message }

// ErrValidation is returned for structurally invalid requests.
type ErrValidation struct {
	Message string
}

func (e *ErrValidation) Error() string { return "validation: " + e.Message }
