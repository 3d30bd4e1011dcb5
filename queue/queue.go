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

// Package queue implements the persistent priority task queue: a claim/
// complete/fail state machine with bounded auto-retry (spec §4.3).
package queue

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"sort"
	"time"

	"github.com/kadirpekel/agentstack/storage"
	"github.com/kadirpekel/agentstack/workspace"
)

const documentFile = ".task-queue.json"

// Priority is one of the three scheduling tiers.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Status is one of the four task-queue states (spec §4.3).
type Status string

const (
	StatusPending Status = "pending"
	StatusClaimed Status = "claimed"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Task is one queued unit of work.
type Task struct {
	ID          string     `json:"id"`
	Task        string     `json:"task"`
	Data        any        `json:"data,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	Retries     int        `json:"retries"`
	MaxRetries  int        `json:"maxRetries"`
	CreatedAt   int64      `json:"createdAt"`
	UpdatedAt   int64      `json:"updatedAt"`
	ClaimedAt   *int64     `json:"claimedAt,omitempty"`
	CompletedAt *int64     `json:"completedAt,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

type document struct {
	Tasks []*Task `json:"tasks"`
}

// Queue is the task-queue component, rooted at the resolved workspace.
type Queue struct {
	doc *storage.Document
}

// New opens the task queue rooted at the resolved workspace.
func New(resolver workspace.Resolver) (*Queue, error) {
	path, err := workspace.Path(resolver, documentFile)
	if err != nil {
		return nil, fmt.Errorf("resolve task queue path: %w", err)
	}
	return &Queue{doc: storage.NewDocument(path)}, nil
}

func nowMillis() int64 { return time.Now().UTC().UnixMilli() }

func newTaskID() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// AddOptions configures Add.
type AddOptions struct {
	Data       any
	Priority   Priority
	MaxRetries int
	Tags       []string
}

// Add inserts a new pending task and returns it.
func (q *Queue) Add(task string, opts AddOptions) (*Task, error) {
	if opts.Priority == "" {
		opts.Priority = PriorityNormal
	}
	id, err := newTaskID()
	if err != nil {
		return nil, err
	}
	now := nowMillis()
	t := &Task{
		ID:         id,
		Task:       task,
		Data:       opts.Data,
		Priority:   opts.Priority,
		Status:     StatusPending,
		Retries:    0,
		MaxRetries: opts.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
		Tags:       opts.Tags,
	}

	doc := &document{}
	err = q.doc.Mutate(doc, func() error {
		doc.Tasks = append(doc.Tasks, t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return t, nil
}

// ClaimResult discriminates Claim's outcome.
type ClaimResult string

const ClaimEmpty ClaimResult = "empty"

// Claim atomically claims the highest-priority, oldest pending task.
// Returns (nil, ClaimEmpty, nil) when no pending task exists.
func (q *Queue) Claim() (*Task, ClaimResult, error) {
	doc := &document{}
	var claimed *Task
	err := q.doc.Mutate(doc, func() error {
		candidates := make([]*Task, 0)
		for _, t := range doc.Tasks {
			if t.Status == StatusPending {
				candidates = append(candidates, t)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Priority.rank() != candidates[j].Priority.rank() {
				return candidates[i].Priority.rank() < candidates[j].Priority.rank()
			}
			return candidates[i].CreatedAt < candidates[j].CreatedAt
		})

		claimed = candidates[0]
		now := nowMillis()
		claimed.Status = StatusClaimed
		claimed.ClaimedAt = &now
		claimed.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("storage: %w", err)
	}
	if claimed == nil {
		return nil, ClaimEmpty, nil
	}
	return claimed, "", nil
}

// NotFound indicates the id naming an unknown task (spec §4.3).
const NotFound = "not_found"

func (q *Queue) findMutable(doc *document, id string) *Task {
	for _, t := range doc.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// CompleteResult is the response to Complete.
type CompleteResult struct {
	Status string `json:"status"`
}

// Complete transitions a claimed task to done.
func (q *Queue) Complete(id string, result any) (*CompleteResult, error) {
	doc := &document{}
	out := &CompleteResult{Status: NotFound}
	err := q.doc.Mutate(doc, func() error {
		t := q.findMutable(doc, id)
		if t == nil {
			return nil
		}
		now := nowMillis()
		t.Status = StatusDone
		t.CompletedAt = &now
		t.UpdatedAt = now
		t.Result = result
		out.Status = "done"
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return out, nil
}

// FailResult is the response to Fail: either "retrying" (with the new
// retry count) or "failed".
type FailResult struct {
	Status  string `json:"status"`
	Retries int    `json:"retries"`
}

// Fail records a claimed task's failure. The decision to retry vs. fail is
// made *after* incrementing retries (spec §4.3 "Note on fail semantics"):
// the task goes back to pending while retries < maxRetries, so maxRetries=0
// and maxRetries=1 both fail on the first failure, and maxRetries=N (N>0)
// re-queues the first N-1 failures and fails on the Nth.
func (q *Queue) Fail(id, errMsg string) (*FailResult, error) {
	doc := &document{}
	out := &FailResult{Status: NotFound}
	err := q.doc.Mutate(doc, func() error {
		t := q.findMutable(doc, id)
		if t == nil {
			return nil
		}
		now := nowMillis()
		t.Retries++
		t.Error = errMsg
		t.UpdatedAt = now

		if t.Retries < t.MaxRetries {
			t.Status = StatusPending
			t.ClaimedAt = nil
			out.Status = "retrying"
		} else {
			t.Status = StatusFailed
			out.Status = "failed"
		}
		out.Retries = t.Retries
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return out, nil
}

// RetryResult is the response to Retry.
type RetryResult struct {
	Status string `json:"status"`
}

// Retry moves a failed task back to pending without resetting retries
// (spec §4.3).
func (q *Queue) Retry(id string) (*RetryResult, error) {
	doc := &document{}
	out := &RetryResult{Status: NotFound}
	err := q.doc.Mutate(doc, func() error {
		t := q.findMutable(doc, id)
		if t == nil {
			return nil
		}
		t.Status = StatusPending
		t.Error = ""
		t.ClaimedAt = nil
		t.UpdatedAt = nowMillis()
		out.Status = "retried"
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return out, nil
}

// Clear deletes done/failed tasks whose updatedAt is older than
// olderThanHours; pending and claimed tasks are always retained. Returns
// the number of tasks removed.
func (q *Queue) Clear(olderThanHours float64) (int, error) {
	if olderThanHours <= 0 {
		olderThanHours = 24
	}
	cutoff := time.Now().Add(-time.Duration(olderThanHours * float64(time.Hour))).UnixMilli()

	doc := &document{}
	removed := 0
	err := q.doc.Mutate(doc, func() error {
		kept := doc.Tasks[:0]
		for _, t := range doc.Tasks {
			if (t.Status == StatusDone || t.Status == StatusFailed) && t.UpdatedAt < cutoff {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		doc.Tasks = kept
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("storage: %w", err)
	}
	return removed, nil
}

// Stats summarizes the queue's current task distribution.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Claimed int `json:"claimed"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

// Stats returns the total and per-status task counts.
func (q *Queue) Stats() (*Stats, error) {
	doc := &document{}
	if err := q.doc.Load(doc); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	s := &Stats{Total: len(doc.Tasks)}
	for _, t := range doc.Tasks {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusClaimed:
			s.Claimed++
		case StatusDone:
			s.Done++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}
