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
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/agentstack/storage"
	"github.com/kadirpekel/agentstack/workspace"
)

const checkpointsDir = "checkpoints"

var unsafeLabelChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// safeLabel replaces everything outside [A-Za-z0-9_-] with "_" (spec
// §4.7.2).
func safeLabel(label string) string {
	if label == "" {
		label = "default"
	}
	return unsafeLabelChars.ReplaceAllString(label, "_")
}

// Checkpoint is the persisted record of a workflow's progress, sufficient
// to resume after a crash.
type Checkpoint struct {
	StepNames []string               `json:"stepNames"`
	Status    string                 `json:"status"` // in_progress, done, failed
	Pattern   Pattern                `json:"pattern"`
	Completed map[string]StepOutcome `json:"completed"`
	Failed    map[string]StepOutcome `json:"failed"`
}

func newCheckpoint(req Request) *Checkpoint {
	names := make([]string, len(req.Steps))
	for i, s := range req.Steps {
		names[i] = s.Name
	}
	return &Checkpoint{
		StepNames: names,
		Status:    "in_progress",
		Pattern:   req.Pattern,
		Completed: map[string]StepOutcome{},
		Failed:    map[string]StepOutcome{},
	}
}

func sameSequence(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// checkpointStore persists one workflow's Checkpoint document.
type checkpointStore struct {
	doc  *storage.Document
	path string
}

func openCheckpoint(resolver workspace.Resolver, label string) (*checkpointStore, error) {
	filename := fmt.Sprintf("workflow-%s.json", safeLabel(label))
	path, err := workspace.Path(resolver, checkpointsDir, filename)
	if err != nil {
		return nil, fmt.Errorf("resolve checkpoint path: %w", err)
	}
	return &checkpointStore{doc: storage.NewDocument(path), path: path}, nil
}

// load returns the existing checkpoint, or nil if none is persisted yet.
func (c *checkpointStore) load() (*Checkpoint, error) {
	cp := &Checkpoint{}
	if err := c.doc.Load(cp); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if cp.StepNames == nil {
		return nil, nil
	}
	return cp, nil
}

// save persists cp, overwriting any prior checkpoint for this label.
func (c *checkpointStore) save(cp *Checkpoint) error {
	if err := c.doc.Save(cp); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

// delete removes the checkpoint file; absence is not an error (spec §4.7.2
// "On successful terminal state (done), delete the checkpoint").
func (c *checkpointStore) delete() error {
	log := storage.NewAppendLog(c.path)
	if err := log.Remove(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

// CheckpointSummary is one row of ListCheckpoints, enough for an operator
// to decide whether a workflow needs resuming.
type CheckpointSummary struct {
	Label          string `json:"label"`
	Status         string `json:"status"`
	Pattern        Pattern `json:"pattern"`
	StepsTotal     int    `json:"stepsTotal"`
	StepsCompleted int    `json:"stepsCompleted"`
	StepsFailed    int    `json:"stepsFailed"`
	Path           string `json:"path"`
}

// ListCheckpoints enumerates every persisted checkpoint file in the
// resolved workspace's checkpoints directory (SPEC_FULL.md operator
// supplement: inspecting in-progress/failed workflows outside the
// request/response cycle that produced them). A missing directory yields
// an empty list.
func ListCheckpoints(resolver workspace.Resolver) ([]CheckpointSummary, error) {
	dir, err := workspace.Path(resolver, checkpointsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve checkpoints dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []CheckpointSummary{}, nil
	}

	out := make([]CheckpointSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		label := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "workflow-"), ".json")
		path, err := workspace.Path(resolver, checkpointsDir, e.Name())
		if err != nil {
			continue
		}
		cp := &Checkpoint{}
		if err := storage.NewDocument(path).Load(cp); err != nil {
			continue
		}
		out = append(out, CheckpointSummary{
			Label:          label,
			Status:         cp.Status,
			Pattern:        cp.Pattern,
			StepsTotal:     len(cp.StepNames),
			StepsCompleted: len(cp.Completed),
			StepsFailed:    len(cp.Failed),
			Path:           path,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// CheckpointStats summarizes every pending (non-done) checkpoint's age,
// grounded on the teacher's RecoveryManager.GetStats (v2/checkpoint/recovery.go):
// instead of a recovery timeout classifying Working/InputRequired/Expired,
// here a checkpoint is in_progress or failed, and age is read from the
// checkpoint file's mtime since checkpoints carry no timestamp field of
// their own.
type CheckpointStats struct {
	Total      int           `json:"total"`
	InProgress int           `json:"inProgress"`
	Failed     int           `json:"failed"`
	OldestAge  time.Duration `json:"oldestAge"`
	AverageAge time.Duration `json:"averageAge"`
}

// GetCheckpointStats aggregates every persisted checkpoint's status and
// on-disk age (SPEC_FULL.md operator supplement, §9 "Checkpoint stats").
func GetCheckpointStats(resolver workspace.Resolver) (*CheckpointStats, error) {
	dir, err := workspace.Path(resolver, checkpointsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve checkpoints dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &CheckpointStats{}, nil
	}

	stats := &CheckpointStats{}
	var totalAge time.Duration
	now := time.Now()

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path, err := workspace.Path(resolver, checkpointsDir, e.Name())
		if err != nil {
			continue
		}
		cp := &Checkpoint{}
		if err := storage.NewDocument(path).Load(cp); err != nil {
			continue
		}

		stats.Total++
		if cp.Status == "failed" {
			stats.Failed++
		} else {
			stats.InProgress++
		}

		age := now.Sub(info.ModTime())
		totalAge += age
		if age > stats.OldestAge {
			stats.OldestAge = age
		}
	}

	if stats.Total > 0 {
		stats.AverageAge = totalAge / time.Duration(stats.Total)
	}
	return stats, nil
}
