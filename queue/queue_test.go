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

package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentstack/workspace"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	ws, err := workspace.NewStatic(t.TempDir())
	require.NoError(t, err)
	q, err := New(ws)
	require.NoError(t, err)
	return q
}

func TestQueue_ClaimOrdersByPriorityThenAge(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Add("low-first", AddOptions{Priority: PriorityLow})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = q.Add("normal-second", AddOptions{Priority: PriorityNormal})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = q.Add("high-third", AddOptions{Priority: PriorityHigh})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = q.Add("high-fourth", AddOptions{Priority: PriorityHigh})
	require.NoError(t, err)

	first, res, err := q.Claim()
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Equal(t, "high-third", first.Task, "equal priority ties broken by createdAt ascending")

	second, _, err := q.Claim()
	require.NoError(t, err)
	assert.Equal(t, "high-fourth", second.Task)

	third, _, err := q.Claim()
	require.NoError(t, err)
	assert.Equal(t, "normal-second", third.Task)

	fourth, _, err := q.Claim()
	require.NoError(t, err)
	assert.Equal(t, "low-first", fourth.Task)

	_, res, err = q.Claim()
	require.NoError(t, err)
	assert.Equal(t, ClaimEmpty, res)
}

func TestQueue_ClaimMarksClaimed(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Add("work", AddOptions{})
	require.NoError(t, err)

	claimed, _, err := q.Claim()
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, claimed.Status)
	require.NotNil(t, claimed.ClaimedAt)
}

func TestQueue_CompleteTransitionsToDone(t *testing.T) {
	q := newTestQueue(t)
	task, err := q.Add("work", AddOptions{})
	require.NoError(t, err)
	_, _, err = q.Claim()
	require.NoError(t, err)

	res, err := q.Complete(task.ID, map[string]any{"ok": true})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Status)
}

func TestQueue_CompleteUnknownIDIsNotFound(t *testing.T) {
	q := newTestQueue(t)
	res, err := q.Complete("nope", nil)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Status)
}

// TestQueue_FailRetryPolicy implements spec §8 scenario 2: a task with
// maxRetries=2 is re-queued after its first failure and fails on the
// second, since the retry-vs-fail decision is made after incrementing
// retries.
func TestQueue_FailRetryPolicy(t *testing.T) {
	q := newTestQueue(t)
	task, err := q.Add("flaky", AddOptions{MaxRetries: 2})
	require.NoError(t, err)

	claimed, _, err := q.Claim()
	require.NoError(t, err)
	res, err := q.Fail(claimed.ID, "boom 1")
	require.NoError(t, err)
	assert.Equal(t, "retrying", res.Status)
	assert.Equal(t, 1, res.Retries)

	claimed, _, err = q.Claim()
	require.NoError(t, err)
	assert.Equal(t, task.ID, claimed.ID)
	res, err = q.Fail(claimed.ID, "boom 2")
	require.NoError(t, err)
	assert.Equal(t, "failed", res.Status)
	assert.Equal(t, 2, res.Retries)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.Failed)

	_, claimRes, err := q.Claim()
	require.NoError(t, err)
	assert.Equal(t, ClaimEmpty, claimRes)
}

func TestQueue_FailWithZeroMaxRetriesFailsImmediately(t *testing.T) {
	q := newTestQueue(t)
	task, err := q.Add("brittle", AddOptions{MaxRetries: 0})
	require.NoError(t, err)
	claimed, _, err := q.Claim()
	require.NoError(t, err)
	assert.Equal(t, task.ID, claimed.ID)

	res, err := q.Fail(claimed.ID, "nope")
	require.NoError(t, err)
	assert.Equal(t, "failed", res.Status)
	assert.Equal(t, 1, res.Retries)
}

func TestQueue_FailUnknownIDIsNotFound(t *testing.T) {
	q := newTestQueue(t)
	res, err := q.Fail("nope", "err")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Status)
}

func TestQueue_RetryMovesFailedBackToPendingWithoutResettingRetries(t *testing.T) {
	q := newTestQueue(t)
	task, err := q.Add("work", AddOptions{MaxRetries: 0})
	require.NoError(t, err)
	claimed, _, err := q.Claim()
	require.NoError(t, err)
	_, err = q.Fail(claimed.ID, "boom")
	require.NoError(t, err)

	res, err := q.Retry(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "retried", res.Status)

	again, _, err := q.Claim()
	require.NoError(t, err)
	assert.Equal(t, task.ID, again.ID)
	assert.Equal(t, 1, again.Retries, "retry does not reset the retry counter")
}

func TestQueue_RetryUnknownIDIsNotFound(t *testing.T) {
	q := newTestQueue(t)
	res, err := q.Retry("nope")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Status)
}

func TestQueue_ClearRemovesOnlyOldTerminalTasks(t *testing.T) {
	q := newTestQueue(t)

	pending, err := q.Add("pending", AddOptions{Priority: PriorityLow})
	require.NoError(t, err)

	claimedTask, err := q.Add("claimed", AddOptions{Priority: PriorityHigh})
	require.NoError(t, err)

	doneOld, err := q.Add("done-old", AddOptions{})
	require.NoError(t, err)

	doneRecent, err := q.Add("done-recent", AddOptions{})
	require.NoError(t, err)

	// Claim "claimed" first (highest priority) so it's out of the pending
	// pool, then claim and complete the two "done" tasks and backdate one of
	// them past the cutoff. "pending" (lowest priority) is never claimed.
	c, _, err := q.Claim()
	require.NoError(t, err)
	assert.Equal(t, claimedTask.ID, c.ID)
	_ = pending

	c2, _, err := q.Claim()
	require.NoError(t, err)
	_, err = q.Complete(c2.ID, nil)
	require.NoError(t, err)

	c3, _, err := q.Claim()
	require.NoError(t, err)
	_, err = q.Complete(c3.ID, nil)
	require.NoError(t, err)

	backdateTask(t, q, doneOld.ID, -48*time.Hour)
	_ = doneRecent

	removed, err := q.Clear(24)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}

func backdateTask(t *testing.T, q *Queue, id string, delta time.Duration) {
	t.Helper()
	doc := &document{}
	err := q.doc.Mutate(doc, func() error {
		for _, task := range doc.Tasks {
			if task.ID == id {
				task.UpdatedAt = time.Now().Add(delta).UnixMilli()
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestQueue_Stats(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Add("a", AddOptions{})
	require.NoError(t, err)
	_, err = q.Add("b", AddOptions{})
	require.NoError(t, err)
	_, _, err = q.Claim()
	require.NoError(t, err)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Claimed)
}
