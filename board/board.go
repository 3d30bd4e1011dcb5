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

// Package board implements the inter-agent message board: append-only
// per-board JSONL persistence with since-cursor reads and a bounded tail
// (spec §4.4).
package board

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/agentstack/storage"
	"github.com/kadirpekel/agentstack/workspace"
)

const (
	boardsDir     = ".agent-boards"
	logSuffix     = ".jsonl"
	base36Set     = "0123456789abcdefghijklmnopqrstuvwxyz"
	sinceLastRead = "last_read"
)

var unsafeBoardChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Message is one board post.
type Message struct {
	ID        string    `json:"id"`
	Board     string    `json:"board"`
	From      string    `json:"from"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Tags      []string  `json:"tags,omitempty"`
}

// Board is the message-board component, rooted at the resolved workspace.
type Board struct {
	resolver workspace.Resolver
}

// New creates a Board over the resolved workspace's .agent-boards directory.
func New(resolver workspace.Resolver) *Board {
	return &Board{resolver: resolver}
}

// sanitize replaces everything outside [A-Za-z0-9_-] with "_" before a
// board name is used as a filename (spec §4.4).
func sanitize(name string) string {
	if name == "" {
		name = "default"
	}
	return unsafeBoardChars.ReplaceAllString(name, "_")
}

func (b *Board) logFor(name string) (*storage.AppendLog, error) {
	path, err := workspace.Path(b.resolver, boardsDir, sanitize(name)+logSuffix)
	if err != nil {
		return nil, fmt.Errorf("resolve board path: %w", err)
	}
	return storage.NewAppendLog(path), nil
}

// PostResult is the response to Post.
type PostResult struct {
	Posted bool   `json:"posted"`
	ID     string `json:"id"`
}

// Post appends a message to board, defaulting from to "anonymous".
func (b *Board) Post(name, message, from string, tags []string) (*PostResult, error) {
	if from == "" {
		from = "anonymous"
	}
	now := time.Now().UTC()
	id, err := newMessageID(now)
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	log, err := b.logFor(name)
	if err != nil {
		return nil, err
	}

	msg := Message{
		ID:        id,
		Board:     sanitize(name),
		From:      from,
		Message:   message,
		Timestamp: now,
		Tags:      tags,
	}
	if err := log.Append(msg); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return &PostResult{Posted: true, ID: id}, nil
}

// newMessageID mints "<ms>-<6 base36 chars>" per spec §3.
func newMessageID(at time.Time) (string, error) {
	suffix, err := randomBase36(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%s", at.UnixMilli(), suffix), nil
}

func randomBase36(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36Set)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = base36Set[idx.Int64()]
	}
	return string(out), nil
}

// Read returns board's tail: without since, the last limit messages in
// ascending timestamp order; with since as an RFC3339 timestamp, messages
// strictly after it, then the last limit of those; with since ==
// "last_read", every message. An unparsable since is ignored (spec §4.4).
func (b *Board) Read(name string, since string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	log, err := b.logFor(name)
	if err != nil {
		return nil, err
	}

	var all []Message
	err = log.ReadEach(func() any { return &Message{} }, func(v any) {
		all = append(all, *v.(*Message))
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

	switch {
	case since == "":
		return tail(all, limit), nil
	case since == sinceLastRead:
		return all, nil
	default:
		cutoff, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return tail(all, limit), nil
		}
		var after []Message
		for _, m := range all {
			if m.Timestamp.After(cutoff) {
				after = append(after, m)
			}
		}
		return tail(after, limit), nil
	}
}

func tail(msgs []Message, limit int) []Message {
	if len(msgs) <= limit {
		if msgs == nil {
			return []Message{}
		}
		return msgs
	}
	return msgs[len(msgs)-limit:]
}

// List returns every board name known to the workspace, derived from log
// file basenames. A missing boards directory yields an empty list.
func (b *Board) List() ([]string, error) {
	dir, err := workspace.Path(b.resolver, boardsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve boards dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), logSuffix) {
			names = append(names, strings.TrimSuffix(filepath.Base(e.Name()), logSuffix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Clear deletes board's log file; absence is not an error.
func (b *Board) Clear(name string) error {
	log, err := b.logFor(name)
	if err != nil {
		return err
	}
	if err := log.Remove(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}
