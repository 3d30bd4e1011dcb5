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

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleDoc struct {
	Items []string `json:"items"`
}

func TestDocument_MissingFileYieldsEmpty(t *testing.T) {
	doc := NewDocument(filepath.Join(t.TempDir(), "missing.json"))
	var v sampleDoc
	require.NoError(t, doc.Load(&v))
	assert.Empty(t, v.Items)
}

func TestDocument_MutateRoundTrips(t *testing.T) {
	doc := NewDocument(filepath.Join(t.TempDir(), "doc.json"))

	var v sampleDoc
	require.NoError(t, doc.Mutate(&v, func() error {
		v.Items = append(v.Items, "a")
		return nil
	}))

	var reloaded sampleDoc
	require.NoError(t, doc.Load(&reloaded))
	assert.Equal(t, []string{"a"}, reloaded.Items)
}

func TestDocument_CorruptFileYieldsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, NewAppendLog(path).Append("not-an-object")) // writes a JSON string line, not valid doc JSON

	doc := NewDocument(path)
	var v sampleDoc
	require.NoError(t, doc.Load(&v))
	assert.Empty(t, v.Items)
}

type logRecord struct {
	Text string `json:"text"`
}

func TestAppendLog_AppendAndReadEach(t *testing.T) {
	log := NewAppendLog(filepath.Join(t.TempDir(), "board", "general.jsonl"))

	require.NoError(t, log.Append(logRecord{Text: "first"}))
	require.NoError(t, log.Append(logRecord{Text: "second"}))

	var got []string
	require.NoError(t, log.ReadEach(func() any { return &logRecord{} }, func(v any) {
		got = append(got, v.(*logRecord).Text)
	}))

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestAppendLog_SkipsUnparsableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.jsonl")
	log := NewAppendLog(path)
	require.NoError(t, log.Append(logRecord{Text: "ok"}))

	// Hand-corrupt the file by appending a malformed line directly.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got []string
	require.NoError(t, log.ReadEach(func() any { return &logRecord{} }, func(v any) {
		got = append(got, v.(*logRecord).Text)
	}))
	assert.Equal(t, []string{"ok"}, got)
}

func TestAppendLog_RemoveMissingIsNotError(t *testing.T) {
	log := NewAppendLog(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.NoError(t, log.Remove())
	assert.False(t, log.Exists())
}
