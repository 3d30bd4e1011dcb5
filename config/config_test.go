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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
session:
  templates:
    - name: fast
      model: haiku
tools:
  custom:
    - name: weather
      description: looks up weather
      endpoint: https://example.test/weather
workflow:
  maxSpawnDepth: 2
models:
  research: anthropic/claude-opus
`

func TestLoad_AppliesDefaultsAndParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentstack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Workflow.MaxSpawnDepth)
	assert.Equal(t, 5, cfg.Workflow.MaxChildrenPerAgent, "unset limit falls back to its documented default")
	require.Len(t, cfg.Session.Templates, 1)
	assert.Equal(t, "fast", cfg.Session.Templates[0].Name)
	require.Len(t, cfg.Tools.Custom, 1)
	assert.Equal(t, "weather", cfg.Tools.Custom[0].Name)
	assert.Equal(t, "anthropic/claude-opus", cfg.ResolveModel("research"))
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
