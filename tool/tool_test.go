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

package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SkipsInvalidAndCollidingConfigs(t *testing.T) {
	configs := []Config{
		{Name: "", Description: "x", Script: "echo hi"},
		{Name: "no-mode", Description: "x"},
		{Name: "collide", Description: "x", Script: "echo hi"},
		{Name: "good", Description: "x", Script: "echo hi"},
	}
	r := NewRegistry(configs, map[string]bool{"collide": true})

	names := r.Names()
	assert.Len(t, names, 1)
	assert.Equal(t, "good", names[0])
}

func TestRegistry_ExecuteHTTPGetEncodesQueryString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "bar", req.URL.Query().Get("foo"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	r := NewRegistry([]Config{{
		Name: "fetch", Description: "x", Endpoint: srv.URL, Method: "GET",
	}}, nil)

	result, err := r.Execute(context.Background(), "fetch", map[string]any{"foo": "bar"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)
}

func TestRegistry_ExecuteHTTPPostSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "bar", body["foo"])
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	r := NewRegistry([]Config{{
		Name: "submit", Description: "x", Endpoint: srv.URL,
	}}, nil)

	result, err := r.Execute(context.Background(), "submit", map[string]any{"foo": "bar"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)
}

func TestRegistry_ExecuteHTTPNon2xxReturnsNormalizedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	r := NewRegistry([]Config{{
		Name: "fails", Description: "x", Endpoint: srv.URL,
	}}, nil)

	result, err := r.Execute(context.Background(), "fails", nil)
	require.NoError(t, err)
	obj := result.(map[string]any)
	assert.Equal(t, "error", obj["status"])
	assert.Contains(t, obj["error"], "HTTP 500")
}

func TestRegistry_ExecuteScriptPassesArgsAndEnv(t *testing.T) {
	scriptPath := filepath.Join(t.TempDir(), "greet.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\necho arg1=$1\necho env=$TOOL_PARAM_NAME\n"), 0o755))

	r := NewRegistry([]Config{{
		Name: "greet", Description: "x",
		Script: "sh " + scriptPath,
		Parameters: map[string]Param{
			"name": {Type: ParamString},
		},
	}}, nil)

	result, err := r.Execute(context.Background(), "greet", map[string]any{"name": "ava"})
	require.NoError(t, err)
	obj := result.(map[string]any)
	assert.Equal(t, "ok", obj["status"])
	assert.Contains(t, obj["output"], "arg1=--name=ava")
	assert.Contains(t, obj["output"], "env=ava")
}

func TestRegistry_ExecuteScriptNoOutput(t *testing.T) {
	r := NewRegistry([]Config{{
		Name: "silent", Description: "x", Script: "true",
	}}, nil)

	result, err := r.Execute(context.Background(), "silent", nil)
	require.NoError(t, err)
	obj := result.(map[string]any)
	assert.Equal(t, "(no output)", obj["output"])
}

func TestRegistry_ApplyDefaultsFillsMissingOptional(t *testing.T) {
	cfg := &Config{
		Parameters: map[string]Param{
			"limit": {Type: ParamNumber, Default: float64(10)},
		},
	}
	out := applyDefaults(cfg, map[string]any{})
	assert.Equal(t, float64(10), out["limit"])
}

func TestParamSchema_MarksRequiredFields(t *testing.T) {
	cfg := &Config{
		Parameters: map[string]Param{
			"query": {Type: ParamString, Required: true},
			"limit": {Type: ParamNumber},
		},
	}
	schema, err := ParamSchema(cfg)
	require.NoError(t, err)
	assert.Equal(t, "object", schema["type"])
	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"query"}, required)
}
