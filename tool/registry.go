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
	"log/slog"
)

// Registry holds the set of registered custom tools, keyed by name.
type Registry struct {
	tools map[string]*Config
}

// NewRegistry registers every config in configs against existingNames,
// skipping entries that fail spec §4.5's Registration rules: missing
// name/description, missing both execution modes, or a name collision
// with an existing built-in (no override).
func NewRegistry(configs []Config, existingNames map[string]bool) *Registry {
	r := &Registry{tools: map[string]*Config{}}
	for i := range configs {
		cfg := configs[i]
		if !cfg.valid() {
			slog.Warn("skipping custom tool: missing required fields", "name", cfg.Name)
			continue
		}
		if existingNames[cfg.Name] {
			slog.Warn("skipping custom tool: name collides with a built-in", "name", cfg.Name)
			continue
		}
		r.tools[cfg.Name] = &cfg
	}
	return r
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Lookup returns the config for name, or ok=false if unregistered.
func (r *Registry) Lookup(name string) (*Config, bool) {
	cfg, ok := r.tools[name]
	return cfg, ok
}

// Execute runs the named tool with params, applying declared defaults
// first, and returns the normalized result (spec §4.5). Errors from
// Execute itself mean the tool was not found; execution failures are
// folded into the normalized {status: "error"} result instead of a Go
// error, matching the dispatcher's stable response envelope.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	cfg, ok := r.Lookup(name)
	if !ok {
		return nil, &ErrValidation{Message: "unknown tool: " + name}
	}

	full := applyDefaults(cfg, params)

	var raw string
	var err error
	switch cfg.Mode() {
	case ModeHTTP:
		raw, err = callHTTP(ctx, cfg, full)
	default:
		raw, err = callScript(ctx, cfg, full)
	}
	if err != nil {
		return normalizeError(err), nil
	}
	return normalize(raw), nil
}
