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

// Package session implements the session template applicator: it patches
// a gateway-owned agent session's model and thinking level from a named,
// config-defined template (spec §4.6).
package session

import (
	"context"
	"fmt"
)

// Template is one named session.templates entry from the config snapshot.
type Template struct {
	Name          string `yaml:"name" json:"name"`
	Model         string `yaml:"model,omitempty" json:"model,omitempty"`
	Thinking      string `yaml:"thinking,omitempty" json:"thinking,omitempty"`
	Description   string `yaml:"description,omitempty" json:"description,omitempty"`
	SystemPrompt  string `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`
}

// patcher is the subset of *gateway.Client the applicator needs; narrowed
// to an interface so tests can stub it without a real HTTP gateway.
type patcher interface {
	PatchSession(ctx context.Context, key string, fields map[string]any) error
}

// Applicator applies session.templates entries to live gateway sessions.
type Applicator struct {
	gateway   patcher
	templates map[string]Template
}

// New builds an Applicator over the config snapshot's session.templates.
func New(gw patcher, templates []Template) *Applicator {
	byName := make(map[string]Template, len(templates))
	for _, t := range templates {
		byName[t.Name] = t
	}
	return &Applicator{gateway: gw, templates: byName}
}

// Listed is one row of a List response.
type Listed struct {
	Name            string `json:"name"`
	Model           string `json:"model,omitempty"`
	Thinking        string `json:"thinking,omitempty"`
	Description     string `json:"description,omitempty"`
	HasSystemPrompt bool   `json:"hasSystemPrompt"`
}

// List returns every known template's summary (spec §4.6).
func (a *Applicator) List() []Listed {
	out := make([]Listed, 0, len(a.templates))
	for _, t := range a.templates {
		out = append(out, Listed{
			Name:            t.Name,
			Model:           t.Model,
			Thinking:        t.Thinking,
			Description:     t.Description,
			HasSystemPrompt: t.SystemPrompt != "",
		})
	}
	return out
}

// Result is the response to Apply.
type Result struct {
	Status  string   `json:"status"`
	Applied []string `json:"applied"`
	Note    string   `json:"note,omitempty"`
}

// Apply resolves sessionKey (defaulting to callerSessionKey) and issues up
// to two gateway patches: model is fatal on failure, thinkingLevel is not
// (spec §4.6). "off" maps to a null thinking level.
func (a *Applicator) Apply(ctx context.Context, templateName, sessionKey, callerSessionKey string) (*Result, error) {
	tmpl, ok := a.templates[templateName]
	if !ok {
		return nil, fmt.Errorf("unknown template: %s", templateName)
	}
	key := sessionKey
	if key == "" {
		key = callerSessionKey
	}

	var applied []string

	if tmpl.Model != "" {
		if err := a.gateway.PatchSession(ctx, key, map[string]any{"model": tmpl.Model}); err != nil {
			return nil, fmt.Errorf("transport: apply model patch: %w", err)
		}
		applied = append(applied, "model")
	}

	if tmpl.Thinking != "" {
		var level any = tmpl.Thinking
		if tmpl.Thinking == "off" {
			level = nil
		}
		if err := a.gateway.PatchSession(ctx, key, map[string]any{"thinkingLevel": level}); err != nil {
			applied = append(applied, "thinking-failed")
		} else {
			applied = append(applied, "thinking")
		}
	}

	result := &Result{Status: "applied", Applied: applied}
	if tmpl.SystemPrompt != "" {
		result.Note = "systemPrompt is injected at spawn time by the caller, not applied here"
	}
	return result, nil
}
