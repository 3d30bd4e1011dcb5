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

// Package tool implements the custom-tool dispatcher: HTTP and script
// execution modes over a declarative tool configuration, with JSON Schema
// parameter generation for LLM tool-calling surfaces (spec §4.5).
package tool

import (
	"fmt"
	"strings"
)

// Mode is the tool's execution mode, inferred from which of Endpoint or
// Script is set.
type Mode string

const (
	ModeHTTP   Mode = "http"
	ModeScript Mode = "script"
)

// ParamType is the declared JSON type of one parameter (spec §4.5).
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// Param declares one tool parameter.
type Param struct {
	Type        ParamType `yaml:"type" json:"type"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any       `yaml:"default,omitempty" json:"default,omitempty"`
}

// Config is one custom tool's declarative definition, as loaded from the
// config snapshot's tools.custom section.
type Config struct {
	Name           string           `yaml:"name" json:"name"`
	Description    string           `yaml:"description" json:"description"`
	Endpoint       string           `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Method         string           `yaml:"method,omitempty" json:"method,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Script         string           `yaml:"script,omitempty" json:"script,omitempty"`
	TimeoutSeconds int              `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
	Parameters     map[string]Param `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Mode returns the configured execution mode, selected by which of
// endpoint or script is set. Endpoint takes precedence when both happen to
// be set.
func (c *Config) Mode() Mode {
	if c.Endpoint != "" {
		return ModeHTTP
	}
	return ModeScript
}

func (c *Config) timeout() int {
	if c.TimeoutSeconds > 0 {
		return c.TimeoutSeconds
	}
	return 30
}

func (c *Config) httpMethod() string {
	if c.Method == "" {
		return "POST"
	}
	return strings.ToUpper(c.Method)
}

// valid reports whether Config has the minimum fields required for
// registration (spec §4.5 Registration).
func (c *Config) valid() bool {
	if c.Name == "" || c.Description == "" {
		return false
	}
	return c.Endpoint != "" || c.Script != ""
}

// ErrValidation wraps a tool-config or parameter validation failure.
type ErrValidation struct {
	Message string
}

func (e *ErrValidation) Error() string { return fmt.Sprintf("validation: %s", e.Message) }

// applyDefaults fills missing optional parameters that declare a default,
// returning a copy so the caller's map is untouched.
func applyDefaults(cfg *Config, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for name, p := range cfg.Parameters {
		if _, present := out[name]; !present && p.Default != nil {
			out[name] = p.Default
		}
	}
	return out
}
