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

// Package config loads the immutable configuration snapshot the rest of
// the core reads from: session templates, custom tools, and the workflow
// engine's admission limits (spec §4.6, §4.7.1).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentstack/session"
	"github.com/kadirpekel/agentstack/tool"
)

// WorkflowLimits bounds the workflow engine's admission checks (spec
// §4.7.1).
type WorkflowLimits struct {
	MaxSpawnDepth       int `yaml:"maxSpawnDepth"`
	MaxChildrenPerAgent int `yaml:"maxChildrenPerAgent"`
}

// Models maps an agent id to its default "<provider>/<model>" string, used
// to resolve a step's model when the step itself doesn't specify one
// (spec §4.7.3).
type Models map[string]string

// ServerConfig holds the cmd/agentstackd process's own operational
// settings: none of these are hot-reloaded (spec §5 "Environment").
type ServerConfig struct {
	Port       int    `yaml:"port"`
	Workspace  string `yaml:"workspace"`
	GatewayURL string `yaml:"gatewayUrl"`
}

// MetricsConfig configures the /metrics Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Config is the whole loaded snapshot, read once and treated as
// immutable thereafter (spec §6 "Environment").
type Config struct {
	Server  ServerConfig `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Session struct {
		Templates []session.Template `yaml:"templates"`
	} `yaml:"session"`
	Tools struct {
		Custom []tool.Config `yaml:"custom"`
	} `yaml:"tools"`
	Workflow WorkflowLimits `yaml:"workflow"`
	Models   Models         `yaml:"models"`
}

// SetDefaults fills zero-valued fields with the spec's documented
// defaults (maxSpawnDepth=1, maxChildrenPerAgent=5) plus operational
// defaults for the server bootstrap.
func (c *Config) SetDefaults() {
	if c.Workflow.MaxSpawnDepth == 0 {
		c.Workflow.MaxSpawnDepth = 1
	}
	if c.Workflow.MaxChildrenPerAgent == 0 {
		c.Workflow.MaxChildrenPerAgent = 5
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.Workspace == "" {
		c.Server.Workspace = ".agentstack"
	}
}

// ResolveModel returns "<provider>/<model>" for agentID, or "" if unset.
func (c *Config) ResolveModel(agentID string) string {
	return c.Models[agentID]
}

// Load reads and parses the YAML config at path, applying a .env overlay
// from the current working directory first (existing environment variables
// are never overwritten), then expanding defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}
