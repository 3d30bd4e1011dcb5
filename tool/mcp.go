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
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer builds an MCP server exposing every tool in r, so the same
// custom tools the dispatcher serves via execute(callId, args) are
// reachable from MCP-speaking clients (spec §6 supplemented surface).
// cmd/agentstackd's "mcp" command serves it over stdio.
func NewMCPServer(r *Registry) (*server.MCPServer, error) {
	s := server.NewMCPServer("agentstack", "1.0.0")
	if err := MountMCP(s, r); err != nil {
		return nil, err
	}
	return s, nil
}

// MountMCP exposes every tool in r as an MCP tool on s, so the same custom
// tools the dispatcher serves via execute(callId, args) are reachable from
// MCP-speaking clients (spec §6 supplemented surface).
func MountMCP(s *server.MCPServer, r *Registry) error {
	for _, name := range r.Names() {
		cfg, _ := r.Lookup(name)
		schema, err := ParamSchema(cfg)
		if err != nil {
			return fmt.Errorf("build schema for %s: %w", name, err)
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			return fmt.Errorf("marshal schema for %s: %w", name, err)
		}

		mcpTool := mcp.NewToolWithRawSchema(cfg.Name, cfg.Description, raw)
		s.AddTool(mcpTool, mcpHandler(r, cfg.Name))
	}
	return nil
}

func mcpHandler(r *Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		result, err := r.Execute(ctx, name, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		out, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}
