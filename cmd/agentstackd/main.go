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

// Command agentstackd serves the multi-agent runtime coordination core
// over HTTP: task queue, message board, knowledge store, custom-tool
// dispatcher, session templates, and the sub-agent workflow engine.
//
// Usage:
//
//	agentstackd serve --config agentstack.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/agentstack/logging"
	"github.com/kadirpekel/agentstack/tool"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the agentstackd HTTP server."`
	Mcp     McpCmd     `cmd:"" help:"Serve registered custom tools over MCP (stdio transport)."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error; empty = env or info)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text or json; empty = env or text)."`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("agentstackd (dev)")
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Config string `short:"c" help:"Path to config file." type:"path" default:"agentstack.yaml"`
	Watch  bool   `help:"Hot-reload session.templates and tools.custom on config file change."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	app, err := newApp(c.Config)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	if c.Watch {
		go app.watchConfig(ctx, c.Config)
	}

	return app.serve(ctx)
}

// McpCmd serves every registered custom tool over MCP via stdio (spec §6
// supplemented surface), the transport mcp-go's own server package
// documents as its baseline: the same tools execute(callId, args) serves
// over HTTP, reachable from MCP-speaking clients without it.
type McpCmd struct {
	Config string `short:"c" help:"Path to config file." type:"path" default:"agentstack.yaml"`
}

func (c *McpCmd) Run(cli *CLI) error {
	app, err := newApp(c.Config)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	s, err := tool.NewMCPServer(app.tools.Load())
	if err != nil {
		return fmt.Errorf("build mcp server: %w", err)
	}
	return mcpserver.ServeStdio(s)
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("agentstackd"),
		kong.Description("Multi-agent runtime coordination core"),
		kong.UsageOnError(),
	)

	cleanup, err := logging.Init(logging.Options{Level: cli.LogLevel, File: cli.LogFile, Format: cli.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
