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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/agentstack/board"
	"github.com/kadirpekel/agentstack/config"
	"github.com/kadirpekel/agentstack/gateway"
	"github.com/kadirpekel/agentstack/knowledge"
	"github.com/kadirpekel/agentstack/metrics"
	"github.com/kadirpekel/agentstack/queue"
	"github.com/kadirpekel/agentstack/session"
	"github.com/kadirpekel/agentstack/subagents"
	"github.com/kadirpekel/agentstack/tool"
	"github.com/kadirpekel/agentstack/workflow"
	"github.com/kadirpekel/agentstack/workspace"
)

// app holds every wired component. tools and templates are hot-reloadable
// (spec's config-watch supplement) so they're held behind atomic
// pointers; everything else is fixed for the process lifetime.
type app struct {
	cfg      *config.Config
	resolver workspace.Resolver
	metrics  *metrics.Metrics

	queue     *queue.Queue
	board     *board.Board
	knowledge *knowledge.Store

	gateway  *gateway.Client
	registry *subagents.Registry
	engine   *workflow.Engine

	tools     atomic.Pointer[tool.Registry]
	templates atomic.Pointer[session.Applicator]
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	resolver, err := workspace.NewStatic(cfg.Server.Workspace)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}

	q, err := queue.New(resolver)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	k, err := knowledge.New(resolver)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	b := board.New(resolver)

	m := metrics.New(&metrics.Config{Enabled: cfg.Metrics.Enabled, Namespace: cfg.Metrics.Namespace})
	gw := gateway.New(cfg.Server.GatewayURL, gateway.WithMetrics(m))
	registry := subagents.New()
	engine := workflow.New(gw, registry, resolver, workflow.Limits{
		MaxSpawnDepth:       cfg.Workflow.MaxSpawnDepth,
		MaxChildrenPerAgent: cfg.Workflow.MaxChildrenPerAgent,
	}, cfg.ResolveModel)

	a := &app{
		cfg:       cfg,
		resolver:  resolver,
		metrics:   m,
		queue:     q,
		board:     b,
		knowledge: k,
		gateway:   gw,
		registry:  registry,
		engine:    engine,
	}
	a.applyConfig(cfg)
	return a, nil
}

// applyConfig rebuilds the hot-reloadable tool registry and session
// applicator from cfg, without touching anything else (spec's config
// watch is scoped to session.templates and tools.custom only).
func (a *app) applyConfig(cfg *config.Config) {
	a.tools.Store(tool.NewRegistry(cfg.Tools.Custom, builtinToolNames))
	a.templates.Store(session.New(a.gateway, cfg.Session.Templates))
}

func (a *app) watchConfig(ctx context.Context, path string) {
	w, err := config.NewWatcher(path, a.applyConfig)
	if err != nil {
		slog.Error("config watch setup failed", "path", path, "error", err)
		return
	}
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("config watch stopped", "error", err)
	}
}

// builtinToolNames are reserved by the execute() dispatcher itself and
// cannot be overridden by a tools.custom entry (spec §4.5 Registration).
var builtinToolNames = map[string]bool{
	"queue.add":            true,
	"queue.claim":          true,
	"queue.complete":       true,
	"queue.fail":           true,
	"queue.retry":          true,
	"queue.clear":          true,
	"queue.stats":          true,
	"board.post":           true,
	"board.read":           true,
	"board.list":           true,
	"board.clear":          true,
	"knowledge.set":        true,
	"knowledge.get":        true,
	"knowledge.delete":     true,
	"knowledge.query":      true,
	"knowledge.list":       true,
	"knowledge.categories": true,
	"session.list":         true,
	"session.apply":        true,
	"workflow.run":         true,
}

func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: a.routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("agentstackd listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
