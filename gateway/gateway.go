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

// Package gateway implements the RPC shim to the sibling process that owns
// agent sessions: every call carries a method, typed params, and an
// explicit deadline (spec §6 "Gateway RPC (outbound)").
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/agentstack/metrics"
)

// Client calls named gateway methods over HTTP+JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// Option configures a Client, mirroring the functional-options shape the
// teacher's httpclient package uses (WithHTTPClient, WithMaxRetries).
type Option func(*Client)

// WithMetrics attaches m so every Call records its outcome and duration.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client addressing the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: baseURL, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Call invokes method with params, enforcing timeout as a hard per-call
// deadline (spec §6, §"Suspension points"). Outcome and duration are
// recorded against c.metrics regardless of which caller (workflow step
// execution, session template patch, ...) issued the call.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()
	result, err := c.call(ctx, method, params, timeout)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.RecordGatewayCall(method, outcome, time.Since(start))
	return result, err
}

func (c *Client) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	encodedParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	body, err := json.Marshal(envelope{Method: method, Params: encodedParams})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("transport: gateway returned %d: %s", resp.StatusCode, raw)
	}

	var decoded response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("transport: decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("transport: %s", decoded.Error)
	}
	return decoded.Result, nil
}

// PatchSession calls sessions.patch{key, ...fields} with a 10s timeout
// (spec §"Cancellation/timeouts").
func (c *Client) PatchSession(ctx context.Context, key string, fields map[string]any) error {
	params := map[string]any{"key": key}
	for k, v := range fields {
		params[k] = v
	}
	_, err := c.Call(ctx, "sessions.patch", params, 10*time.Second)
	return err
}

// HistoryMessage is one entry of a sessions.history response.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Text    string `json:"text"`
}

// History calls sessions.history{key, limit} and decodes the messages
// list.
func (c *Client) History(ctx context.Context, key string, limit int, timeout time.Duration) ([]HistoryMessage, error) {
	result, err := c.Call(ctx, "sessions.history", map[string]any{"key": key, "limit": limit}, timeout)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Messages []HistoryMessage `json:"messages"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return decoded.Messages, nil
}

// AgentParams is the typed param set for an "agent" gateway call (spec
// §6).
type AgentParams struct {
	Message           string `json:"message"`
	SessionKey        string `json:"sessionKey"`
	Channel           string `json:"channel,omitempty"`
	To                string `json:"to,omitempty"`
	AccountID         string `json:"accountId,omitempty"`
	IdempotencyKey    string `json:"idempotencyKey"`
	Deliver           bool   `json:"deliver"`
	Lane              string `json:"lane"`
	ExtraSystemPrompt string `json:"extraSystemPrompt,omitempty"`
	Thinking          string `json:"thinking,omitempty"`
	Timeout           int    `json:"timeout"`
	Label             string `json:"label"`
	SpawnedBy         string `json:"spawnedBy,omitempty"`
}

// AgentResult is the decoded response of an "agent" gateway call.
type AgentResult struct {
	RunID string `json:"runId"`
}

// Agent issues an "agent" gateway call with the documented timeout formula
// of step.timeoutSeconds*1000 + 30000 ms.
func (c *Client) Agent(ctx context.Context, params AgentParams, stepTimeoutSeconds int) (*AgentResult, error) {
	timeout := time.Duration(stepTimeoutSeconds)*time.Second + 30*time.Second
	result, err := c.Call(ctx, "agent", params, timeout)
	if err != nil {
		return nil, err
	}
	var decoded AgentResult
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, fmt.Errorf("decode agent result: %w", err)
	}
	return &decoded, nil
}
