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

package workflow

import (
	"context"
	"time"

	"github.com/kadirpekel/agentstack/gateway"
)

// gatewayClient is the subset of *gateway.Client the engine needs,
// narrowed to an interface so tests can stub the gateway (spec §9 "stub
// the gateway so each step's assistant reply is ...").
type gatewayClient interface {
	PatchSession(ctx context.Context, key string, fields map[string]any) error
	Agent(ctx context.Context, params gateway.AgentParams, stepTimeoutSeconds int) (*gateway.AgentResult, error)
	History(ctx context.Context, key string, limit int, timeout time.Duration) ([]gateway.HistoryMessage, error)
}
