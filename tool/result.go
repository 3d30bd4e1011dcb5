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

import "encoding/json"

// normalize implements spec §4.5 Result normalization: attempt to
// JSON-parse the raw output and return it verbatim; on failure, wrap it as
// {status: "ok", output: raw}.
func normalize(raw string) any {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return parsed
	}
	return map[string]any{"status": "ok", "output": raw}
}

// normalizeError wraps an execution failure per spec §4.5.
func normalizeError(err error) map[string]any {
	return map[string]any{"status": "error", "error": err.Error()}
}
