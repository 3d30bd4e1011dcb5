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
	"encoding/json"
	"sort"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ParamSchema builds the JSON Schema for cfg's declared parameters (spec
// §4.5 Parameter schema): each parameter's type maps to a value-schema and
// is optional unless marked required.
func ParamSchema(cfg *Config) (map[string]any, error) {
	props := orderedmap.New[string, *jsonschema.Schema]()

	names := make([]string, 0, len(cfg.Parameters))
	for name := range cfg.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	var required []string
	for _, name := range names {
		p := cfg.Parameters[name]
		props.Set(name, &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
			Default:     p.Default,
		})
		if p.Required {
			required = append(required, name)
		}
	}

	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}

	return schemaToMap(schema)
}

// schemaToMap converts a jsonschema.Schema to map[string]any, dropping the
// $schema/$id fields an LLM tool surface has no use for.
func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	delete(result, "$schema")
	delete(result, "$id")
	return result, nil
}
