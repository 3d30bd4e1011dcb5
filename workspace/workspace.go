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

// Package workspace resolves the filesystem root every persistent component
// writes under. It is treated as an external collaborator: the core never
// reads environment variables directly, it asks a Resolver.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Resolver yields the workspace root for the current process/session.
type Resolver interface {
	// Root returns an absolute path to the workspace root. Implementations
	// must ensure the directory exists.
	Root() (string, error)
}

// Static resolves to a fixed, pre-validated directory.
type Static struct {
	Path string
}

// NewStatic creates a Static resolver rooted at dir, creating it if absent.
func NewStatic(dir string) (*Static, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root %s: %w", abs, err)
	}
	return &Static{Path: abs}, nil
}

// Root implements Resolver.
func (s *Static) Root() (string, error) {
	if s.Path == "" {
		return "", fmt.Errorf("workspace root not configured")
	}
	return s.Path, nil
}

// Path joins the resolved root with the given relative path segments.
func Path(r Resolver, elem ...string) (string, error) {
	root, err := r.Root()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{root}, elem...)...), nil
}
