/*
Copyright 2024 the Unikorn Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package lookup resolves names of shared cloud resources, like roles and
// flavors, to their IDs.  The APIs can't filter these by name so the whole
// collection is listed once and remembered for the rest of the run.
package lookup

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrNotFound is raised when the name doesn't exist in the listing.
	ErrNotFound = errors.New("name not found")
)

// Kind is the type of resource being resolved.
type Kind string

const (
	Role   Kind = "role"
	Flavor Kind = "flavor"
	Image  Kind = "image"
)

// Entry is a named resource.
type Entry struct {
	Name string
	ID   string
}

// ListFunc returns every resource of a kind.
type ListFunc func(ctx context.Context) ([]Entry, error)

type key struct {
	kind Kind
	name string
}

// Cache remembers name to ID mappings.
type Cache struct {
	cache *lru.Cache[key, string]
}

// New returns a cache holding up to size names.
func New(size int) (*Cache, error) {
	cache, err := lru.New[key, string](size)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cache: cache,
	}

	return c, nil
}

// Resolve returns the ID of a named resource, calling list on a miss.  When
// names are duplicated the first listed wins.
func (c *Cache) Resolve(ctx context.Context, kind Kind, name string, list ListFunc) (string, error) {
	k := key{
		kind: kind,
		name: name,
	}

	if id, ok := c.cache.Get(k); ok {
		return id, nil
	}

	entries, err := list(ctx)
	if err != nil {
		return "", err
	}

	seen := map[string]bool{}

	for _, entry := range entries {
		if seen[entry.Name] {
			continue
		}

		seen[entry.Name] = true

		c.cache.Add(key{kind: kind, name: entry.Name}, entry.ID)
	}

	for _, entry := range entries {
		if entry.Name == name {
			return entry.ID, nil
		}
	}

	return "", fmt.Errorf("%w: %s %s", ErrNotFound, kind, name)
}

// Forget drops a name, so the next resolution lists the collection again.
func (c *Cache) Forget(kind Kind, name string) {
	c.cache.Remove(key{kind: kind, name: name})
}
