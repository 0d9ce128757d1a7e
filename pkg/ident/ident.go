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

// Package ident remembers what domain and project identifiers refer to so
// log lines can say more than a UUID.  Nothing makes control decisions
// based on it.
package ident

import (
	"fmt"
	"sync"
)

type project struct {
	name     string
	domainID string
}

// Cache maps domain and project IDs to names.  It lives for one run and is
// safe for concurrent use.
type Cache struct {
	lock sync.RWMutex

	domains  map[string]string
	projects map[string]project
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		domains:  map[string]string{},
		projects: map[string]project{},
	}
}

// AddDomain records a domain name.
func (c *Cache) AddDomain(id, name string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.domains[id] = name
}

// AddProject records a project name and the domain it belongs to.
func (c *Cache) AddProject(id, name, domainID string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.projects[id] = project{
		name:     name,
		domainID: domainID,
	}
}

func (c *Cache) domain(id string) string {
	name, ok := c.domains[id]
	if !ok {
		name = "<unknown>"
	}

	return fmt.Sprintf("domain '%s/%s'", name, id)
}

// Domain describes a domain for humans.
func (c *Cache) Domain(id string) string {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.domain(id)
}

// Project describes a project and its domain for humans.
func (c *Cache) Project(id string) string {
	c.lock.RLock()
	defer c.lock.RUnlock()

	p, ok := c.projects[id]
	if !ok {
		return fmt.Sprintf("project '<unknown>/%s'", id)
	}

	return fmt.Sprintf("project '%s/%s' in %s", p.name, id, c.domain(p.domainID))
}
