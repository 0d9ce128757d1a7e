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

//nolint:testpackage
package ident

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescriptors(t *testing.T) {
	t.Parallel()

	c := New()

	c.AddDomain("d1", "alpha")
	c.AddProject("p1", "web", "d1")

	require.Equal(t, "domain 'alpha/d1'", c.Domain("d1"))
	require.Equal(t, "project 'web/p1' in domain 'alpha/d1'", c.Project("p1"))
}

func TestUnknown(t *testing.T) {
	t.Parallel()

	c := New()

	c.AddProject("p1", "web", "d1")

	require.Equal(t, "domain '<unknown>/d2'", c.Domain("d2"))
	require.Equal(t, "project '<unknown>/p2'", c.Project("p2"))
	require.Equal(t, "project 'web/p1' in domain '<unknown>/d1'", c.Project("p1"))
}

func TestConcurrent(t *testing.T) {
	t.Parallel()

	c := New()

	var wg sync.WaitGroup

	for i := range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			id := fmt.Sprintf("d%d", i)

			c.AddDomain(id, "name")
			c.AddProject("p"+id, "project", id)
		}()
	}

	wg.Wait()

	for i := range 16 {
		id := fmt.Sprintf("d%d", i)

		require.Equal(t, "project 'project/p"+id+"' in domain 'name/"+id+"'", c.Project("p"+id))
	}
}
