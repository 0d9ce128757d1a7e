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
package landscape

import (
	"fmt"
	"testing"

	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/stretchr/testify/require"

	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"
)

// TestBinding checks the absent and bound states.
func TestBinding(t *testing.T) {
	t.Parallel()

	var binding Binding[servers.Server]

	_, ok := binding.Get()
	require.False(t, ok)
	require.False(t, binding.IsBound())

	_, err := binding.Require("server", "alpha")
	require.ErrorIs(t, err, ErrNotBound)

	binding.Bind(&servers.Server{ID: "9d1f3b7a"})

	server, err := binding.Require("server", "alpha")
	require.NoError(t, err)
	require.Equal(t, "9d1f3b7a", server.ID)

	binding.Unbind()
	require.False(t, binding.IsBound())
}

// TestDiscover checks only a missing resource is absent.
func TestDiscover(t *testing.T) {
	t.Parallel()

	binding, err := discover(&servers.Server{ID: "9d1f3b7a"}, nil)
	require.NoError(t, err)
	require.True(t, binding.IsBound())

	binding, err = discover[servers.Server](nil, fmt.Errorf("%w: server alpha", openstack.ErrNotFound))
	require.NoError(t, err)
	require.False(t, binding.IsBound())

	_, err = discover[servers.Server](nil, fmt.Errorf("%w: server alpha", openstack.ErrAmbiguous))
	require.ErrorIs(t, err, openstack.ErrAmbiguous)
}

// TestIgnoreNotFound checks only missing resources are ignored.
func TestIgnoreNotFound(t *testing.T) {
	t.Parallel()

	require.NoError(t, ignoreNotFound(nil))
	require.NoError(t, ignoreNotFound(fmt.Errorf("%w: server alpha", openstack.ErrNotFound)))
	require.ErrorIs(t, ignoreNotFound(errInjected), errInjected)
}
