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
package openstack

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/stretchr/testify/require"
)

func TestExactlyOneNone(t *testing.T) {
	t.Parallel()

	_, err := exactlyOne([]string{}, "network", "localnet-a")
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, IsNotFound(err))
}

func TestExactlyOneSingle(t *testing.T) {
	t.Parallel()

	result, err := exactlyOne([]string{"foo"}, "network", "foo")
	require.NoError(t, err)
	require.Equal(t, "foo", *result)
}

// TestExactlyOneAmbiguous checks duplicates are never silently resolved.
func TestExactlyOneAmbiguous(t *testing.T) {
	t.Parallel()

	_, err := exactlyOne([]string{"foo", "foo"}, "router", "foo")
	require.ErrorIs(t, err, ErrAmbiguous)
	require.False(t, IsNotFound(err))
}

// TestIsNotFoundResponseCode checks API 404s are treated like failed lookups.
func TestIsNotFoundResponseCode(t *testing.T) {
	t.Parallel()

	err := gophercloud.ErrUnexpectedResponseCode{
		Method:   "DELETE",
		URL:      "http://localhost/v2.0/ports/foo",
		Expected: []int{204},
		Actual:   404,
	}

	require.True(t, IsNotFound(fmt.Errorf("deleting port: %w", err)))
	require.False(t, IsNotFound(errors.New("connection refused")))
}
