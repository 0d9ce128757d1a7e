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
package fake

import (
	"context"
	"net/http"
	"testing"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/stretchr/testify/require"

	"github.com/unikorn-cloud/workload-generator/pkg/providers"
	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"
)

// TestUpdateQuotaUnknownField checks the cloud refuses fields it doesn't
// report, as Nova does with fields removed by microversions.
func TestUpdateQuotaUnknownField(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cloud := New()

	compute, err := cloud.Compute(ctx)
	require.NoError(t, err)

	err = compute.UpdateQuota(ctx, "c4a8e2d6", providers.Quota{"floating_ips": 5})
	require.True(t, gophercloud.ResponseCodeIs(err, http.StatusBadRequest))

	require.NoError(t, compute.UpdateQuota(ctx, "c4a8e2d6", providers.Quota{"cores": 5}))
	require.Equal(t, 5, cloud.Quota(providers.ComputeQuotas, "c4a8e2d6")["cores"])
}

// TestGetExternalNetwork checks tenant networks sharing the name of the
// external network are not matched.
func TestGetExternalNetwork(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cloud := New()
	cloud.SeedNetwork("c4a8e2d6", PublicNetwork)

	network, err := cloud.Network(ctx)
	require.NoError(t, err)

	public, err := network.GetExternalNetwork(ctx, PublicNetwork)
	require.NoError(t, err)
	require.Equal(t, AdminUserID, public.ProjectID)

	cloud.RemovePublicNetwork()

	_, err = network.GetExternalNetwork(ctx, PublicNetwork)
	require.ErrorIs(t, err, openstack.ErrNotFound)
}
