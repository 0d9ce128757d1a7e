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
package providers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDiffQuotaChangedSubset checks only fields that differ are returned.
func TestDiffQuotaChangedSubset(t *testing.T) {
	t.Parallel()

	current := Quota{"cores": 10, "ram": 2048, "instances": 5}
	desired := Quota{"cores": 20, "ram": 2048}

	changed, updates, err := DiffQuota(ComputeQuotas, current, desired)
	require.NoError(t, err)
	require.Equal(t, Quota{"cores": 20}, changed)
	require.Equal(t, []QuotaUpdate{{Field: "cores", Current: 10, Desired: 20}}, updates)
}

// TestDiffQuotaNoChange checks an identical quota yields nothing to do.
func TestDiffQuotaNoChange(t *testing.T) {
	t.Parallel()

	current := Quota{"volumes": 10, "gigabytes": 1000}
	desired := Quota{"volumes": 10}

	changed, updates, err := DiffQuota(BlockStorageQuotas, current, desired)
	require.NoError(t, err)
	require.Empty(t, changed)
	require.Empty(t, updates)
}

// TestDiffQuotaUnknownField checks fields outside the schema are fatal.
func TestDiffQuotaUnknownField(t *testing.T) {
	t.Parallel()

	current := Quota{"network": 10}
	desired := Quota{"networks": 10}

	_, _, err := DiffQuota(NetworkQuotas, current, desired)
	require.ErrorIs(t, err, ErrUnknownQuotaField)
}

// TestDiffQuotaMissingField checks a field the cloud doesn't report is fatal.
func TestDiffQuotaMissingField(t *testing.T) {
	t.Parallel()

	current := Quota{"network": 10}
	desired := Quota{"router": 3}

	_, _, err := DiffQuota(NetworkQuotas, current, desired)
	require.ErrorIs(t, err, ErrMissingQuotaField)
}

func TestValidateQuotaUnknownCategory(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, ValidateQuota("dns_quotas", Quota{}), ErrUnknownQuotaCategory)
}

func TestQuotaFieldsSorted(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"cores", "instances", "ram"}, Quota{"ram": 1, "cores": 2, "instances": 3}.Fields())
}

// TestValidateQuotaNetworkProxies checks compute fields Nova no longer
// accepts are refused, their network equivalents are fine.
func TestValidateQuotaNetworkProxies(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"floating_ips", "fixed_ips", "security_groups", "security_group_rules", "injected_files"} {
		require.ErrorIs(t, ValidateQuota(ComputeQuotas, Quota{name: 5}), ErrUnknownQuotaField, name)
	}

	require.NoError(t, ValidateQuota(NetworkQuotas, Quota{"floatingip": 5, "security_group": 5}))
}
