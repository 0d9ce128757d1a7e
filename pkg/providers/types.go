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

package providers

// QuotaCategory defines a group of quotas that are managed by a single
// cloud service.
type QuotaCategory string

const (
	// ComputeQuotas are limits on servers, cores, memory and the like.
	ComputeQuotas QuotaCategory = "compute_quotas"
	// BlockStorageQuotas are limits on volumes and snapshots.
	BlockStorageQuotas QuotaCategory = "block_storage_quotas"
	// NetworkQuotas are limits on networks, ports, floating IPs etc.
	NetworkQuotas QuotaCategory = "network_quotas"
)

// Quota is a set of limits keyed by the field name the cloud API uses.
type Quota map[string]int

// QuotaUpdate records a single changed field, used for logging.
type QuotaUpdate struct {
	// Field is the quota field name.
	Field string
	// Current is what the cloud reported.
	Current int
	// Desired is what was configured.
	Desired int
}
