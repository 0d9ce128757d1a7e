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

// QuotaCategories is the order in which quota categories are reconciled.
//
//nolint:gochecknoglobals
var QuotaCategories = []QuotaCategory{
	ComputeQuotas,
	BlockStorageQuotas,
	NetworkQuotas,
}

// QuotaFields is the schema of fields known for each category.  Anything
// outside of this is rejected, rather than silently sent to the API.
// Compute fields are those Nova accepts at the microversion the compute
// client pins, floating IPs and security groups are network quotas.
//
//nolint:gochecknoglobals
var QuotaFields = map[QuotaCategory][]string{
	ComputeQuotas: {
		"cores",
		"instances",
		"key_pairs",
		"metadata_items",
		"ram",
		"server_group_members",
		"server_groups",
	},
	BlockStorageQuotas: {
		"backup_gigabytes",
		"backups",
		"gigabytes",
		"groups",
		"per_volume_gigabytes",
		"snapshots",
		"volumes",
	},
	NetworkQuotas: {
		"floatingip",
		"network",
		"port",
		"rbac_policy",
		"router",
		"security_group",
		"security_group_rule",
		"subnet",
		"subnetpool",
		"trunk",
	},
}
