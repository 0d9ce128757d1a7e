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

import (
	"context"
)

// QuotaProvider reads and writes one category of quotas for a project.
// Providers are expected to translate between their own representation
// and the field names in QuotaFields.
type QuotaProvider interface {
	// GetQuota returns the current quota of the project.
	GetQuota(ctx context.Context, projectID string) (Quota, error)
	// UpdateQuota sets only the supplied fields.
	UpdateQuota(ctx context.Context, projectID string, quota Quota) error
}
