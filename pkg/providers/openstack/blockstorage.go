/*
Copyright 2022-2024 EscherCloud.
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

package openstack

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/quotasets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"
	"github.com/unikorn-cloud/workload-generator/pkg/providers"

	"k8s.io/utils/ptr"
)

// BlockStorageClient wraps the generic client because gophercloud is unsafe.
type BlockStorageClient struct {
	client *gophercloud.ServiceClient
}

// Ensure the interface is implemented.
var _ BlockStorageInterface = &BlockStorageClient{}

// NewBlockStorageClient provides a simple one-liner to start storing.
func NewBlockStorageClient(ctx context.Context, provider CredentialProvider) (*BlockStorageClient, error) {
	providerClient, err := provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	client, err := openstack.NewBlockStorageV3(providerClient, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, err
	}

	c := &BlockStorageClient{
		client: client,
	}

	return c, nil
}

// GetQuota implements the providers.QuotaProvider interface.
func (c *BlockStorageClient) GetQuota(ctx context.Context, projectID string) (providers.Quota, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/volume/v3/os-quota-sets/"+projectID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	q, err := quotasets.Get(ctx, c.client, projectID).Extract()
	if err != nil {
		return nil, err
	}

	quota := providers.Quota{
		"backup_gigabytes":     q.BackupGigabytes,
		"backups":              q.Backups,
		"gigabytes":            q.Gigabytes,
		"groups":               q.Groups,
		"per_volume_gigabytes": q.PerVolumeGigabytes,
		"snapshots":            q.Snapshots,
		"volumes":              q.Volumes,
	}

	return quota, nil
}

// UpdateQuota implements the providers.QuotaProvider interface.
func (c *BlockStorageClient) UpdateQuota(ctx context.Context, projectID string, quota providers.Quota) error {
	opts := &quotasets.UpdateOpts{}

	for name, value := range quota {
		switch name {
		case "backup_gigabytes":
			opts.BackupGigabytes = ptr.To(value)
		case "backups":
			opts.Backups = ptr.To(value)
		case "gigabytes":
			opts.Gigabytes = ptr.To(value)
		case "groups":
			opts.Groups = ptr.To(value)
		case "per_volume_gigabytes":
			opts.PerVolumeGigabytes = ptr.To(value)
		case "snapshots":
			opts.Snapshots = ptr.To(value)
		case "volumes":
			opts.Volumes = ptr.To(value)
		default:
			return fmt.Errorf("%w: %s.%s", providers.ErrUnknownQuotaField, providers.BlockStorageQuotas, name)
		}
	}

	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/volume/v3/os-quota-sets/"+projectID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return quotasets.Update(ctx, c.client, projectID, opts).Err
}
