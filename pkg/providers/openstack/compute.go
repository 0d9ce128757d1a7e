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
	"net/http"
	"regexp"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/quotasets"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"
	"github.com/unikorn-cloud/workload-generator/pkg/providers"

	"k8s.io/utils/ptr"
)

// ComputeOptions alter how the compute client behaves.
type ComputeOptions struct {
	// AllTenants is set for administrative connections so server listing
	// can be filtered to any project.  Project scoped users are not
	// allowed to do this.
	AllTenants bool
}

// ServerOptions are the parameters needed to boot a server from a volume.
type ServerOptions struct {
	Name           string
	Description    string
	FlavorID       string
	ImageID        string
	NetworkID      string
	KeyName        string
	AdminPass      string
	SecurityGroups []string
	UserData       []byte
	VolumeSizeGB   int
}

// ComputeClient wraps the generic client because gophercloud is unsafe.
type ComputeClient struct {
	options *ComputeOptions
	client  *gophercloud.ServiceClient
}

// Ensure the interface is implemented.
var _ ComputeInterface = &ComputeClient{}

// NewComputeClient provides a simple one-liner to start computing.
func NewComputeClient(ctx context.Context, provider CredentialProvider, options *ComputeOptions) (*ComputeClient, error) {
	providerClient, err := provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	client, err := openstack.NewComputeV2(providerClient, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, err
	}

	// Need at least 2.19 for server descriptions.
	// Need at least 2.47 for the hypervisor host name in server details.
	client.Microversion = "2.90"

	c := &ComputeClient{
		options: options,
		client:  client,
	}

	return c, nil
}

func (c *ComputeClient) listOpts(projectID string) *servers.ListOpts {
	opts := &servers.ListOpts{}

	if c.options != nil && c.options.AllTenants {
		opts.AllTenants = true
		opts.TenantID = projectID
	}

	return opts
}

// ListServers returns all servers in the project.
func (c *ComputeClient) ListServers(ctx context.Context, projectID string) ([]servers.Server, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/detail", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := servers.List(c.client, c.listOpts(projectID)).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	return servers.ExtractServers(page)
}

// GetServer looks up a server by name in the project.
func (c *ComputeClient) GetServer(ctx context.Context, projectID, name string) (*servers.Server, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/detail", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	// Name filtering is a regular expression, so anchor it and then filter
	// exactly anyway.
	opts := c.listOpts(projectID)
	opts.Name = "^" + regexp.QuoteMeta(name) + "$"

	page, err := servers.List(c.client, opts).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	result, err := servers.ExtractServers(page)
	if err != nil {
		return nil, err
	}

	var filtered []servers.Server

	for i := range result {
		if result[i].Name == name && (projectID == "" || result[i].TenantID == projectID) {
			filtered = append(filtered, result[i])
		}
	}

	return exactlyOne(filtered, "server", name)
}

// GetServerByID reads a server's current state.
func (c *ComputeClient) GetServerByID(ctx context.Context, serverID string) (*servers.Server, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/"+serverID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	server, err := servers.Get(ctx, c.client, serverID).Extract()
	if err != nil {
		if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: server %s", ErrNotFound, serverID)
		}

		return nil, err
	}

	return server, nil
}

// CreateServer boots a server from a new volume that is deleted along with
// the server.
func (c *ComputeClient) CreateServer(ctx context.Context, options *ServerOptions) (*servers.Server, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	serverOpts := servers.CreateOpts{
		Name:           options.Name,
		FlavorRef:      options.FlavorID,
		AdminPass:      options.AdminPass,
		SecurityGroups: options.SecurityGroups,
		UserData:       options.UserData,
		Networks: []servers.Network{
			{
				UUID: options.NetworkID,
			},
		},
		BlockDevice: []servers.BlockDevice{
			{
				SourceType:          "image",
				UUID:                options.ImageID,
				DestinationType:     "volume",
				VolumeSize:          options.VolumeSizeGB,
				DeleteOnTermination: true,
				BootIndex:           0,
			},
		},
	}

	opts := keypairs.CreateOptsExt{
		CreateOptsBuilder: serverOpts,
		KeyName:           options.KeyName,
	}

	return servers.Create(ctx, c.client, opts, nil).Extract()
}

func (c *ComputeClient) DeleteServer(ctx context.Context, serverID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/"+serverID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return servers.Delete(ctx, c.client, serverID).ExtractErr()
}

func (c *ComputeClient) StartServer(ctx context.Context, serverID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/"+serverID+"/action", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return servers.Start(ctx, c.client, serverID).ExtractErr()
}

func (c *ComputeClient) StopServer(ctx context.Context, serverID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/servers/"+serverID+"/action", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return servers.Stop(ctx, c.client, serverID).ExtractErr()
}

// Flavors returns a list of flavors.
func (c *ComputeClient) Flavors(ctx context.Context) ([]flavors.Flavor, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/flavors", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := flavors.ListDetail(c.client, &flavors.ListOpts{SortKey: "name", AccessType: flavors.AllAccess}).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	return flavors.ExtractFlavors(page)
}

// GetKeyPair looks up a key pair owned by the calling user.
func (c *ComputeClient) GetKeyPair(ctx context.Context, name string) (*keypairs.KeyPair, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/os-keypairs", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := keypairs.List(c.client, &keypairs.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	result, err := keypairs.ExtractKeyPairs(page)
	if err != nil {
		return nil, err
	}

	var filtered []keypairs.KeyPair

	for i := range result {
		if result[i].Name == name {
			filtered = append(filtered, result[i])
		}
	}

	return exactlyOne(filtered, "keypair", name)
}

// CreateKeyPair imports a public key.
func (c *ComputeClient) CreateKeyPair(ctx context.Context, name, publicKey string) (*keypairs.KeyPair, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/os-keypairs", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &keypairs.CreateOpts{
		Name:      name,
		PublicKey: publicKey,
	}

	return keypairs.Create(ctx, c.client, opts).Extract()
}

// GetQuota implements the providers.QuotaProvider interface.
func (c *ComputeClient) GetQuota(ctx context.Context, projectID string) (providers.Quota, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/os-quota-sets/"+projectID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	q, err := quotasets.Get(ctx, c.client, projectID).Extract()
	if err != nil {
		return nil, err
	}

	quota := providers.Quota{
		"cores":                q.Cores,
		"instances":            q.Instances,
		"key_pairs":            q.KeyPairs,
		"metadata_items":       q.MetadataItems,
		"ram":                  q.RAM,
		"server_group_members": q.ServerGroupMembers,
		"server_groups":        q.ServerGroups,
	}

	return quota, nil
}

// UpdateQuota implements the providers.QuotaProvider interface.
func (c *ComputeClient) UpdateQuota(ctx context.Context, projectID string, quota providers.Quota) error {
	opts := quotasets.UpdateOpts{}

	for name, value := range quota {
		switch name {
		case "cores":
			opts.Cores = ptr.To(value)
		case "instances":
			opts.Instances = ptr.To(value)
		case "key_pairs":
			opts.KeyPairs = ptr.To(value)
		case "metadata_items":
			opts.MetadataItems = ptr.To(value)
		case "ram":
			opts.RAM = ptr.To(value)
		case "server_group_members":
			opts.ServerGroupMembers = ptr.To(value)
		case "server_groups":
			opts.ServerGroups = ptr.To(value)
		default:
			return fmt.Errorf("%w: %s.%s", providers.ErrUnknownQuotaField, providers.ComputeQuotas, name)
		}
	}

	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/compute/v2/os-quota-sets/"+projectID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return quotasets.Update(ctx, c.client, projectID, opts).Err
}
