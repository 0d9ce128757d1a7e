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

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/external"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/layer3/floatingips"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/layer3/routers"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/mtu"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/quotas"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/rules"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"
	"github.com/unikorn-cloud/workload-generator/pkg/providers"

	"k8s.io/utils/ptr"
)

// SubnetOptions describe an IPv4 subnet with DHCP.
type SubnetOptions struct {
	ProjectID      string
	NetworkID      string
	Name           string
	CIDR           string
	DNSNameservers []string
}

// SecurityGroupRule is a single IPv4 rule.  Port ranges are ignored when zero.
type SecurityGroupRule struct {
	Direction      rules.RuleDirection
	Protocol       rules.RuleProtocol
	PortRangeMin   int
	PortRangeMax   int
	RemoteIPPrefix string
}

// PortFilter selects ports, empty fields are not filtered on.
type PortFilter struct {
	NetworkID string
	DeviceID  string
	ProjectID string
}

// NetworkClient wraps the generic client because gophercloud is unsafe.
type NetworkClient struct {
	client *gophercloud.ServiceClient
}

// Ensure the interface is implemented.
var _ NetworkInterface = &NetworkClient{}

// NewNetworkClient provides a simple one-liner to start networking.
func NewNetworkClient(ctx context.Context, provider CredentialProvider) (*NetworkClient, error) {
	providerClient, err := provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	client, err := openstack.NewNetworkV2(providerClient, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, err
	}

	c := &NetworkClient{
		client: client,
	}

	return c, nil
}

func (c *NetworkClient) listNetworks(ctx context.Context, opts networks.ListOptsBuilder) ([]networks.Network, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/networks", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := networks.List(c.client, opts).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	return networks.ExtractNetworks(page)
}

// GetNetwork looks up a network by name in a project.
func (c *NetworkClient) GetNetwork(ctx context.Context, projectID, name string) (*networks.Network, error) {
	result, err := c.listNetworks(ctx, &networks.ListOpts{ProjectID: projectID, Name: name})
	if err != nil {
		return nil, err
	}

	return exactlyOne(result, "network", name)
}

// GetExternalNetwork looks up an external network by name regardless of
// owner, this is typically a shared provider network.
func (c *NetworkClient) GetExternalNetwork(ctx context.Context, name string) (*networks.Network, error) {
	opts := &external.ListOptsExt{
		ListOptsBuilder: &networks.ListOpts{Name: name},
		External:        ptr.To(true),
	}

	result, err := c.listNetworks(ctx, opts)
	if err != nil {
		return nil, err
	}

	return exactlyOne(result, "network", name)
}

// CreateNetwork creates a network, a zero MTU uses the cloud default.
func (c *NetworkClient) CreateNetwork(ctx context.Context, projectID, name string, networkMTU int) (*networks.Network, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/networks", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var opts networks.CreateOptsBuilder = networks.CreateOpts{
		Name:         name,
		ProjectID:    projectID,
		AdminStateUp: ptr.To(true),
	}

	if networkMTU > 0 {
		opts = mtu.CreateOptsExt{
			CreateOptsBuilder: opts,
			MTU:               networkMTU,
		}
	}

	return networks.Create(ctx, c.client, opts).Extract()
}

func (c *NetworkClient) DeleteNetwork(ctx context.Context, networkID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/networks/"+networkID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return networks.Delete(ctx, c.client, networkID).ExtractErr()
}

// GetSubnet looks up a subnet by name in a project.
func (c *NetworkClient) GetSubnet(ctx context.Context, projectID, name string) (*subnets.Subnet, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/subnets", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := subnets.List(c.client, &subnets.ListOpts{ProjectID: projectID, Name: name}).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	result, err := subnets.ExtractSubnets(page)
	if err != nil {
		return nil, err
	}

	return exactlyOne(result, "subnet", name)
}

// GetSubnetByID reads a subnet.
func (c *NetworkClient) GetSubnetByID(ctx context.Context, subnetID string) (*subnets.Subnet, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/subnets/"+subnetID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	subnet, err := subnets.Get(ctx, c.client, subnetID).Extract()
	if err != nil {
		if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: subnet %s", ErrNotFound, subnetID)
		}

		return nil, err
	}

	return subnet, nil
}

// CreateSubnet creates an IPv4 subnet with DHCP enabled.
func (c *NetworkClient) CreateSubnet(ctx context.Context, options *SubnetOptions) (*subnets.Subnet, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/subnets", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &subnets.CreateOpts{
		ProjectID:      options.ProjectID,
		NetworkID:      options.NetworkID,
		Name:           options.Name,
		CIDR:           options.CIDR,
		IPVersion:      gophercloud.IPv4,
		EnableDHCP:     ptr.To(true),
		DNSNameservers: options.DNSNameservers,
	}

	return subnets.Create(ctx, c.client, opts).Extract()
}

func (c *NetworkClient) DeleteSubnet(ctx context.Context, subnetID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/subnets/"+subnetID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return subnets.Delete(ctx, c.client, subnetID).ExtractErr()
}

// GetRouter looks up a router by name in a project.
func (c *NetworkClient) GetRouter(ctx context.Context, projectID, name string) (*routers.Router, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/routers", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := routers.List(c.client, routers.ListOpts{ProjectID: projectID, Name: name}).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	result, err := routers.ExtractRouters(page)
	if err != nil {
		return nil, err
	}

	return exactlyOne(result, "router", name)
}

// CreateRouter creates a router without a gateway.
func (c *NetworkClient) CreateRouter(ctx context.Context, projectID, name string) (*routers.Router, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/routers", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &routers.CreateOpts{
		Name:         name,
		ProjectID:    projectID,
		AdminStateUp: ptr.To(true),
	}

	return routers.Create(ctx, c.client, opts).Extract()
}

// SetRouterGateway connects the router to an external network.
func (c *NetworkClient) SetRouterGateway(ctx context.Context, routerID, networkID string) (*routers.Router, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/routers/"+routerID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &routers.UpdateOpts{
		GatewayInfo: &routers.GatewayInfo{
			NetworkID: networkID,
		},
	}

	return routers.Update(ctx, c.client, routerID, opts).Extract()
}

// ClearRouterGateway disconnects the router from its external network.
func (c *NetworkClient) ClearRouterGateway(ctx context.Context, routerID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/routers/"+routerID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &routers.UpdateOpts{
		GatewayInfo: &routers.GatewayInfo{},
	}

	return routers.Update(ctx, c.client, routerID, opts).Err
}

// AddRouterSubnet attaches a subnet to the router.
func (c *NetworkClient) AddRouterSubnet(ctx context.Context, routerID, subnetID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/routers/"+routerID+"/add_router_interface", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return routers.AddInterface(ctx, c.client, routerID, &routers.AddInterfaceOpts{SubnetID: subnetID}).Err
}

// RemoveRouterSubnet detaches a subnet from the router.
func (c *NetworkClient) RemoveRouterSubnet(ctx context.Context, routerID, subnetID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/routers/"+routerID+"/remove_router_interface", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return routers.RemoveInterface(ctx, c.client, routerID, &routers.RemoveInterfaceOpts{SubnetID: subnetID}).Err
}

// RemoveRouterPort detaches an interface port from the router.
func (c *NetworkClient) RemoveRouterPort(ctx context.Context, routerID, portID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/routers/"+routerID+"/remove_router_interface", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return routers.RemoveInterface(ctx, c.client, routerID, &routers.RemoveInterfaceOpts{PortID: portID}).Err
}

func (c *NetworkClient) DeleteRouter(ctx context.Context, routerID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/routers/"+routerID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return routers.Delete(ctx, c.client, routerID).ExtractErr()
}

// ListPorts lists ports matching the filter.
func (c *NetworkClient) ListPorts(ctx context.Context, filter *PortFilter) ([]ports.Port, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/ports", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &ports.ListOpts{
		NetworkID: filter.NetworkID,
		DeviceID:  filter.DeviceID,
		ProjectID: filter.ProjectID,
	}

	page, err := ports.List(c.client, opts).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	return ports.ExtractPorts(page)
}

func (c *NetworkClient) DeletePort(ctx context.Context, portID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/ports/"+portID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return ports.Delete(ctx, c.client, portID).ExtractErr()
}

// GetSecurityGroup looks up a security group by name in a project.
func (c *NetworkClient) GetSecurityGroup(ctx context.Context, projectID, name string) (*groups.SecGroup, error) {
	result, err := c.listSecurityGroups(ctx, &groups.ListOpts{ProjectID: projectID, Name: name})
	if err != nil {
		return nil, err
	}

	return exactlyOne(result, "security group", name)
}

// ListSecurityGroups lists all security groups in a project.
func (c *NetworkClient) ListSecurityGroups(ctx context.Context, projectID string) ([]groups.SecGroup, error) {
	return c.listSecurityGroups(ctx, &groups.ListOpts{ProjectID: projectID})
}

func (c *NetworkClient) listSecurityGroups(ctx context.Context, opts *groups.ListOpts) ([]groups.SecGroup, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/security-groups", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := groups.List(c.client, *opts).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	return groups.ExtractGroups(page)
}

// CreateSecurityGroup creates an empty security group, apart from the
// default egress rules neutron adds.
func (c *NetworkClient) CreateSecurityGroup(ctx context.Context, projectID, name, description string) (*groups.SecGroup, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/security-groups", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &groups.CreateOpts{
		Name:        name,
		Description: description,
		ProjectID:   projectID,
	}

	return groups.Create(ctx, c.client, opts).Extract()
}

// CreateSecurityGroupRule adds an IPv4 rule to a group.
func (c *NetworkClient) CreateSecurityGroupRule(ctx context.Context, projectID, groupID string, rule *SecurityGroupRule) (*rules.SecGroupRule, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/security-group-rules", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &rules.CreateOpts{
		ProjectID:      projectID,
		SecGroupID:     groupID,
		Direction:      rule.Direction,
		EtherType:      rules.EtherType4,
		Protocol:       rule.Protocol,
		PortRangeMin:   rule.PortRangeMin,
		PortRangeMax:   rule.PortRangeMax,
		RemoteIPPrefix: rule.RemoteIPPrefix,
	}

	return rules.Create(ctx, c.client, opts).Extract()
}

func (c *NetworkClient) DeleteSecurityGroup(ctx context.Context, groupID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/security-groups/"+groupID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return groups.Delete(ctx, c.client, groupID).ExtractErr()
}

// ListFloatingIPs lists all floating IPs owned by a project.
func (c *NetworkClient) ListFloatingIPs(ctx context.Context, projectID string) ([]floatingips.FloatingIP, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/floatingips", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := floatingips.List(c.client, floatingips.ListOpts{ProjectID: projectID}).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	return floatingips.ExtractFloatingIPs(page)
}

// CreateFloatingIP allocates an address from an external network.
func (c *NetworkClient) CreateFloatingIP(ctx context.Context, projectID, networkID string) (*floatingips.FloatingIP, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/floatingips", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &floatingips.CreateOpts{
		FloatingNetworkID: networkID,
		ProjectID:         projectID,
	}

	return floatingips.Create(ctx, c.client, opts).Extract()
}

// AssociateFloatingIP routes a floating IP to a port.
func (c *NetworkClient) AssociateFloatingIP(ctx context.Context, floatingIPID, portID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/floatingips/"+floatingIPID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &floatingips.UpdateOpts{
		PortID: ptr.To(portID),
	}

	return floatingips.Update(ctx, c.client, floatingIPID, opts).Err
}

func (c *NetworkClient) DeleteFloatingIP(ctx context.Context, floatingIPID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/floatingips/"+floatingIPID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return floatingips.Delete(ctx, c.client, floatingIPID).ExtractErr()
}

// GetQuota implements the providers.QuotaProvider interface.
func (c *NetworkClient) GetQuota(ctx context.Context, projectID string) (providers.Quota, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/quotas/"+projectID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	q, err := quotas.Get(ctx, c.client, projectID).Extract()
	if err != nil {
		return nil, err
	}

	quota := providers.Quota{
		"floatingip":          q.FloatingIP,
		"network":             q.Network,
		"port":                q.Port,
		"rbac_policy":         q.RBACPolicy,
		"router":              q.Router,
		"security_group":      q.SecurityGroup,
		"security_group_rule": q.SecurityGroupRule,
		"subnet":              q.Subnet,
		"subnetpool":          q.SubnetPool,
		"trunk":               q.Trunk,
	}

	return quota, nil
}

// UpdateQuota implements the providers.QuotaProvider interface.
//
//nolint:cyclop
func (c *NetworkClient) UpdateQuota(ctx context.Context, projectID string, quota providers.Quota) error {
	opts := &quotas.UpdateOpts{}

	for name, value := range quota {
		switch name {
		case "floatingip":
			opts.FloatingIP = ptr.To(value)
		case "network":
			opts.Network = ptr.To(value)
		case "port":
			opts.Port = ptr.To(value)
		case "rbac_policy":
			opts.RBACPolicy = ptr.To(value)
		case "router":
			opts.Router = ptr.To(value)
		case "security_group":
			opts.SecurityGroup = ptr.To(value)
		case "security_group_rule":
			opts.SecurityGroupRule = ptr.To(value)
		case "subnet":
			opts.Subnet = ptr.To(value)
		case "subnetpool":
			opts.SubnetPool = ptr.To(value)
		case "trunk":
			opts.Trunk = ptr.To(value)
		default:
			return fmt.Errorf("%w: %s.%s", providers.ErrUnknownQuotaField, providers.NetworkQuotas, name)
		}
	}

	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/networking/v2.0/quotas/"+projectID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return quotas.Update(ctx, c.client, projectID, opts).Err
}
