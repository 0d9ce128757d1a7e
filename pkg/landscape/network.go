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

package landscape

import (
	"context"
	"slices"

	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/layer3/routers"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/rules"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"
	"github.com/unikorn-cloud/workload-generator/pkg/metrics"
	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// anywhere is the IPv4 prefix security group rules apply to.
	anywhere = "0.0.0.0/0"

	// routerInterfaceOwner is the device owner of ports attaching a
	// subnet to a router.
	routerInterfaceOwner = "network:router_interface"
)

// dnsNameservers are handed out by DHCP on project subnets.
//
//nolint:gochecknoglobals
var dnsNameservers = []string{"8.8.8.8", "9.9.9.9"}

// Network is a project's network, subnet, router and security groups.
type Network struct {
	env *Environment

	// cloud is the connection resources are created with.
	cloud openstack.Cloud

	project *projects.Project

	network      Binding[networks.Network]
	subnet       Binding[subnets.Subnet]
	router       Binding[routers.Router]
	ingressGroup Binding[groups.SecGroup]
	egressGroup  Binding[groups.SecGroup]
}

func networkName(project string) string {
	return constants.NetworkPrefix + project
}

func subnetName(project string) string {
	return constants.SubnetPrefix + project
}

func routerName(project string) string {
	return constants.RouterPrefix + project
}

func ingressGroupName(project string) string {
	return constants.IngressGroupPrefix + project
}

func egressGroupName(project string) string {
	return constants.EgressGroupPrefix + project
}

// newNetwork discovers any parts of the network that already exist.
func newNetwork(ctx context.Context, env *Environment, cloud openstack.Cloud, project *projects.Project) (*Network, error) {
	client, err := cloud.Network(ctx)
	if err != nil {
		return nil, err
	}

	n := &Network{
		env:     env,
		cloud:   cloud,
		project: project,
	}

	network, err := client.GetNetwork(ctx, project.ID, networkName(project.Name))
	if n.network, err = discover(network, err); err != nil {
		return nil, err
	}

	subnet, err := client.GetSubnet(ctx, project.ID, subnetName(project.Name))
	if n.subnet, err = discover(subnet, err); err != nil {
		return nil, err
	}

	router, err := client.GetRouter(ctx, project.ID, routerName(project.Name))
	if n.router, err = discover(router, err); err != nil {
		return nil, err
	}

	ingress, err := client.GetSecurityGroup(ctx, project.ID, ingressGroupName(project.Name))
	if n.ingressGroup, err = discover(ingress, err); err != nil {
		return nil, err
	}

	egress, err := client.GetSecurityGroup(ctx, project.ID, egressGroupName(project.Name))
	if n.egressGroup, err = discover(egress, err); err != nil {
		return nil, err
	}

	return n, nil
}

// Network returns the project network, if it exists.
func (n *Network) Network() (*networks.Network, bool) {
	return n.network.Get()
}

// SecurityGroupNames are the groups attached to servers.
func (n *Network) SecurityGroupNames() []string {
	return []string{
		ingressGroupName(n.project.Name),
		egressGroupName(n.project.Name),
	}
}

// CreateAndGetNetworkSetup creates whatever is missing, in dependency order.
func (n *Network) CreateAndGetNetworkSetup(ctx context.Context) (*networks.Network, error) {
	network, err := n.createAndGetNetwork(ctx)
	if err != nil {
		return nil, err
	}

	subnet, err := n.createAndGetSubnet(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := n.createAndGetRouter(ctx, subnet); err != nil {
		return nil, err
	}

	if _, err := n.createAndGetIngressGroup(ctx); err != nil {
		return nil, err
	}

	if _, err := n.createAndGetEgressGroup(ctx); err != nil {
		return nil, err
	}

	return network, nil
}

func (n *Network) createAndGetNetwork(ctx context.Context) (*networks.Network, error) {
	log := log.FromContext(ctx)

	if obj, ok := n.network.Get(); ok {
		return obj, nil
	}

	mtu, err := n.env.Config.NetworkMTU()
	if err != nil {
		return nil, err
	}

	client, err := n.cloud.Network(ctx)
	if err != nil {
		return nil, err
	}

	obj, err := client.CreateNetwork(ctx, n.project.ID, networkName(n.project.Name), mtu)
	if err != nil {
		return nil, err
	}

	n.network.Bind(obj)
	n.env.Metrics.Record(metrics.Network, metrics.Created)

	log.Info("created network", "network", obj.Name, "id", obj.ID, "project", n.env.Idents.Project(n.project.ID))

	return obj, nil
}

func (n *Network) createAndGetSubnet(ctx context.Context) (*subnets.Subnet, error) {
	log := log.FromContext(ctx)

	if obj, ok := n.subnet.Get(); ok {
		return obj, nil
	}

	network, err := n.network.Require("network", networkName(n.project.Name))
	if err != nil {
		return nil, err
	}

	cidr, err := n.env.Config.ProjectIPv4Subnet()
	if err != nil {
		return nil, err
	}

	client, err := n.cloud.Network(ctx)
	if err != nil {
		return nil, err
	}

	options := &openstack.SubnetOptions{
		ProjectID:      n.project.ID,
		NetworkID:      network.ID,
		Name:           subnetName(n.project.Name),
		CIDR:           cidr,
		DNSNameservers: dnsNameservers,
	}

	obj, err := client.CreateSubnet(ctx, options)
	if err != nil {
		return nil, err
	}

	n.subnet.Bind(obj)
	n.env.Metrics.Record(metrics.Subnet, metrics.Created)

	log.Info("created subnet", "subnet", obj.Name, "id", obj.ID, "cidr", cidr, "project", n.env.Idents.Project(n.project.ID))

	return obj, nil
}

// createAndGetRouter connects the subnet to the public network.  Without a
// public network the project is left isolated, which is not an error.
func (n *Network) createAndGetRouter(ctx context.Context, subnet *subnets.Subnet) (*routers.Router, error) {
	log := log.FromContext(ctx)

	publicName, err := n.env.Config.PublicNetwork()
	if err != nil {
		return nil, err
	}

	client, err := n.cloud.Network(ctx)
	if err != nil {
		return nil, err
	}

	public, err := client.GetExternalNetwork(ctx, publicName)
	if err != nil {
		if openstack.IsNotFound(err) {
			log.Error(err, "public network missing, not creating a router", "project", n.env.Idents.Project(n.project.ID))

			return nil, nil
		}

		return nil, err
	}

	if obj, ok := n.router.Get(); ok {
		return obj, nil
	}

	obj, err := client.CreateRouter(ctx, n.project.ID, routerName(n.project.Name))
	if err != nil {
		return nil, err
	}

	n.router.Bind(obj)
	n.env.Metrics.Record(metrics.Router, metrics.Created)

	log.Info("created router", "router", obj.Name, "id", obj.ID)

	if obj, err = client.SetRouterGateway(ctx, obj.ID, public.ID); err != nil {
		return nil, err
	}

	n.router.Bind(obj)

	log.Info("router gateway set", "router", obj.Name, "network", public.Name)

	if err := client.AddRouterSubnet(ctx, obj.ID, subnet.ID); err != nil {
		return nil, err
	}

	log.Info("subnet attached to router", "router", obj.Name, "subnet", subnet.Name)

	return obj, nil
}

// createSecurityGroup creates a group and its rules.
func (n *Network) createSecurityGroup(ctx context.Context, name, description string, groupRules []openstack.SecurityGroupRule) (*groups.SecGroup, error) {
	log := log.FromContext(ctx)

	client, err := n.cloud.Network(ctx)
	if err != nil {
		return nil, err
	}

	log.Info("creating security group", "group", name, "project", n.env.Idents.Project(n.project.ID))

	group, err := client.CreateSecurityGroup(ctx, n.project.ID, name, description)
	if err != nil {
		return nil, err
	}

	n.env.Metrics.Record(metrics.SecurityGroup, metrics.Created)

	for i := range groupRules {
		if _, err := client.CreateSecurityGroupRule(ctx, n.project.ID, group.ID, &groupRules[i]); err != nil {
			return nil, err
		}
	}

	return group, nil
}

func (n *Network) createAndGetIngressGroup(ctx context.Context) (*groups.SecGroup, error) {
	if obj, ok := n.ingressGroup.Get(); ok {
		return obj, nil
	}

	groupRules := []openstack.SecurityGroupRule{
		{
			Direction:      rules.DirIngress,
			Protocol:       rules.ProtocolICMP,
			RemoteIPPrefix: anywhere,
		},
		{
			Direction:      rules.DirIngress,
			Protocol:       rules.ProtocolTCP,
			PortRangeMin:   22,
			PortRangeMax:   22,
			RemoteIPPrefix: anywhere,
		},
	}

	obj, err := n.createSecurityGroup(ctx, ingressGroupName(n.project.Name), "Security group to allow SSH access to instances", groupRules)
	if err != nil {
		return nil, err
	}

	n.ingressGroup.Bind(obj)

	return obj, nil
}

func (n *Network) createAndGetEgressGroup(ctx context.Context) (*groups.SecGroup, error) {
	if obj, ok := n.egressGroup.Get(); ok {
		return obj, nil
	}

	groupRules := []openstack.SecurityGroupRule{
		{
			Direction:      rules.DirEgress,
			Protocol:       rules.ProtocolTCP,
			RemoteIPPrefix: anywhere,
		},
		{
			Direction:      rules.DirEgress,
			Protocol:       rules.ProtocolICMP,
			RemoteIPPrefix: anywhere,
		},
	}

	obj, err := n.createSecurityGroup(ctx, egressGroupName(n.project.Name), "Security group to allow outgoing access", groupRules)
	if err != nil {
		return nil, err
	}

	n.egressGroup.Bind(obj)

	return obj, nil
}

// DeleteNetwork tears down the router, then the subnets and anything still
// attached to them, then the network.  Security groups are left for the
// project to clean up.
func (n *Network) DeleteNetwork(ctx context.Context) error {
	if err := n.deleteRouter(ctx); err != nil {
		return err
	}

	return n.deleteNetwork(ctx)
}

func (n *Network) deleteRouter(ctx context.Context) error {
	log := log.FromContext(ctx)

	router, ok := n.router.Get()
	if !ok {
		return nil
	}

	client, err := n.cloud.Network(ctx)
	if err != nil {
		return err
	}

	interfaces, err := client.ListPorts(ctx, &openstack.PortFilter{DeviceID: router.ID})
	if err != nil {
		return err
	}

	for i := range interfaces {
		port := &interfaces[i]

		if port.DeviceOwner != routerInterfaceOwner || len(port.FixedIPs) == 0 {
			continue
		}

		subnetID := port.FixedIPs[0].SubnetID

		if err := ignoreNotFound(client.RemoveRouterSubnet(ctx, router.ID, subnetID)); err != nil {
			return err
		}

		log.Info("removed router interface", "router", router.Name, "subnet", subnetID)
	}

	if err := ignoreNotFound(client.ClearRouterGateway(ctx, router.ID)); err != nil {
		return err
	}

	log.Info("removed router gateway", "router", router.Name)

	if err := ignoreNotFound(client.DeleteRouter(ctx, router.ID)); err != nil {
		return err
	}

	n.router.Unbind()
	n.env.Metrics.Record(metrics.Router, metrics.Deleted)

	log.Info("deleted router", "router", router.Name, "id", router.ID)

	return nil
}

func (n *Network) deleteNetwork(ctx context.Context) error {
	log := log.FromContext(ctx)

	known, ok := n.network.Get()
	if !ok {
		return nil
	}

	client, err := n.cloud.Network(ctx)
	if err != nil {
		return err
	}

	// Subnets may have been added since discovery.
	network, err := client.GetNetwork(ctx, n.project.ID, known.Name)
	if err != nil {
		if openstack.IsNotFound(err) {
			log.Info("network already deleted", "network", known.Name)

			n.network.Unbind()
			n.subnet.Unbind()

			return nil
		}

		return err
	}

	for _, subnetID := range network.Subnets {
		if err := n.deleteSubnet(ctx, client, network, subnetID); err != nil {
			return err
		}
	}

	n.subnet.Unbind()

	if err := client.DeleteNetwork(ctx, network.ID); err != nil {
		return err
	}

	n.network.Unbind()
	n.env.Metrics.Record(metrics.Network, metrics.Deleted)

	log.Info("deleted network", "network", network.Name, "id", network.ID)

	return nil
}

// deleteSubnet clears out anything bound to the subnet first.  Router
// interfaces belong to routers we didn't create, so the router goes too.
func (n *Network) deleteSubnet(ctx context.Context, client openstack.NetworkInterface, network *networks.Network, subnetID string) error {
	log := log.FromContext(ctx)

	subnet, err := client.GetSubnetByID(ctx, subnetID)
	if err != nil {
		if openstack.IsNotFound(err) {
			log.Info("subnet already deleted", "subnet", subnetID)

			return nil
		}

		return err
	}

	bound, err := client.ListPorts(ctx, &openstack.PortFilter{NetworkID: network.ID})
	if err != nil {
		return err
	}

	bound = slices.DeleteFunc(bound, func(port ports.Port) bool {
		return !slices.ContainsFunc(port.FixedIPs, func(ip ports.IP) bool { return ip.SubnetID == subnet.ID })
	})

	for i := range bound {
		port := &bound[i]

		log.Info("deleting port", "port", port.ID, "owner", port.DeviceOwner)

		if port.DeviceOwner == routerInterfaceOwner {
			if err := ignoreNotFound(client.RemoveRouterPort(ctx, port.DeviceID, port.ID)); err != nil {
				return err
			}

			if err := ignoreNotFound(client.DeleteRouter(ctx, port.DeviceID)); err != nil {
				return err
			}

			continue
		}

		if err := ignoreNotFound(client.DeletePort(ctx, port.ID)); err != nil {
			return err
		}

		n.env.Metrics.Record(metrics.Port, metrics.Deleted)
	}

	if err := client.DeleteSubnet(ctx, subnet.ID); err != nil {
		if openstack.IsNotFound(err) {
			log.Info("subnet already deleted", "subnet", subnetID)

			return nil
		}

		return err
	}

	n.env.Metrics.Record(metrics.Subnet, metrics.Deleted)

	log.Info("deleted subnet", "subnet", subnet.Name, "project", n.env.Idents.Project(n.project.ID))

	return nil
}

// forgetSecurityGroups records the groups are gone, they are deleted along
// with any others left in the project.
func (n *Network) forgetSecurityGroups() {
	n.ingressGroup.Unbind()
	n.egressGroup.Unbind()
}
