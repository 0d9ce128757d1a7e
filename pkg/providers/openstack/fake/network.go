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

package fake

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/layer3/floatingips"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/layer3/routers"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/rules"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"

	"github.com/unikorn-cloud/workload-generator/pkg/providers"
	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"
)

type network struct {
	c *Cloud
}

// Ensure the interface is implemented.
var _ openstack.NetworkInterface = &network{}

// SeedNetwork adds a bare network, used to provoke ambiguous lookups.
func (c *Cloud) SeedNetwork(projectID, name string) string {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	id := uuid.NewString()

	c.s.networks = append(c.s.networks, networks.Network{ID: id, Name: name, ProjectID: projectID})

	return id
}

func (n *network) GetNetwork(_ context.Context, projectID, name string) (*networks.Network, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.GetNetwork", name); err != nil {
		return nil, err
	}

	return one(filter(n.c.s.networks, func(x *networks.Network) bool { return x.ProjectID == projectID && x.Name == name }), "network", name)
}

func (n *network) GetExternalNetwork(_ context.Context, name string) (*networks.Network, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.GetExternalNetwork", name); err != nil {
		return nil, err
	}

	return one(filter(n.c.s.networks, func(x *networks.Network) bool { return x.Name == name && n.c.s.external[x.ID] }), "network", name)
}

func (n *network) CreateNetwork(_ context.Context, projectID, name string, mtu int) (*networks.Network, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.CreateNetwork", name, fmt.Sprintf("mtu=%d", mtu)); err != nil {
		return nil, err
	}

	network := networks.Network{
		ID:           uuid.NewString(),
		Name:         name,
		ProjectID:    projectID,
		TenantID:     projectID,
		AdminStateUp: true,
		Status:       "ACTIVE",
	}

	n.c.s.networks = append(n.c.s.networks, network)

	return &network, nil
}

func (n *network) DeleteNetwork(_ context.Context, networkID string) error {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.DeleteNetwork", networkID); err != nil {
		return err
	}

	i := index(n.c.s.networks, func(x *networks.Network) bool { return x.ID == networkID })
	if i < 0 {
		return responseError(http.MethodDelete, "networks/"+networkID, http.StatusNotFound)
	}

	if len(n.c.s.networks[i].Subnets) != 0 {
		return responseError(http.MethodDelete, "networks/"+networkID, http.StatusConflict)
	}

	n.c.s.networks = slices.Delete(n.c.s.networks, i, i+1)

	return nil
}

func (n *network) GetSubnet(_ context.Context, projectID, name string) (*subnets.Subnet, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.GetSubnet", name); err != nil {
		return nil, err
	}

	return one(filter(n.c.s.subnets, func(x *subnets.Subnet) bool { return x.ProjectID == projectID && x.Name == name }), "subnet", name)
}

func (n *network) GetSubnetByID(_ context.Context, subnetID string) (*subnets.Subnet, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.GetSubnetByID", subnetID); err != nil {
		return nil, err
	}

	i := index(n.c.s.subnets, func(x *subnets.Subnet) bool { return x.ID == subnetID })
	if i < 0 {
		return nil, fmt.Errorf("%w: subnet %s", openstack.ErrNotFound, subnetID)
	}

	subnet := n.c.s.subnets[i]

	return &subnet, nil
}

func (n *network) CreateSubnet(_ context.Context, options *openstack.SubnetOptions) (*subnets.Subnet, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.CreateSubnet", options.Name, options.CIDR); err != nil {
		return nil, err
	}

	i := index(n.c.s.networks, func(x *networks.Network) bool { return x.ID == options.NetworkID })
	if i < 0 {
		return nil, responseError(http.MethodPost, "subnets", http.StatusNotFound)
	}

	subnet := subnets.Subnet{
		ID:             uuid.NewString(),
		NetworkID:      options.NetworkID,
		Name:           options.Name,
		ProjectID:      options.ProjectID,
		TenantID:       options.ProjectID,
		CIDR:           options.CIDR,
		IPVersion:      4,
		EnableDHCP:     true,
		DNSNameservers: options.DNSNameservers,
	}

	n.c.s.subnets = append(n.c.s.subnets, subnet)
	n.c.s.networks[i].Subnets = append(n.c.s.networks[i].Subnets, subnet.ID)

	return &subnet, nil
}

func (n *network) DeleteSubnet(_ context.Context, subnetID string) error {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.DeleteSubnet", subnetID); err != nil {
		return err
	}

	i := index(n.c.s.subnets, func(x *subnets.Subnet) bool { return x.ID == subnetID })
	if i < 0 {
		return responseError(http.MethodDelete, "subnets/"+subnetID, http.StatusNotFound)
	}

	if index(n.c.s.ports, func(p *ports.Port) bool { return onSubnet(p, subnetID) }) >= 0 {
		return responseError(http.MethodDelete, "subnets/"+subnetID, http.StatusConflict)
	}

	networkID := n.c.s.subnets[i].NetworkID

	n.c.s.subnets = slices.Delete(n.c.s.subnets, i, i+1)

	if j := index(n.c.s.networks, func(x *networks.Network) bool { return x.ID == networkID }); j >= 0 {
		n.c.s.networks[j].Subnets = slices.DeleteFunc(n.c.s.networks[j].Subnets, func(id string) bool { return id == subnetID })
	}

	return nil
}

func onSubnet(port *ports.Port, subnetID string) bool {
	return slices.ContainsFunc(port.FixedIPs, func(ip ports.IP) bool { return ip.SubnetID == subnetID })
}

func (n *network) GetRouter(_ context.Context, projectID, name string) (*routers.Router, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.GetRouter", name); err != nil {
		return nil, err
	}

	return one(filter(n.c.s.routers, func(x *routers.Router) bool { return x.ProjectID == projectID && x.Name == name }), "router", name)
}

func (n *network) CreateRouter(_ context.Context, projectID, name string) (*routers.Router, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.CreateRouter", name); err != nil {
		return nil, err
	}

	router := routers.Router{
		ID:           uuid.NewString(),
		Name:         name,
		ProjectID:    projectID,
		TenantID:     projectID,
		AdminStateUp: true,
		Status:       "ACTIVE",
	}

	n.c.s.routers = append(n.c.s.routers, router)

	return &router, nil
}

func (n *network) SetRouterGateway(_ context.Context, routerID, networkID string) (*routers.Router, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.SetRouterGateway", routerID); err != nil {
		return nil, err
	}

	i := index(n.c.s.routers, func(x *routers.Router) bool { return x.ID == routerID })
	if i < 0 {
		return nil, responseError(http.MethodPut, "routers/"+routerID, http.StatusNotFound)
	}

	n.c.s.routers[i].GatewayInfo = routers.GatewayInfo{NetworkID: networkID}

	router := n.c.s.routers[i]

	return &router, nil
}

func (n *network) ClearRouterGateway(_ context.Context, routerID string) error {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.ClearRouterGateway", routerID); err != nil {
		return err
	}

	i := index(n.c.s.routers, func(x *routers.Router) bool { return x.ID == routerID })
	if i < 0 {
		return responseError(http.MethodPut, "routers/"+routerID, http.StatusNotFound)
	}

	n.c.s.routers[i].GatewayInfo = routers.GatewayInfo{}

	return nil
}

func (n *network) AddRouterSubnet(_ context.Context, routerID, subnetID string) error {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.AddRouterSubnet", routerID, subnetID); err != nil {
		return err
	}

	r := index(n.c.s.routers, func(x *routers.Router) bool { return x.ID == routerID })
	s := index(n.c.s.subnets, func(x *subnets.Subnet) bool { return x.ID == subnetID })

	if r < 0 || s < 0 {
		return responseError(http.MethodPut, "routers/"+routerID+"/add_router_interface", http.StatusNotFound)
	}

	port := ports.Port{
		ID:          uuid.NewString(),
		NetworkID:   n.c.s.subnets[s].NetworkID,
		ProjectID:   n.c.s.routers[r].ProjectID,
		DeviceID:    routerID,
		DeviceOwner: routerInterfaceOwner,
		FixedIPs: []ports.IP{
			{
				SubnetID:  subnetID,
				IPAddress: "192.168.200.1",
			},
		},
	}

	n.c.s.ports = append(n.c.s.ports, port)

	return nil
}

func (n *network) RemoveRouterSubnet(_ context.Context, routerID, subnetID string) error {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.RemoveRouterSubnet", routerID, subnetID); err != nil {
		return err
	}

	return n.removeInterface(routerID, func(p *ports.Port) bool { return onSubnet(p, subnetID) })
}

func (n *network) RemoveRouterPort(_ context.Context, routerID, portID string) error {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.RemoveRouterPort", routerID, portID); err != nil {
		return err
	}

	return n.removeInterface(routerID, func(p *ports.Port) bool { return p.ID == portID })
}

func (n *network) removeInterface(routerID string, f func(*ports.Port) bool) error {
	i := index(n.c.s.ports, func(p *ports.Port) bool {
		return p.DeviceID == routerID && p.DeviceOwner == routerInterfaceOwner && f(p)
	})

	if i < 0 {
		return responseError(http.MethodPut, "routers/"+routerID+"/remove_router_interface", http.StatusNotFound)
	}

	n.c.s.ports = slices.Delete(n.c.s.ports, i, i+1)

	return nil
}

func (n *network) DeleteRouter(_ context.Context, routerID string) error {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.DeleteRouter", routerID); err != nil {
		return err
	}

	i := index(n.c.s.routers, func(x *routers.Router) bool { return x.ID == routerID })
	if i < 0 {
		return responseError(http.MethodDelete, "routers/"+routerID, http.StatusNotFound)
	}

	if index(n.c.s.ports, func(p *ports.Port) bool { return p.DeviceID == routerID }) >= 0 {
		return responseError(http.MethodDelete, "routers/"+routerID, http.StatusConflict)
	}

	n.c.s.routers = slices.Delete(n.c.s.routers, i, i+1)

	return nil
}

func (n *network) ListPorts(_ context.Context, f *openstack.PortFilter) ([]ports.Port, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.ListPorts"); err != nil {
		return nil, err
	}

	result := filter(n.c.s.ports, func(p *ports.Port) bool {
		return (f.NetworkID == "" || p.NetworkID == f.NetworkID) &&
			(f.DeviceID == "" || p.DeviceID == f.DeviceID) &&
			(f.ProjectID == "" || p.ProjectID == f.ProjectID)
	})

	return result, nil
}

func (n *network) DeletePort(_ context.Context, portID string) error {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.DeletePort", portID); err != nil {
		return err
	}

	i := index(n.c.s.ports, func(p *ports.Port) bool { return p.ID == portID })
	if i < 0 {
		return responseError(http.MethodDelete, "ports/"+portID, http.StatusNotFound)
	}

	if n.c.s.ports[i].DeviceOwner == routerInterfaceOwner {
		return responseError(http.MethodDelete, "ports/"+portID, http.StatusConflict)
	}

	n.c.disassociate(portID)

	n.c.s.ports = slices.Delete(n.c.s.ports, i, i+1)

	return nil
}

func (n *network) GetSecurityGroup(_ context.Context, projectID, name string) (*groups.SecGroup, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.GetSecurityGroup", name); err != nil {
		return nil, err
	}

	return one(filter(n.c.s.groups, func(x *groups.SecGroup) bool { return x.ProjectID == projectID && x.Name == name }), "security group", name)
}

func (n *network) ListSecurityGroups(_ context.Context, projectID string) ([]groups.SecGroup, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.ListSecurityGroups", projectID); err != nil {
		return nil, err
	}

	return filter(n.c.s.groups, func(x *groups.SecGroup) bool { return x.ProjectID == projectID }), nil
}

func (n *network) CreateSecurityGroup(_ context.Context, projectID, name, description string) (*groups.SecGroup, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.CreateSecurityGroup", name); err != nil {
		return nil, err
	}

	group := groups.SecGroup{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		ProjectID:   projectID,
		TenantID:    projectID,
	}

	n.c.s.groups = append(n.c.s.groups, group)

	return &group, nil
}

func (n *network) CreateSecurityGroupRule(_ context.Context, projectID, groupID string, rule *openstack.SecurityGroupRule) (*rules.SecGroupRule, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.CreateSecurityGroupRule", string(rule.Direction), string(rule.Protocol)); err != nil {
		return nil, err
	}

	if index(n.c.s.groups, func(x *groups.SecGroup) bool { return x.ID == groupID }) < 0 {
		return nil, responseError(http.MethodPost, "security-group-rules", http.StatusNotFound)
	}

	result := rules.SecGroupRule{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		SecGroupID:     groupID,
		Direction:      string(rule.Direction),
		EtherType:      string(rules.EtherType4),
		Protocol:       string(rule.Protocol),
		PortRangeMin:   rule.PortRangeMin,
		PortRangeMax:   rule.PortRangeMax,
		RemoteIPPrefix: rule.RemoteIPPrefix,
	}

	n.c.s.rules = append(n.c.s.rules, result)

	return &result, nil
}

func (n *network) DeleteSecurityGroup(_ context.Context, groupID string) error {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.DeleteSecurityGroup", groupID); err != nil {
		return err
	}

	i := index(n.c.s.groups, func(x *groups.SecGroup) bool { return x.ID == groupID })
	if i < 0 {
		return responseError(http.MethodDelete, "security-groups/"+groupID, http.StatusNotFound)
	}

	n.c.s.groups = slices.Delete(n.c.s.groups, i, i+1)
	n.c.s.rules = slices.DeleteFunc(n.c.s.rules, func(r rules.SecGroupRule) bool { return r.SecGroupID == groupID })

	return nil
}

func (n *network) ListFloatingIPs(_ context.Context, projectID string) ([]floatingips.FloatingIP, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.ListFloatingIPs", projectID); err != nil {
		return nil, err
	}

	return filter(n.c.s.floatingIPs, func(f *floatingips.FloatingIP) bool { return f.ProjectID == projectID }), nil
}

func (n *network) CreateFloatingIP(_ context.Context, projectID, networkID string) (*floatingips.FloatingIP, error) {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.CreateFloatingIP", projectID); err != nil {
		return nil, err
	}

	if index(n.c.s.networks, func(x *networks.Network) bool { return x.ID == networkID }) < 0 {
		return nil, responseError(http.MethodPost, "floatingips", http.StatusNotFound)
	}

	fip := floatingips.FloatingIP{
		ID:                uuid.NewString(),
		FloatingNetworkID: networkID,
		FloatingIP:        fmt.Sprintf("203.0.113.%d", len(n.c.s.floatingIPs)+10),
		ProjectID:         projectID,
		TenantID:          projectID,
		Status:            "DOWN",
	}

	n.c.s.floatingIPs = append(n.c.s.floatingIPs, fip)

	return &fip, nil
}

// AssociateFloatingIP also makes the address visible on the server, as
// nova would report it.
func (n *network) AssociateFloatingIP(_ context.Context, floatingIPID, portID string) error {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.AssociateFloatingIP", floatingIPID, portID); err != nil {
		return err
	}

	f := index(n.c.s.floatingIPs, func(x *floatingips.FloatingIP) bool { return x.ID == floatingIPID })
	p := index(n.c.s.ports, func(x *ports.Port) bool { return x.ID == portID })

	if f < 0 || p < 0 {
		return responseError(http.MethodPut, "floatingips/"+floatingIPID, http.StatusNotFound)
	}

	n.c.s.floatingIPs[f].PortID = portID
	n.c.s.floatingIPs[f].Status = "ACTIVE"

	port := n.c.s.ports[p]

	s := index(n.c.s.servers, func(x *servers.Server) bool { return x.ID == port.DeviceID })
	if s < 0 {
		return nil
	}

	all := maps.Clone(n.c.s.servers[s].Addresses)

	for name, raw := range all {
		addresses, _ := raw.([]any)

		all[name] = append(slices.Clone(addresses), map[string]any{
			"addr":            n.c.s.floatingIPs[f].FloatingIP,
			"version":         float64(4),
			"OS-EXT-IPS:type": "floating",
		})

		break
	}

	n.c.s.servers[s].Addresses = all

	return nil
}

func (n *network) DeleteFloatingIP(_ context.Context, floatingIPID string) error {
	n.c.s.lock.Lock()
	defer n.c.s.lock.Unlock()

	if err := n.c.record("Network.DeleteFloatingIP", floatingIPID); err != nil {
		return err
	}

	i := index(n.c.s.floatingIPs, func(x *floatingips.FloatingIP) bool { return x.ID == floatingIPID })
	if i < 0 {
		return responseError(http.MethodDelete, "floatingips/"+floatingIPID, http.StatusNotFound)
	}

	n.c.s.floatingIPs = slices.Delete(n.c.s.floatingIPs, i, i+1)

	return nil
}

func (n *network) GetQuota(_ context.Context, projectID string) (providers.Quota, error) {
	return n.c.getQuota("Network.GetQuota", providers.NetworkQuotas, projectID)
}

func (n *network) UpdateQuota(_ context.Context, projectID string, quota providers.Quota) error {
	return n.c.updateQuota("Network.UpdateQuota", providers.NetworkQuotas, projectID, quota)
}

// disassociate unbinds floating IPs from a port, must be called with the
// lock held.
func (c *Cloud) disassociate(portID string) {
	for i := range c.s.floatingIPs {
		if c.s.floatingIPs[i].PortID == portID {
			c.s.floatingIPs[i].PortID = ""
			c.s.floatingIPs[i].Status = "DOWN"
		}
	}
}
