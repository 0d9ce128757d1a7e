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
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/domains"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/gophercloud/utils/v2/openstack/clientconfig"

	"github.com/unikorn-cloud/workload-generator/pkg/cloudsconfig"
	"github.com/unikorn-cloud/workload-generator/pkg/constants"
	"github.com/unikorn-cloud/workload-generator/pkg/inventory"
	"github.com/unikorn-cloud/workload-generator/pkg/metrics"
	"github.com/unikorn-cloud/workload-generator/pkg/providers"
	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"

	"k8s.io/utils/ptr"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Project is a project in a domain, along with its network and machines.
type Project struct {
	env *Environment

	domain *domains.Domain
	user   *User

	name string

	obj Binding[projects.Project]

	// network is nil until the project exists.
	network *Network

	machines map[string]*Machine

	// conn is the lazily opened project scoped connection.
	conn openstack.Cloud

	// proxyJump is the first floating IP handed out, machines without one
	// of their own are reached through it.
	proxyJump string
}

// newProject looks up a project by name.
func newProject(ctx context.Context, env *Environment, domain *domains.Domain, user *User, name string) (*Project, error) {
	identity, err := env.Cloud.Identity(ctx)
	if err != nil {
		return nil, err
	}

	project, err := identity.GetProject(ctx, domain.ID, name)

	obj, err := discover(project, err)
	if err != nil {
		return nil, err
	}

	return loadProject(ctx, env, domain, user, name, obj)
}

// loadProject discovers what already exists in a project.
func loadProject(ctx context.Context, env *Environment, domain *domains.Domain, user *User, name string, obj Binding[projects.Project]) (*Project, error) {
	p := &Project{
		env:      env,
		domain:   domain,
		user:     user,
		name:     name,
		obj:      obj,
		machines: map[string]*Machine{},
	}

	project, ok := obj.Get()
	if !ok {
		return p, nil
	}

	env.Idents.AddProject(project.ID, project.Name, domain.ID)

	network, err := newNetwork(ctx, env, env.Cloud, project)
	if err != nil {
		return nil, err
	}

	p.network = network

	compute, err := env.Cloud.Compute(ctx)
	if err != nil {
		return nil, err
	}

	servers, err := compute.ListServers(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	for i := range servers {
		p.machines[servers[i].Name] = boundMachine(env, env.Cloud, project, &servers[i])
	}

	return p, nil
}

// Name is the project name.
func (p *Project) Name() string {
	return p.name
}

// Project returns the project, if it exists.
func (p *Project) Project() (*projects.Project, bool) {
	return p.obj.Get()
}

// ProxyJump is the address machines without a floating IP are reached via.
func (p *Project) ProxyJump() string {
	return p.proxyJump
}

// ProjectConnection returns a connection scoped to the project as the
// domain's administrative user, opening it if required.
func (p *Project) ProjectConnection(ctx context.Context) (openstack.Cloud, error) {
	log := log.FromContext(ctx)

	if p.conn != nil {
		return p.conn, nil
	}

	obj, err := p.obj.Require("project", p.name)
	if err != nil {
		return nil, err
	}

	log.Info("establishing project connection", "project", p.env.Idents.Project(obj.ID))

	scope := &openstack.ProjectScope{
		DomainID:  p.domain.ID,
		ProjectID: obj.ID,
		Username:  p.user.Name(),
		Password:  p.user.Password(),
	}

	conn, err := p.env.Cloud.ConnectAs(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to project %s: %w", p.name, err)
	}

	p.conn = conn

	return conn, nil
}

// CloseConnection releases the project connection, if open.
func (p *Project) CloseConnection(ctx context.Context) error {
	if p.conn == nil {
		return nil
	}

	log := log.FromContext(ctx)

	if obj, ok := p.obj.Get(); ok {
		log.Info("closing project connection", "project", p.env.Idents.Project(obj.ID))
	}

	conn := p.conn
	p.conn = nil

	// Anything built on the project connection falls back to the admin one.
	if p.network != nil && p.network.cloud == conn {
		p.network.cloud = p.env.Cloud
	}

	for _, machine := range p.machines {
		if machine.cloud == conn {
			machine.cloud = p.env.Cloud
		}
	}

	return conn.Close(ctx)
}

// CreateAndGetProject creates the project if required, then reconciles its
// quotas and network.  New projects also get their role assignments.
func (p *Project) CreateAndGetProject(ctx context.Context) (*projects.Project, error) {
	log := log.FromContext(ctx)

	if obj, ok := p.obj.Get(); ok {
		log.Info("project already exists", "project", p.env.Idents.Project(obj.ID))

		if err := p.AdaptQuota(ctx); err != nil {
			return nil, err
		}

		if _, err := p.network.CreateAndGetNetworkSetup(ctx); err != nil {
			return nil, err
		}

		return obj, nil
	}

	identity, err := p.env.Cloud.Identity(ctx)
	if err != nil {
		return nil, err
	}

	obj, err := identity.CreateProject(ctx, p.domain.ID, p.name, "Auto generated")
	if err != nil {
		return nil, err
	}

	p.obj.Bind(obj)
	p.env.Idents.AddProject(obj.ID, obj.Name, p.domain.ID)
	p.env.Metrics.Record(metrics.Project, metrics.Created)

	log.Info("created project", "project", p.env.Idents.Project(obj.ID))

	if err := p.AdaptQuota(ctx); err != nil {
		return nil, err
	}

	roles := []struct {
		name      string
		mandatory bool
	}{
		{"manager", true},
		{"load-balancer_member", false},
		{"member", true},
	}

	for _, role := range roles {
		if err := p.assignRoleToUser(ctx, role.name, role.mandatory); err != nil {
			return nil, err
		}
	}

	conn, err := p.ProjectConnection(ctx)
	if err != nil {
		return nil, err
	}

	network, err := newNetwork(ctx, p.env, conn, obj)
	if err != nil {
		return nil, err
	}

	p.network = network

	if _, err := p.network.CreateAndGetNetworkSetup(ctx); err != nil {
		return nil, err
	}

	return obj, nil
}

// assignRoleToUser grants the domain user a role on the project.
func (p *Project) assignRoleToUser(ctx context.Context, role string, mandatory bool) error {
	log := log.FromContext(ctx)

	obj, err := p.obj.Require("project", p.name)
	if err != nil {
		return err
	}

	userID, err := p.user.ID()
	if err != nil {
		return err
	}

	roleID, ok, err := p.env.roleID(ctx, role, mandatory)
	if err != nil || !ok {
		return err
	}

	identity, err := p.env.Cloud.Identity(ctx)
	if err != nil {
		return err
	}

	if err := identity.AssignProjectRole(ctx, roleID, obj.ID, userID); err != nil {
		return err
	}

	p.env.Metrics.Record(metrics.Role, metrics.Created)

	log.Info("assigned role", "role", role, "user", p.user.Name(), "project", p.env.Idents.Project(obj.ID))

	return nil
}

// AdaptQuota brings every configured quota field in line with the profile,
// only fields that differ are sent to the cloud.
func (p *Project) AdaptQuota(ctx context.Context) error {
	log := log.FromContext(ctx)

	obj, err := p.obj.Require("project", p.name)
	if err != nil {
		return err
	}

	for _, category := range providers.QuotaCategories {
		desired, err := p.env.Config.Quota(category)
		if err != nil {
			return err
		}

		provider, err := openstack.QuotaProvider(ctx, p.env.Cloud, category)
		if err != nil {
			return err
		}

		current, err := provider.GetQuota(ctx, obj.ID)
		if err != nil {
			return err
		}

		changed, updates, err := providers.DiffQuota(category, current, desired)
		if err != nil {
			return err
		}

		if len(changed) == 0 {
			log.V(1).Info("quota unchanged", "category", category, "project", p.env.Idents.Project(obj.ID))

			continue
		}

		for _, update := range updates {
			log.Info("updating quota", "category", category, "field", update.Field, "current", update.Current, "desired", update.Desired, "project", p.env.Idents.Project(obj.ID))
		}

		if err := provider.UpdateQuota(ctx, obj.ID, changed); err != nil {
			return err
		}

		p.env.Metrics.Record(metrics.Quota, metrics.Updated)
	}

	return nil
}

// GetOrCreateSSHKey ensures the domain user has the administrative keypair.
func (p *Project) GetOrCreateSSHKey(ctx context.Context) error {
	log := log.FromContext(ctx)

	name, err := p.env.Config.AdminVMSSHKeypairName()
	if err != nil {
		return err
	}

	publicKey, err := p.env.Config.AdminVMSSHKey()
	if err != nil {
		return err
	}

	conn, err := p.ProjectConnection(ctx)
	if err != nil {
		return err
	}

	compute, err := conn.Compute(ctx)
	if err != nil {
		return err
	}

	keypair, err := compute.GetKeyPair(ctx, name)
	if err != nil && !openstack.IsNotFound(err) {
		return err
	}

	if keypair != nil {
		log.V(1).Info("keypair already exists", "keypair", name, "user", p.user.Name())

		return nil
	}

	if _, err := compute.CreateKeyPair(ctx, name, publicKey); err != nil {
		return err
	}

	p.env.Metrics.Record(metrics.KeyPair, metrics.Created)

	log.Info("created keypair", "keypair", name, "user", p.user.Name())

	return nil
}

// GetAndCreateMachines creates any missing machines and hands out floating
// IPs, machines are visited in name order so the same ones get addresses
// every time.  The project connection is closed afterwards.
func (p *Project) GetAndCreateMachines(ctx context.Context, names []string, wait bool) (err error) {
	log := log.FromContext(ctx)

	defer func() {
		if cerr := p.CloseConnection(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if slices.Contains(names, constants.NoneSentinel) {
		log.Info("not creating machines, none requested", "project", p.name)

		return nil
	}

	obj, err := p.obj.Require("project", p.name)
	if err != nil {
		return err
	}

	if p.network == nil {
		return fmt.Errorf("%w: project %s", ErrNoNetwork, p.name)
	}

	floatingIPs, err := p.env.Config.NumberOfFloatingIPsPerProject()
	if err != nil {
		return err
	}

	conn, err := p.ProjectConnection(ctx)
	if err != nil {
		return err
	}

	sorted := slices.Compact(slices.Sorted(slices.Values(names)))

	for _, name := range sorted {
		machine, ok := p.machines[name]
		if !ok {
			if machine, err = newMachine(ctx, p.env, conn, obj, name); err != nil {
				return err
			}

			if err := machine.CreateOrGetServer(ctx, p.network, wait); err != nil {
				return err
			}

			p.machines[name] = machine
		}

		if floatingIPs > 0 {
			if err := machine.AddFloatingIP(ctx); err != nil {
				return err
			}

			floatingIPs--

			if p.proxyJump == "" && machine.FloatingIP() != "" {
				p.proxyJump = machine.FloatingIP()
			}
		}
	}

	return nil
}

// GetMachines returns the tracked machines that were asked for.
func (p *Project) GetMachines(names []string) []*Machine {
	var result []*Machine

	for _, name := range names {
		if machine, ok := p.machines[name]; ok {
			result = append(result, machine)
		}
	}

	return result
}

// sortedMachines returns every tracked machine in name order.
func (p *Project) sortedMachines() []*Machine {
	names := slices.Sorted(maps.Keys(p.machines))

	return p.GetMachines(names)
}

// DumpInventoryHosts writes an ansible host file for every machine.
func (p *Project) DumpInventoryHosts(ctx context.Context, dir string) error {
	for _, machine := range p.sortedMachines() {
		if err := machine.Refresh(ctx); err != nil {
			return err
		}

		if err := machine.UpdateAssignedIPs(); err != nil {
			return err
		}

		server, err := machine.obj.Require("server", machine.Name())
		if err != nil {
			return err
		}

		if machine.InternalIP() == "" {
			return fmt.Errorf("%w: server %s", ErrNoAddress, machine.Name())
		}

		location := inventory.OpenStack{
			MachineID:     server.ID,
			MachineStatus: server.Status,
			Hypervisor:    server.HypervisorHostname,
			Domain:        p.domain.Name,
			Project:       p.name,
		}

		host, err := inventory.NewHost(location, machine.Name(), machine.FloatingIP(), machine.InternalIP(), p.proxyJump)
		if err != nil {
			return err
		}

		if _, err := host.Write(ctx, dir); err != nil {
			return err
		}
	}

	return nil
}

// CloudName is the clouds.yaml entry for the project.
func (p *Project) CloudName() string {
	return p.domain.Name + "-" + p.name
}

// GetCloudsYAMLData returns a clouds.yaml entry for the domain user
// scoped to the project.
func (p *Project) GetCloudsYAMLData() (*clientconfig.Cloud, error) {
	verify, err := p.env.Config.VerifySSLCertificate()
	if err != nil {
		return nil, err
	}

	endpoint := p.env.Cloud.Endpoint()

	cloud := &clientconfig.Cloud{
		AuthInfo: &clientconfig.AuthInfo{
			AuthURL:           endpoint.AuthURL,
			Username:          p.user.Name(),
			Password:          p.user.Password(),
			ProjectName:       p.name,
			ProjectDomainName: p.domain.Name,
			UserDomainName:    p.domain.Name,
		},
		Verify:             ptr.To(verify),
		CACertFile:         endpoint.CACertFile,
		IdentityAPIVersion: cloudsconfig.IdentityAPIVersion,
	}

	return cloud, nil
}

// DeleteMachines deletes the named machines, all deletes are issued before
// waiting for any of them.
func (p *Project) DeleteMachines(ctx context.Context, machines []*Machine) error {
	for _, machine := range machines {
		if err := machine.DeleteMachine(ctx); err != nil {
			return err
		}
	}

	for _, machine := range machines {
		if err := machine.WaitForDelete(ctx); err != nil {
			return err
		}

		delete(p.machines, machine.Name())
	}

	return nil
}

// DeleteProject tears down the project and everything in it.
func (p *Project) DeleteProject(ctx context.Context) error {
	log := log.FromContext(ctx)

	obj, ok := p.obj.Get()
	if !ok {
		return nil
	}

	if err := p.DeleteMachines(ctx, p.sortedMachines()); err != nil {
		return err
	}

	if p.network != nil {
		if err := p.network.DeleteNetwork(ctx); err != nil {
			return err
		}
	}

	log.Info("cleaning up project", "project", p.env.Idents.Project(obj.ID))

	p.cleanup(ctx, obj.ID)

	identity, err := p.env.Cloud.Identity(ctx)
	if err != nil {
		return err
	}

	log.Info("deleting project", "project", p.env.Idents.Project(obj.ID))

	if err := ignoreNotFound(identity.DeleteProject(ctx, obj.ID)); err != nil {
		return err
	}

	p.env.Metrics.Record(metrics.Project, metrics.Deleted)

	// The default group can only go once the project has.
	network, err := p.env.Cloud.Network(ctx)
	if err != nil {
		return err
	}

	groups, err := network.ListSecurityGroups(ctx, obj.ID)
	if err != nil {
		return err
	}

	for i := range groups {
		log.Info("deleting security group", "group", groups[i].Name, "id", groups[i].ID)

		if err := ignoreNotFound(network.DeleteSecurityGroup(ctx, groups[i].ID)); err != nil {
			return err
		}

		p.env.Metrics.Record(metrics.SecurityGroup, metrics.Deleted)
	}

	if p.network != nil {
		p.network.forgetSecurityGroups()
	}

	p.obj.Unbind()

	return nil
}

// cleanup removes anything left behind in the project.  There should be
// nothing, so failures are only logged.
func (p *Project) cleanup(ctx context.Context, projectID string) {
	log := log.FromContext(ctx)

	if err := p.sweep(ctx, projectID); err != nil {
		log.Error(err, "project cleanup failed", "project", p.env.Idents.Project(projectID))
	}

	if err := p.CloseConnection(ctx); err != nil {
		log.Error(err, "closing project connection failed", "project", p.env.Idents.Project(projectID))
	}
}

func (p *Project) sweep(ctx context.Context, projectID string) error {
	log := log.FromContext(ctx)

	conn, err := p.ProjectConnection(ctx)
	if err != nil {
		return err
	}

	compute, err := conn.Compute(ctx)
	if err != nil {
		return err
	}

	network, err := conn.Network(ctx)
	if err != nil {
		return err
	}

	servers, err := compute.ListServers(ctx, projectID)
	if err != nil {
		return err
	}

	for i := range servers {
		log.Info("deleting leftover server", "server", servers[i].Name, "id", servers[i].ID)

		if err := ignoreNotFound(compute.DeleteServer(ctx, servers[i].ID)); err != nil {
			return err
		}

		p.env.Metrics.Record(metrics.Server, metrics.Deleted)
	}

	floatingIPs, err := network.ListFloatingIPs(ctx, projectID)
	if err != nil {
		return err
	}

	for i := range floatingIPs {
		log.Info("releasing floating IP", "address", floatingIPs[i].FloatingIP, "id", floatingIPs[i].ID)

		if err := ignoreNotFound(network.DeleteFloatingIP(ctx, floatingIPs[i].ID)); err != nil {
			return err
		}

		p.env.Metrics.Record(metrics.FloatingIP, metrics.Deleted)
	}

	ports, err := network.ListPorts(ctx, &openstack.PortFilter{ProjectID: projectID})
	if err != nil {
		return err
	}

	for i := range ports {
		// Router owned ports go with their router.
		if strings.HasPrefix(ports[i].DeviceOwner, "network:") {
			continue
		}

		log.Info("deleting leftover port", "port", ports[i].ID)

		if err := ignoreNotFound(network.DeletePort(ctx, ports[i].ID)); err != nil {
			return err
		}

		p.env.Metrics.Record(metrics.Port, metrics.Deleted)
	}

	return nil
}
