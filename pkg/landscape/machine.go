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
	"encoding/base64"
	"fmt"
	"slices"
	"strings"

	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"

	"github.com/unikorn-cloud/workload-generator/pkg/lookup"
	"github.com/unikorn-cloud/workload-generator/pkg/metrics"
	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"

	"k8s.io/apimachinery/pkg/util/wait"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	serverActive = "ACTIVE"
	serverError  = "ERROR"

	addressTypeKey = "OS-EXT-IPS:type"
	addressKey     = "addr"

	addressFloating = "floating"
	addressFixed    = "fixed"
)

// Machine is a server in a project.
type Machine struct {
	env *Environment

	// cloud is the connection the server is managed with.  Refreshes and
	// waits go through the administrative connection as this one may
	// have been closed.
	cloud openstack.Cloud

	project *projects.Project

	name string

	obj Binding[servers.Server]

	floatingIP string
	internalIP string
}

// newMachine looks up a server by name.
func newMachine(ctx context.Context, env *Environment, cloud openstack.Cloud, project *projects.Project, name string) (*Machine, error) {
	compute, err := cloud.Compute(ctx)
	if err != nil {
		return nil, err
	}

	server, err := compute.GetServer(ctx, project.ID, name)

	obj, err := discover(server, err)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		env:     env,
		cloud:   cloud,
		project: project,
		name:    name,
		obj:     obj,
	}

	return m, nil
}

// boundMachine wraps a server found by listing.
func boundMachine(env *Environment, cloud openstack.Cloud, project *projects.Project, server *servers.Server) *Machine {
	return &Machine{
		env:     env,
		cloud:   cloud,
		project: project,
		name:    server.Name,
		obj:     Bound(server),
	}
}

// Name is the server name.
func (m *Machine) Name() string {
	return m.name
}

// Server returns the server, if it exists.
func (m *Machine) Server() (*servers.Server, bool) {
	return m.obj.Get()
}

// FloatingIP is the externally reachable address, if any.
func (m *Machine) FloatingIP() string {
	return m.floatingIP
}

// InternalIP is the project network address, if any.
func (m *Machine) InternalIP() string {
	return m.internalIP
}

// userData is the cloud-init script, base64 encoded.
func (m *Machine) userData() ([]byte, error) {
	script, err := m.env.Config.CloudInitExtraScript()
	if err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(script))

	return []byte(encoded), nil
}

// CreateOrGetServer boots the server from a volume if it doesn't exist.
//
//nolint:cyclop
func (m *Machine) CreateOrGetServer(ctx context.Context, network *Network, wait bool) error {
	log := log.FromContext(ctx).WithValues("server", m.name, "project", m.env.Idents.Project(m.project.ID))

	if obj, ok := m.obj.Get(); ok {
		log.Info("server already exists", "id", obj.ID)

		return nil
	}

	projectNetwork, ok := network.Network()
	if !ok {
		return fmt.Errorf("%w: project %s", ErrNoNetwork, m.project.Name)
	}

	flavorName, err := m.env.Config.VMFlavor()
	if err != nil {
		return err
	}

	imageName, err := m.env.Config.VMImage()
	if err != nil {
		return err
	}

	volumeSize, err := m.env.Config.VMVolumeSizeGB()
	if err != nil {
		return err
	}

	keyName, err := m.env.Config.AdminVMSSHKeypairName()
	if err != nil {
		return err
	}

	password, err := m.env.Config.AdminVMPassword()
	if err != nil {
		return err
	}

	userData, err := m.userData()
	if err != nil {
		return err
	}

	compute, err := m.cloud.Compute(ctx)
	if err != nil {
		return err
	}

	image, err := m.cloud.Image(ctx)
	if err != nil {
		return err
	}

	flavorID, err := m.env.flavorID(ctx, compute, flavorName)
	if err != nil {
		return err
	}

	imageID, err := m.env.imageID(ctx, image, imageName)
	if err != nil {
		return err
	}

	options := &openstack.ServerOptions{
		Name:           m.name,
		Description:    "automatically created",
		FlavorID:       flavorID,
		ImageID:        imageID,
		NetworkID:      projectNetwork.ID,
		KeyName:        keyName,
		AdminPass:      password,
		SecurityGroups: network.SecurityGroupNames(),
		UserData:       userData,
		VolumeSizeGB:   volumeSize,
	}

	obj, err := compute.CreateServer(ctx, options)
	if err != nil {
		// The flavor or image may have been replaced since they were listed.
		if openstack.IsNotFound(err) {
			m.env.Lookups.Forget(lookup.Flavor, flavorName)
			m.env.Lookups.Forget(lookup.Image, imageName)
		}

		return err
	}

	m.obj.Bind(obj)
	m.env.Metrics.Record(metrics.Server, metrics.Created)

	log.Info("created server", "id", obj.ID)

	if wait {
		return m.waitForStatus(ctx, serverActive)
	}

	return nil
}

// Refresh re-reads the server.
func (m *Machine) Refresh(ctx context.Context) error {
	obj, err := m.obj.Require("server", m.name)
	if err != nil {
		return err
	}

	compute, err := m.env.Cloud.Compute(ctx)
	if err != nil {
		return err
	}

	server, err := compute.GetServerByID(ctx, obj.ID)
	if err != nil {
		return err
	}

	m.obj.Bind(server)

	return nil
}

// UpdateAssignedIPs reads the floating and fixed addresses from the server.
// A server has at most one of each.
func (m *Machine) UpdateAssignedIPs() error {
	obj, err := m.obj.Require("server", m.name)
	if err != nil {
		return err
	}

	var floatingIP, internalIP string

	// Sorted so errors are reproducible.
	names := make([]string, 0, len(obj.Addresses))

	for name := range obj.Addresses {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		addresses, ok := obj.Addresses[name].([]any)
		if !ok {
			return fmt.Errorf("%w: server %s network %s addresses are malformed", ErrConsistency, m.name, name)
		}

		for _, raw := range addresses {
			address, ok := raw.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: server %s network %s address is malformed", ErrConsistency, m.name, name)
			}

			addr, _ := address[addressKey].(string)
			addressType, _ := address[addressTypeKey].(string)

			switch addressType {
			case addressFloating:
				if floatingIP != "" && floatingIP != addr {
					return fmt.Errorf("%w: server %s has more than one address of type %s", ErrConsistency, m.name, addressType)
				}

				floatingIP = addr
			case addressFixed:
				if internalIP != "" && internalIP != addr {
					return fmt.Errorf("%w: server %s has more than one address of type %s", ErrConsistency, m.name, addressType)
				}

				internalIP = addr
			default:
				return fmt.Errorf("%w: server %s address type %q", ErrNotImplemented, m.name, addressType)
			}
		}
	}

	m.floatingIP = floatingIP
	m.internalIP = internalIP

	return nil
}

// AddFloatingIP attaches a floating IP to the server's first port unless it
// already has one.  Without a public network this does nothing.
func (m *Machine) AddFloatingIP(ctx context.Context) error {
	log := log.FromContext(ctx).WithValues("server", m.name, "project", m.env.Idents.Project(m.project.ID))

	obj, err := m.obj.Require("server", m.name)
	if err != nil {
		return err
	}

	publicName, err := m.env.Config.PublicNetwork()
	if err != nil {
		return err
	}

	network, err := m.cloud.Network(ctx)
	if err != nil {
		return err
	}

	public, err := network.GetExternalNetwork(ctx, publicName)
	if err != nil {
		if openstack.IsNotFound(err) {
			log.Error(err, "public network missing, not adding a floating IP")

			return nil
		}

		return err
	}

	if err := m.Refresh(ctx); err != nil {
		return err
	}

	if err := m.UpdateAssignedIPs(); err != nil {
		return err
	}

	if m.floatingIP != "" {
		log.Info("floating IP already attached", "address", m.floatingIP)

		return nil
	}

	if err := m.waitForStatus(ctx, serverActive); err != nil {
		return err
	}

	serverPorts, err := network.ListPorts(ctx, &openstack.PortFilter{DeviceID: obj.ID})
	if err != nil {
		return err
	}

	if len(serverPorts) == 0 {
		return fmt.Errorf("%w: server %s has no ports", ErrNoAddress, m.name)
	}

	floatingIP, err := network.CreateFloatingIP(ctx, m.project.ID, public.ID)
	if err != nil {
		return err
	}

	m.env.Metrics.Record(metrics.FloatingIP, metrics.Created)

	if err := network.AssociateFloatingIP(ctx, floatingIP.ID, serverPorts[0].ID); err != nil {
		if derr := network.DeleteFloatingIP(ctx, floatingIP.ID); derr != nil {
			log.Error(derr, "failed to release floating IP", "address", floatingIP.FloatingIP)
		} else {
			m.env.Metrics.Record(metrics.FloatingIP, metrics.Deleted)
		}

		return err
	}

	m.floatingIP = floatingIP.FloatingIP

	log.Info("attached floating IP", "address", m.floatingIP)

	return nil
}

// waitForStatus polls until the server reaches the status.
func (m *Machine) waitForStatus(ctx context.Context, status string) error {
	log := log.FromContext(ctx)

	obj, err := m.obj.Require("server", m.name)
	if err != nil {
		return err
	}

	timeout, err := m.env.serverTimeout()
	if err != nil {
		return err
	}

	compute, err := m.env.Cloud.Compute(ctx)
	if err != nil {
		return err
	}

	log.V(1).Info("waiting for server", "server", m.name, "status", status)

	condition := func(ctx context.Context) (bool, error) {
		server, err := compute.GetServerByID(ctx, obj.ID)
		if err != nil {
			return false, err
		}

		m.obj.Bind(server)

		if server.Status == serverError && status != serverError {
			return false, fmt.Errorf("%w: server %s is in %s state", ErrConsistency, m.name, server.Status)
		}

		return strings.EqualFold(server.Status, status), nil
	}

	if err := wait.PollUntilContextTimeout(ctx, m.env.PollInterval, timeout, true, condition); err != nil {
		return fmt.Errorf("server %s did not become %s: %w", m.name, status, err)
	}

	return nil
}

// DeleteMachine requests deletion, use WaitForDelete to block until it's
// gone so a batch of deletes can run at once.
func (m *Machine) DeleteMachine(ctx context.Context) error {
	log := log.FromContext(ctx)

	obj, ok := m.obj.Get()
	if !ok {
		return nil
	}

	compute, err := m.env.Cloud.Compute(ctx)
	if err != nil {
		return err
	}

	log.Info("deleting server", "server", m.name, "id", obj.ID, "project", m.env.Idents.Project(m.project.ID))

	if err := ignoreNotFound(compute.DeleteServer(ctx, obj.ID)); err != nil {
		return err
	}

	m.env.Metrics.Record(metrics.Server, metrics.Deleted)

	return nil
}

// WaitForDelete blocks until the server no longer exists.
func (m *Machine) WaitForDelete(ctx context.Context) error {
	log := log.FromContext(ctx)

	obj, ok := m.obj.Get()
	if !ok {
		return nil
	}

	timeout, err := m.env.serverTimeout()
	if err != nil {
		return err
	}

	compute, err := m.env.Cloud.Compute(ctx)
	if err != nil {
		return err
	}

	condition := func(ctx context.Context) (bool, error) {
		if _, err := compute.GetServerByID(ctx, obj.ID); err != nil {
			if openstack.IsNotFound(err) {
				return true, nil
			}

			return false, err
		}

		return false, nil
	}

	if err := wait.PollUntilContextTimeout(ctx, m.env.PollInterval, timeout, true, condition); err != nil {
		return fmt.Errorf("server %s was not deleted: %w", m.name, err)
	}

	m.obj.Unbind()
	m.floatingIP = ""
	m.internalIP = ""

	log.Info("server deleted", "server", m.name, "project", m.env.Idents.Project(m.project.ID))

	return nil
}

// StartServer starts the server unless it's already running.
func (m *Machine) StartServer(ctx context.Context) error {
	log := log.FromContext(ctx)

	obj, err := m.obj.Require("server", m.name)
	if err != nil {
		return err
	}

	if obj.Status == serverActive {
		log.Info("server already running", "server", m.name)

		return nil
	}

	compute, err := m.env.Cloud.Compute(ctx)
	if err != nil {
		return err
	}

	if err := compute.StartServer(ctx, obj.ID); err != nil {
		return err
	}

	log.Info("server started", "server", m.name)

	return m.Refresh(ctx)
}

// StopServer stops the server if it's running.
func (m *Machine) StopServer(ctx context.Context) error {
	log := log.FromContext(ctx)

	obj, err := m.obj.Require("server", m.name)
	if err != nil {
		return err
	}

	if obj.Status != serverActive {
		log.Info("server not running", "server", m.name)

		return nil
	}

	compute, err := m.env.Cloud.Compute(ctx)
	if err != nil {
		return err
	}

	if err := compute.StopServer(ctx, obj.ID); err != nil {
		return err
	}

	log.Info("server stopped", "server", m.name)

	return m.Refresh(ctx)
}
