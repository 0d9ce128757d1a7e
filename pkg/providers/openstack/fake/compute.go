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
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"

	"github.com/unikorn-cloud/workload-generator/pkg/providers"
	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"
)

// Hypervisor is reported as the host of every server.
const Hypervisor = "compute-0"

type compute struct {
	c *Cloud
}

// Ensure the interface is implemented.
var _ openstack.ComputeInterface = &compute{}

// projectID resolves which project a server listing is for, scoped
// connections can only see their own.
func (c *compute) projectID(projectID string) string {
	if c.c.scope != nil {
		return c.c.scope.ProjectID
	}

	return projectID
}

func (c *compute) ListServers(_ context.Context, projectID string) ([]servers.Server, error) {
	c.c.s.lock.Lock()
	defer c.c.s.lock.Unlock()

	if err := c.c.record("Compute.ListServers", projectID); err != nil {
		return nil, err
	}

	projectID = c.projectID(projectID)

	return filter(c.c.s.servers, func(s *servers.Server) bool { return s.TenantID == projectID }), nil
}

func (c *compute) GetServer(_ context.Context, projectID, name string) (*servers.Server, error) {
	c.c.s.lock.Lock()
	defer c.c.s.lock.Unlock()

	if err := c.c.record("Compute.GetServer", name); err != nil {
		return nil, err
	}

	projectID = c.projectID(projectID)

	return one(filter(c.c.s.servers, func(s *servers.Server) bool { return s.TenantID == projectID && s.Name == name }), "server", name)
}

func (c *compute) GetServerByID(_ context.Context, serverID string) (*servers.Server, error) {
	c.c.s.lock.Lock()
	defer c.c.s.lock.Unlock()

	if err := c.c.record("Compute.GetServerByID", serverID); err != nil {
		return nil, err
	}

	n := index(c.c.s.servers, func(s *servers.Server) bool { return s.ID == serverID })
	if n < 0 {
		return nil, fmt.Errorf("%w: server %s", openstack.ErrNotFound, serverID)
	}

	server := c.c.s.servers[n]

	return &server, nil
}

// CreateServer needs a scoped connection, like the real thing the server
// is owned by the scoped project.  A port with a fixed address is created
// on the requested network.
//
//nolint:cyclop
func (c *compute) CreateServer(_ context.Context, options *openstack.ServerOptions) (*servers.Server, error) {
	c.c.s.lock.Lock()
	defer c.c.s.lock.Unlock()

	if err := c.c.record("Compute.CreateServer", options.Name); err != nil {
		return nil, err
	}

	if c.c.scope == nil {
		return nil, responseError(http.MethodPost, "servers", http.StatusBadRequest)
	}

	if index(c.c.s.flavors, func(f *flavors.Flavor) bool { return f.ID == options.FlavorID }) < 0 {
		return nil, responseError(http.MethodPost, "servers", http.StatusBadRequest)
	}

	if index(c.c.s.images, func(i *images.Image) bool { return i.ID == options.ImageID }) < 0 {
		return nil, responseError(http.MethodPost, "servers", http.StatusBadRequest)
	}

	if options.KeyName != "" && index(c.c.s.keypairs[c.c.userID()], func(k *keypairs.KeyPair) bool { return k.Name == options.KeyName }) < 0 {
		return nil, responseError(http.MethodPost, "servers", http.StatusBadRequest)
	}

	n := index(c.c.s.networks, func(n *networks.Network) bool { return n.ID == options.NetworkID })
	if n < 0 {
		return nil, responseError(http.MethodPost, "servers", http.StatusBadRequest)
	}

	network := c.c.s.networks[n]

	if len(network.Subnets) == 0 {
		return nil, responseError(http.MethodPost, "servers", http.StatusBadRequest)
	}

	c.c.s.addresses++

	address := fmt.Sprintf("192.168.200.%d", c.c.s.addresses+1)

	server := servers.Server{
		ID:                 uuid.NewString(),
		TenantID:           c.c.scope.ProjectID,
		UserID:             c.c.userID(),
		Name:               options.Name,
		Status:             c.c.s.serverStatus,
		KeyName:            options.KeyName,
		HypervisorHostname: Hypervisor,
		Addresses: map[string]any{
			network.Name: []any{
				map[string]any{
					"addr":            address,
					"version":         float64(4),
					"OS-EXT-IPS:type": "fixed",
				},
			},
		},
	}

	for _, group := range options.SecurityGroups {
		server.SecurityGroups = append(server.SecurityGroups, map[string]any{"name": group})
	}

	port := ports.Port{
		ID:          uuid.NewString(),
		NetworkID:   network.ID,
		ProjectID:   c.c.scope.ProjectID,
		DeviceID:    server.ID,
		DeviceOwner: "compute:nova",
		FixedIPs: []ports.IP{
			{
				SubnetID:  network.Subnets[0],
				IPAddress: address,
			},
		},
	}

	c.c.s.servers = append(c.c.s.servers, server)
	c.c.s.ports = append(c.c.s.ports, port)

	return &server, nil
}

// DeleteServer removes the server and its ports, floating IPs are
// disassociated but not released.
func (c *compute) DeleteServer(_ context.Context, serverID string) error {
	c.c.s.lock.Lock()
	defer c.c.s.lock.Unlock()

	if err := c.c.record("Compute.DeleteServer", serverID); err != nil {
		return err
	}

	n := index(c.c.s.servers, func(s *servers.Server) bool { return s.ID == serverID })
	if n < 0 {
		return responseError(http.MethodDelete, "servers/"+serverID, http.StatusNotFound)
	}

	c.c.s.servers = slices.Delete(c.c.s.servers, n, n+1)

	for _, port := range filter(c.c.s.ports, func(p *ports.Port) bool { return p.DeviceID == serverID }) {
		c.c.disassociate(port.ID)
	}

	c.c.s.ports = slices.DeleteFunc(c.c.s.ports, func(p ports.Port) bool { return p.DeviceID == serverID })

	return nil
}

func (c *compute) setStatus(method, serverID, from, to string) error {
	c.c.s.lock.Lock()
	defer c.c.s.lock.Unlock()

	if err := c.c.record(method, serverID); err != nil {
		return err
	}

	n := index(c.c.s.servers, func(s *servers.Server) bool { return s.ID == serverID })
	if n < 0 {
		return responseError(http.MethodPost, "servers/"+serverID+"/action", http.StatusNotFound)
	}

	if c.c.s.servers[n].Status != from {
		return responseError(http.MethodPost, "servers/"+serverID+"/action", http.StatusConflict)
	}

	c.c.s.servers[n].Status = to

	return nil
}

func (c *compute) StartServer(_ context.Context, serverID string) error {
	return c.setStatus("Compute.StartServer", serverID, "SHUTOFF", "ACTIVE")
}

func (c *compute) StopServer(_ context.Context, serverID string) error {
	return c.setStatus("Compute.StopServer", serverID, "ACTIVE", "SHUTOFF")
}

func (c *compute) Flavors(_ context.Context) ([]flavors.Flavor, error) {
	c.c.s.lock.Lock()
	defer c.c.s.lock.Unlock()

	if err := c.c.record("Compute.Flavors"); err != nil {
		return nil, err
	}

	return slices.Clone(c.c.s.flavors), nil
}

func (c *compute) GetKeyPair(_ context.Context, name string) (*keypairs.KeyPair, error) {
	c.c.s.lock.Lock()
	defer c.c.s.lock.Unlock()

	if err := c.c.record("Compute.GetKeyPair", name); err != nil {
		return nil, err
	}

	return one(filter(c.c.s.keypairs[c.c.userID()], func(k *keypairs.KeyPair) bool { return k.Name == name }), "keypair", name)
}

func (c *compute) CreateKeyPair(_ context.Context, name, publicKey string) (*keypairs.KeyPair, error) {
	c.c.s.lock.Lock()
	defer c.c.s.lock.Unlock()

	if err := c.c.record("Compute.CreateKeyPair", name); err != nil {
		return nil, err
	}

	userID := c.c.userID()

	if index(c.c.s.keypairs[userID], func(k *keypairs.KeyPair) bool { return k.Name == name }) >= 0 {
		return nil, responseError(http.MethodPost, "os-keypairs", http.StatusConflict)
	}

	keypair := keypairs.KeyPair{
		Name:      name,
		PublicKey: publicKey,
		UserID:    userID,
	}

	c.c.s.keypairs[userID] = append(c.c.s.keypairs[userID], keypair)

	return &keypair, nil
}

func (c *compute) GetQuota(_ context.Context, projectID string) (providers.Quota, error) {
	return c.c.getQuota("Compute.GetQuota", providers.ComputeQuotas, projectID)
}

func (c *compute) UpdateQuota(_ context.Context, projectID string, quota providers.Quota) error {
	return c.c.updateQuota("Compute.UpdateQuota", providers.ComputeQuotas, projectID, quota)
}

type blockStorage struct {
	c *Cloud
}

// Ensure the interface is implemented.
var _ openstack.BlockStorageInterface = &blockStorage{}

func (b *blockStorage) GetQuota(_ context.Context, projectID string) (providers.Quota, error) {
	return b.c.getQuota("BlockStorage.GetQuota", providers.BlockStorageQuotas, projectID)
}

func (b *blockStorage) UpdateQuota(_ context.Context, projectID string, quota providers.Quota) error {
	return b.c.updateQuota("BlockStorage.UpdateQuota", providers.BlockStorageQuotas, projectID, quota)
}

type image struct {
	c *Cloud
}

// Ensure the interface is implemented.
var _ openstack.ImageInterface = &image{}

func (i *image) Images(_ context.Context) ([]images.Image, error) {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Image.Images"); err != nil {
		return nil, err
	}

	return slices.Clone(i.c.s.images), nil
}

func (c *Cloud) getQuota(method string, category providers.QuotaCategory, projectID string) (providers.Quota, error) {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	if err := c.record(method, projectID); err != nil {
		return nil, err
	}

	return maps.Clone(c.quota(category, projectID)), nil
}

func (c *Cloud) updateQuota(method string, category providers.QuotaCategory, projectID string, quota providers.Quota) error {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	args := []string{projectID}

	for _, field := range quota.Fields() {
		args = append(args, fmt.Sprintf("%s=%d", field, quota[field]))
	}

	if err := c.record(method, args...); err != nil {
		return err
	}

	current := c.quota(category, projectID)

	for k, v := range quota {
		if _, ok := current[k]; !ok {
			return responseError(http.MethodPut, "quotas/"+projectID, http.StatusBadRequest)
		}

		current[k] = v
	}

	return nil
}
