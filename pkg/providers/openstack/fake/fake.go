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

// Package fake provides an in-memory cloud that records every call made
// against it.  Resources obey the same dependency rules as a real cloud,
// e.g. a subnet cannot be deleted while ports are bound to it, so tests
// exercise ordering as well as outcomes.
package fake

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/domains"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/roles"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/users"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
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

const (
	// AdminUserID owns resources created by the administrative connection.
	AdminUserID = "admin"

	// PublicNetwork is the name of the seeded external network.
	PublicNetwork = "public"

	// DefaultQuota is what every quota field starts out as.
	DefaultQuota = 10

	routerInterfaceOwner = "network:router_interface"
)

// Assignment is a role granted to a user on a domain or project.
type Assignment struct {
	RoleID    string
	UserID    string
	DomainID  string
	ProjectID string
}

type user struct {
	users.User

	password string
}

type store struct {
	lock sync.Mutex

	calls    []string
	failures map[string]error

	domains     []domains.Domain
	users       []user
	projects    []projects.Project
	roles       []roles.Role
	assignments []Assignment
	flavors     []flavors.Flavor
	images      []images.Image
	keypairs    map[string][]keypairs.KeyPair
	servers     []servers.Server
	networks    []networks.Network
	external    map[string]bool
	subnets     []subnets.Subnet
	routers     []routers.Router
	ports       []ports.Port
	groups      []groups.SecGroup
	rules       []rules.SecGroupRule
	floatingIPs []floatingips.FloatingIP
	quotas      map[providers.QuotaCategory]map[string]providers.Quota

	serverStatus string
	addresses    int
	connections  int
}

// Cloud implements openstack.Cloud in memory.  Scoped connections share
// the same backing store as the connection they were created from.
type Cloud struct {
	s *store

	scope *openstack.ProjectScope

	// closed connections have had their token revoked.
	closed bool
}

// Ensure the interface is implemented.
var _ openstack.Cloud = &Cloud{}

// New returns a cloud seeded with the usual roles, a flavor, an image and
// a public network.
func New() *Cloud {
	s := &store{
		failures:     map[string]error{},
		external:     map[string]bool{},
		keypairs:     map[string][]keypairs.KeyPair{},
		quotas:       map[providers.QuotaCategory]map[string]providers.Quota{},
		serverStatus: "ACTIVE",
	}

	for _, name := range []string{"admin", "manager", "member", "reader", "load-balancer_member"} {
		s.roles = append(s.roles, roles.Role{ID: uuid.NewString(), Name: name})
	}

	s.flavors = append(s.flavors, flavors.Flavor{ID: uuid.NewString(), Name: "SCS-1L-1", VCPUs: 1, RAM: 1024, IsPublic: true})
	s.images = append(s.images, images.Image{ID: uuid.NewString(), Name: "Ubuntu 24.04", Status: images.ImageStatusActive})
	public := networks.Network{ID: uuid.NewString(), Name: PublicNetwork, ProjectID: AdminUserID, Status: "ACTIVE", Shared: true}

	s.networks = append(s.networks, public)
	s.external[public.ID] = true

	return &Cloud{s: s}
}

// record journals a call and returns any injected failure.
func (c *Cloud) record(method string, args ...string) error {
	entry := strings.TrimSpace(method + " " + strings.Join(args, " "))

	c.s.calls = append(c.s.calls, entry)

	if c.closed {
		return responseError("", method, http.StatusUnauthorized)
	}

	if err, ok := c.s.failures[method]; ok {
		return err
	}

	return nil
}

// FailOn makes every subsequent call to a method, e.g. "Network.CreateRouter",
// return the error.
func (c *Cloud) FailOn(method string, err error) {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	c.s.failures[method] = err
}

// Calls returns the call journal.
func (c *Cloud) Calls() []string {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.calls)
}

// CallsMatching returns journal entries whose method contains the substring.
func (c *Cloud) CallsMatching(substr string) []string {
	var result []string

	for _, call := range c.Calls() {
		method, _, _ := strings.Cut(call, " ")

		if strings.Contains(method, substr) {
			result = append(result, call)
		}
	}

	return result
}

// ResetCalls clears the call journal.
func (c *Cloud) ResetCalls() {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	c.s.calls = nil
}

// OpenConnections returns the number of scoped connections not yet closed.
func (c *Cloud) OpenConnections() int {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return c.s.connections
}

// SetServerStatus sets the status of new servers, and existing ones.
func (c *Cloud) SetServerStatus(status string) {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	c.s.serverStatus = status

	for i := range c.s.servers {
		c.s.servers[i].Status = status
	}
}

// RemoveRole deletes a seeded role.
func (c *Cloud) RemoveRole(name string) {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	c.s.roles = slices.DeleteFunc(c.s.roles, func(r roles.Role) bool { return r.Name == name })
}

// RemovePublicNetwork deletes the seeded external network.
func (c *Cloud) RemovePublicNetwork() {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	c.s.networks = slices.DeleteFunc(c.s.networks, func(n networks.Network) bool { return n.Name == PublicNetwork && c.s.external[n.ID] })
}

// Domains returns all domains.
func (c *Cloud) Domains() []domains.Domain {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.domains)
}

// Projects returns all projects.
func (c *Cloud) Projects() []projects.Project {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.projects)
}

// Users returns all users.
func (c *Cloud) Users() []users.User {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	result := make([]users.User, len(c.s.users))

	for i := range c.s.users {
		result[i] = c.s.users[i].User
	}

	return result
}

// Assignments returns all role assignments.
func (c *Cloud) Assignments() []Assignment {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.assignments)
}

// RoleName resolves a role ID.
func (c *Cloud) RoleName(id string) string {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return c.roleName(id)
}

// Servers returns all servers.
func (c *Cloud) Servers() []servers.Server {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.servers)
}

// Networks returns all networks, including the public one.
func (c *Cloud) Networks() []networks.Network {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.networks)
}

// Subnets returns all subnets.
func (c *Cloud) Subnets() []subnets.Subnet {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.subnets)
}

// Routers returns all routers.
func (c *Cloud) Routers() []routers.Router {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.routers)
}

// Ports returns all ports.
func (c *Cloud) Ports() []ports.Port {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.ports)
}

// SecurityGroups returns all security groups.
func (c *Cloud) SecurityGroups() []groups.SecGroup {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.groups)
}

// SecurityGroupRules returns all security group rules.
func (c *Cloud) SecurityGroupRules() []rules.SecGroupRule {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.rules)
}

// FloatingIPs returns all floating IPs.
func (c *Cloud) FloatingIPs() []floatingips.FloatingIP {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.floatingIPs)
}

// KeyPairs returns the key pairs owned by a user.
func (c *Cloud) KeyPairs(userID string) []keypairs.KeyPair {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return slices.Clone(c.s.keypairs[userID])
}

// Quota returns a project's quota, or defaults if never set.
func (c *Cloud) Quota(category providers.QuotaCategory, projectID string) providers.Quota {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	return c.quota(category, projectID)
}

// quota must be called with the lock held.
func (c *Cloud) quota(category providers.QuotaCategory, projectID string) providers.Quota {
	byProject, ok := c.s.quotas[category]
	if !ok {
		byProject = map[string]providers.Quota{}
		c.s.quotas[category] = byProject
	}

	quota, ok := byProject[projectID]
	if !ok {
		quota = providers.Quota{}

		for _, field := range providers.QuotaFields[category] {
			quota[field] = DefaultQuota
		}

		byProject[projectID] = quota
	}

	return quota
}

// userID returns who the connection is acting as, must be called with the
// lock held.
func (c *Cloud) userID() string {
	if c.scope == nil {
		return AdminUserID
	}

	for _, u := range c.s.users {
		if u.Name == c.scope.Username && u.DomainID == c.scope.DomainID {
			return u.ID
		}
	}

	return ""
}

// Identity implements the openstack.Cloud interface.
func (c *Cloud) Identity(_ context.Context) (openstack.IdentityInterface, error) {
	return &identity{c: c}, nil
}

// Compute implements the openstack.Cloud interface.
func (c *Cloud) Compute(_ context.Context) (openstack.ComputeInterface, error) {
	return &compute{c: c}, nil
}

// Image implements the openstack.Cloud interface.
func (c *Cloud) Image(_ context.Context) (openstack.ImageInterface, error) {
	return &image{c: c}, nil
}

// Network implements the openstack.Cloud interface.
func (c *Cloud) Network(_ context.Context) (openstack.NetworkInterface, error) {
	return &network{c: c}, nil
}

// BlockStorage implements the openstack.Cloud interface.
func (c *Cloud) BlockStorage(_ context.Context) (openstack.BlockStorageInterface, error) {
	return &blockStorage{c: c}, nil
}

// ConnectAs implements the openstack.Cloud interface.  The user must
// exist with the right password and hold a role on the project.
func (c *Cloud) ConnectAs(_ context.Context, scope *openstack.ProjectScope) (openstack.Cloud, error) {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	if err := c.record("ConnectAs", scope.Username, scope.ProjectID); err != nil {
		return nil, err
	}

	var userID string

	for _, u := range c.s.users {
		if u.Name == scope.Username && u.DomainID == scope.DomainID && u.password == scope.Password {
			userID = u.ID
		}
	}

	if userID == "" {
		return nil, responseError(http.MethodPost, "auth/tokens", http.StatusUnauthorized)
	}

	authorized := slices.ContainsFunc(c.s.assignments, func(a Assignment) bool {
		return a.UserID == userID && a.ProjectID == scope.ProjectID
	})

	if !authorized {
		return nil, responseError(http.MethodPost, "auth/tokens", http.StatusUnauthorized)
	}

	c.s.connections++

	scoped := &Cloud{
		s:     c.s,
		scope: scope,
	}

	return scoped, nil
}

// Endpoint implements the openstack.Cloud interface.
func (c *Cloud) Endpoint() openstack.Endpoint {
	return openstack.Endpoint{
		AuthURL: "https://keystone.example.com:5000/v3",
		Verify:  true,
	}
}

// Close implements the openstack.Cloud interface.
func (c *Cloud) Close(_ context.Context) error {
	c.s.lock.Lock()
	defer c.s.lock.Unlock()

	if c.scope == nil {
		return nil
	}

	if err := c.record("Close", c.scope.ProjectID); err != nil {
		return err
	}

	c.closed = true
	c.s.connections--

	return nil
}

// responseError mimics what gophercloud returns for an API error.
func responseError(method, url string, status int) error {
	return gophercloud.ErrUnexpectedResponseCode{
		Method:   method,
		URL:      url,
		Expected: []int{http.StatusOK},
		Actual:   status,
	}
}

// one picks the single match of a lookup.
func one[T any](items []T, kind, name string) (*T, error) {
	switch len(items) {
	case 0:
		return nil, fmt.Errorf("%w: %s %s", openstack.ErrNotFound, kind, name)
	case 1:
		return &items[0], nil
	}

	return nil, fmt.Errorf("%w: %s %s", openstack.ErrAmbiguous, kind, name)
}

// filter returns copies of the items matching the predicate.
func filter[T any](items []T, f func(*T) bool) []T {
	var result []T

	for i := range items {
		if f(&items[i]) {
			result = append(result, items[i])
		}
	}

	return result
}

// index finds an item by predicate.
func index[T any](items []T, f func(*T) bool) int {
	for i := range items {
		if f(&items[i]) {
			return i
		}
	}

	return -1
}
