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
)

// IdentityInterface is the subset of keystone needed to manage domains,
// their admin users and projects.
type IdentityInterface interface {
	GetDomain(ctx context.Context, name string) (*domains.Domain, error)
	CreateDomain(ctx context.Context, name, description string) (*domains.Domain, error)
	DisableDomain(ctx context.Context, domainID string) error
	DeleteDomain(ctx context.Context, domainID string) error

	GetUser(ctx context.Context, domainID, name string) (*users.User, error)
	CreateUser(ctx context.Context, domainID, name, password string) (*users.User, error)
	DeleteUser(ctx context.Context, userID string) error

	ListProjects(ctx context.Context, domainID string) ([]projects.Project, error)
	GetProject(ctx context.Context, domainID, name string) (*projects.Project, error)
	CreateProject(ctx context.Context, domainID, name, description string) (*projects.Project, error)
	DeleteProject(ctx context.Context, projectID string) error

	ListRoles(ctx context.Context) ([]roles.Role, error)
	AssignDomainRole(ctx context.Context, roleID, domainID, userID string) error
	AssignProjectRole(ctx context.Context, roleID, projectID, userID string) error
}

// ComputeInterface manages servers, keypairs and compute quotas.
type ComputeInterface interface {
	providers.QuotaProvider

	ListServers(ctx context.Context, projectID string) ([]servers.Server, error)
	GetServer(ctx context.Context, projectID, name string) (*servers.Server, error)
	GetServerByID(ctx context.Context, serverID string) (*servers.Server, error)
	CreateServer(ctx context.Context, options *ServerOptions) (*servers.Server, error)
	DeleteServer(ctx context.Context, serverID string) error
	StartServer(ctx context.Context, serverID string) error
	StopServer(ctx context.Context, serverID string) error

	Flavors(ctx context.Context) ([]flavors.Flavor, error)

	GetKeyPair(ctx context.Context, name string) (*keypairs.KeyPair, error)
	CreateKeyPair(ctx context.Context, name, publicKey string) (*keypairs.KeyPair, error)
}

// ImageInterface lists bootable images.
type ImageInterface interface {
	Images(ctx context.Context) ([]images.Image, error)
}

// BlockStorageInterface only deals with volume quotas, volumes themselves
// are created and deleted along with their server.
type BlockStorageInterface interface {
	providers.QuotaProvider
}

// NetworkInterface manages the per-project network bundle, floating IPs
// and network quotas.
type NetworkInterface interface {
	providers.QuotaProvider

	GetNetwork(ctx context.Context, projectID, name string) (*networks.Network, error)
	GetExternalNetwork(ctx context.Context, name string) (*networks.Network, error)
	CreateNetwork(ctx context.Context, projectID, name string, mtu int) (*networks.Network, error)
	DeleteNetwork(ctx context.Context, networkID string) error

	GetSubnet(ctx context.Context, projectID, name string) (*subnets.Subnet, error)
	GetSubnetByID(ctx context.Context, subnetID string) (*subnets.Subnet, error)
	CreateSubnet(ctx context.Context, options *SubnetOptions) (*subnets.Subnet, error)
	DeleteSubnet(ctx context.Context, subnetID string) error

	GetRouter(ctx context.Context, projectID, name string) (*routers.Router, error)
	CreateRouter(ctx context.Context, projectID, name string) (*routers.Router, error)
	SetRouterGateway(ctx context.Context, routerID, networkID string) (*routers.Router, error)
	ClearRouterGateway(ctx context.Context, routerID string) error
	AddRouterSubnet(ctx context.Context, routerID, subnetID string) error
	RemoveRouterSubnet(ctx context.Context, routerID, subnetID string) error
	RemoveRouterPort(ctx context.Context, routerID, portID string) error
	DeleteRouter(ctx context.Context, routerID string) error

	ListPorts(ctx context.Context, filter *PortFilter) ([]ports.Port, error)
	DeletePort(ctx context.Context, portID string) error

	GetSecurityGroup(ctx context.Context, projectID, name string) (*groups.SecGroup, error)
	ListSecurityGroups(ctx context.Context, projectID string) ([]groups.SecGroup, error)
	CreateSecurityGroup(ctx context.Context, projectID, name, description string) (*groups.SecGroup, error)
	CreateSecurityGroupRule(ctx context.Context, projectID, groupID string, rule *SecurityGroupRule) (*rules.SecGroupRule, error)
	DeleteSecurityGroup(ctx context.Context, groupID string) error

	ListFloatingIPs(ctx context.Context, projectID string) ([]floatingips.FloatingIP, error)
	CreateFloatingIP(ctx context.Context, projectID, networkID string) (*floatingips.FloatingIP, error)
	AssociateFloatingIP(ctx context.Context, floatingIPID, portID string) error
	DeleteFloatingIP(ctx context.Context, floatingIPID string) error
}

// ProjectScope describes a project scoped login as a domain user.
type ProjectScope struct {
	// DomainID is the domain the user and project live in.
	DomainID string
	// ProjectID is the project to scope to.
	ProjectID string
	// Username of the domain user.
	Username string
	// Password of the domain user.
	Password string
}

// Endpoint describes how clients reach the cloud, it's what gets written
// into generated client configuration.
type Endpoint struct {
	// AuthURL is the keystone endpoint.
	AuthURL string
	// CACertFile is an optional CA bundle path.
	CACertFile string
	// Verify is whether TLS certificates are verified.
	Verify bool
}

// Cloud is a connection to a cloud, either as the administrator or as
// a project scoped domain user.
type Cloud interface {
	Identity(ctx context.Context) (IdentityInterface, error)
	Compute(ctx context.Context) (ComputeInterface, error)
	Image(ctx context.Context) (ImageInterface, error)
	Network(ctx context.Context) (NetworkInterface, error)
	BlockStorage(ctx context.Context) (BlockStorageInterface, error)

	// ConnectAs opens a new project scoped connection reusing this
	// connection's endpoint and transport.
	ConnectAs(ctx context.Context, scope *ProjectScope) (Cloud, error)

	// Endpoint returns connection details.
	Endpoint() Endpoint

	// Close releases any credentials held by the connection.
	Close(ctx context.Context) error
}
