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

//nolint:testpackage
package landscape

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gophercloud/utils/v2/openstack/clientconfig"
	"github.com/stretchr/testify/require"

	"github.com/unikorn-cloud/workload-generator/pkg/config"
	"github.com/unikorn-cloud/workload-generator/pkg/inventory"
	"github.com/unikorn-cloud/workload-generator/pkg/metrics"
	"github.com/unikorn-cloud/workload-generator/pkg/providers"
	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"
	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack/fake"

	"sigs.k8s.io/yaml"
)

var (
	errInjected = errors.New("injected failure")
)

func testConfig(overrides map[string]any) *config.Config {
	values := map[string]any{
		"admin_domain_password": "domain-password",
		"admin_vm_password":     "vm-password",
		"admin_vm_ssh_key":      "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIHk3 admin@workload-generator",
	}

	maps.Copy(values, overrides)

	return config.New(values)
}

func testEnvironment(t *testing.T, cloud *fake.Cloud, overrides map[string]any) *Environment {
	t.Helper()

	env, err := NewEnvironment(cloud, testConfig(overrides), metrics.New())
	require.NoError(t, err)

	env.PollInterval = time.Millisecond

	return env
}

func createOptions(domains, projects, machines []string) *Options {
	return &Options{
		CreateDomains:  domains,
		CreateProjects: projects,
		CreateMachines: machines,
		Concurrency:    1,
	}
}

func deleteOptions(domains, projects, machines []string) *Options {
	return &Options{
		DeleteDomains:  domains,
		DeleteProjects: projects,
		DeleteMachines: machines,
		Concurrency:    1,
	}
}

func run(t *testing.T, env *Environment, options *Options) {
	t.Helper()

	require.NoError(t, NewOrchestrator(env, options).Run(context.Background()))
}

// callIndex is the position of the first call to the method.
func callIndex(t *testing.T, calls []string, method string) int {
	t.Helper()

	i := slices.IndexFunc(calls, func(call string) bool {
		return call == method || strings.HasPrefix(call, method+" ")
	})

	require.GreaterOrEqual(t, i, 0, "call to %s not found", method)

	return i
}

// callIndices is the position of every call to the method.
func callIndices(calls []string, method string) []int {
	var indices []int

	for i, call := range calls {
		if call == method || strings.HasPrefix(call, method+" ") {
			indices = append(indices, i)
		}
	}

	return indices
}

func readHost(t *testing.T, dir, name string) *inventory.Host {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, name, inventory.FileName))
	require.NoError(t, err)

	host := &inventory.Host{}

	require.NoError(t, yaml.Unmarshal(data, host))

	return host
}

func serverNames(cloud *fake.Cloud) []string {
	var names []string

	for _, server := range cloud.Servers() {
		names = append(names, server.Name)
	}

	slices.Sort(names)

	return names
}

// TestCreate checks a full landscape is created and connections closed.
func TestCreate(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	env := testEnvironment(t, cloud, nil)

	options := createOptions([]string{"d1"}, []string{"p1"}, []string{"gamma", "alpha", "beta"})
	options.AnsibleInventory = t.TempDir()

	run(t, env, options)

	require.Len(t, cloud.Domains(), 1)
	require.Len(t, cloud.Projects(), 1)
	require.Len(t, cloud.Users(), 1)
	require.Equal(t, "d1-admin", cloud.Users()[0].Name)
	require.Equal(t, []string{"alpha", "beta", "gamma"}, serverNames(cloud))
	require.Len(t, cloud.Subnets(), 1)
	require.Equal(t, "localsubnet-p1", cloud.Subnets()[0].Name)
	require.Len(t, cloud.Routers(), 1)
	require.Equal(t, "localrouter-p1", cloud.Routers()[0].Name)
	require.NotEmpty(t, cloud.Routers()[0].GatewayInfo.NetworkID)
	require.Len(t, cloud.SecurityGroups(), 2)
	require.Len(t, cloud.KeyPairs(cloud.Users()[0].ID), 1)
	require.Zero(t, cloud.OpenConnections())

	var roles []string

	for _, assignment := range cloud.Assignments() {
		roles = append(roles, cloud.RoleName(assignment.RoleID))
	}

	require.ElementsMatch(t, []string{"manager", "manager", "load-balancer_member", "member"}, roles)

	// Machines are created in name order.
	creates := cloud.CallsMatching("Compute.CreateServer")
	require.Equal(t, []string{"Compute.CreateServer alpha", "Compute.CreateServer beta", "Compute.CreateServer gamma"}, creates)

	// Only the first machine gets a floating IP, and is the jump host.
	require.Len(t, cloud.FloatingIPs(), 1)

	alpha := readHost(t, options.AnsibleInventory, "d1-p1-alpha")
	require.Equal(t, cloud.FloatingIPs()[0].FloatingIP, alpha.AnsibleHost)
	require.NotEqual(t, alpha.InternalIP, alpha.AnsibleHost)
	require.Empty(t, alpha.SSHCommonArgs)
	require.Equal(t, fake.Hypervisor, alpha.OpenStack.Hypervisor)
	require.Equal(t, "d1", alpha.OpenStack.Domain)
	require.Equal(t, "p1", alpha.OpenStack.Project)

	for _, name := range []string{"beta", "gamma"} {
		host := readHost(t, options.AnsibleInventory, "d1-p1-"+name)
		require.Equal(t, host.InternalIP, host.AnsibleHost)
		require.Equal(t, "-o ProxyJump="+alpha.AnsibleHost+" ", host.SSHCommonArgs)
	}
}

// TestCreateIdempotent checks a second run changes nothing.
func TestCreateIdempotent(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	overrides := map[string]any{
		"compute_quotas": map[string]any{
			"cores":     20,
			"instances": fake.DefaultQuota,
		},
	}

	options := createOptions([]string{"d1"}, []string{"p1", "p2"}, []string{"alpha", "beta"})

	run(t, testEnvironment(t, cloud, overrides), options)

	require.Len(t, cloud.CallsMatching("UpdateQuota"), 2)

	cloud.ResetCalls()

	run(t, testEnvironment(t, cloud, overrides), options)

	require.Empty(t, cloud.CallsMatching("Create"))
	require.Empty(t, cloud.CallsMatching("Assign"))
	require.Empty(t, cloud.CallsMatching("UpdateQuota"))
	require.Empty(t, cloud.CallsMatching("Delete"))
	require.Len(t, cloud.Servers(), 4)
	require.Len(t, cloud.FloatingIPs(), 2)
	require.Zero(t, cloud.OpenConnections())
}

// TestAdaptQuota checks only changed fields are sent.
func TestAdaptQuota(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	overrides := map[string]any{
		"compute_quotas": map[string]any{
			"cores":     20,
			"instances": fake.DefaultQuota,
		},
		"network_quotas": map[string]any{
			"floatingip": 3,
		},
	}

	run(t, testEnvironment(t, cloud, overrides), createOptions([]string{"d1"}, []string{"p1"}, []string{"none"}))

	projectID := cloud.Projects()[0].ID

	require.Equal(t, 20, cloud.Quota(providers.ComputeQuotas, projectID)["cores"])
	require.Equal(t, fake.DefaultQuota, cloud.Quota(providers.ComputeQuotas, projectID)["instances"])
	require.Equal(t, 3, cloud.Quota(providers.NetworkQuotas, projectID)["floatingip"])
	require.Len(t, cloud.CallsMatching("Compute.UpdateQuota"), 1)
	require.Len(t, cloud.CallsMatching("Network.UpdateQuota"), 1)
	require.Empty(t, cloud.CallsMatching("BlockStorage.UpdateQuota"))
}

// TestAdaptQuotaUnknownField checks unknown fields are rejected.
func TestAdaptQuotaUnknownField(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	overrides := map[string]any{
		"compute_quotas": map[string]any{
			"unicorns": 1,
		},
	}

	err := NewOrchestrator(testEnvironment(t, cloud, overrides), createOptions([]string{"d1"}, []string{"p1"}, []string{"none"})).Run(context.Background())
	require.ErrorIs(t, err, providers.ErrUnknownQuotaField)
}

// TestFloatingIPAssociateFailure checks an address that can't be attached
// is released again.
func TestFloatingIPAssociateFailure(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	cloud.FailOn("Network.AssociateFloatingIP", errInjected)

	err := NewOrchestrator(testEnvironment(t, cloud, nil), createOptions([]string{"d1"}, []string{"p1"}, []string{"alpha"})).Run(context.Background())
	require.ErrorIs(t, err, errInjected)
	require.Len(t, cloud.CallsMatching("Network.CreateFloatingIP"), 1)
	require.Len(t, cloud.CallsMatching("Network.DeleteFloatingIP"), 1)
	require.Empty(t, cloud.FloatingIPs())
	require.Zero(t, cloud.OpenConnections())
}

// TestFloatingIPBudget checks the budget is spent in name order.
func TestFloatingIPBudget(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	env := testEnvironment(t, cloud, map[string]any{
		"number_of_floating_ips_per_project": "2",
	})

	options := createOptions([]string{"d1"}, []string{"p1"}, []string{"gamma", "beta", "alpha"})
	options.AnsibleInventory = t.TempDir()

	run(t, env, options)

	require.Len(t, cloud.FloatingIPs(), 2)

	alpha := readHost(t, options.AnsibleInventory, "d1-p1-alpha")
	beta := readHost(t, options.AnsibleInventory, "d1-p1-beta")
	gamma := readHost(t, options.AnsibleInventory, "d1-p1-gamma")

	require.Empty(t, alpha.SSHCommonArgs)
	require.Empty(t, beta.SSHCommonArgs)
	require.NotEqual(t, beta.InternalIP, beta.AnsibleHost)
	require.Equal(t, "-o ProxyJump="+alpha.AnsibleHost+" ", gamma.SSHCommonArgs)
}

// TestNoneProjects checks the user is created, but no projects.
func TestNoneProjects(t *testing.T) {
	t.Parallel()

	cloud := fake.New()

	run(t, testEnvironment(t, cloud, nil), createOptions([]string{"d1"}, []string{"none"}, []string{"alpha"}))

	require.Len(t, cloud.Domains(), 1)
	require.Len(t, cloud.Users(), 1)
	require.Empty(t, cloud.Projects())
	require.Empty(t, cloud.Servers())
}

// TestNoneMachines checks projects are fully set up without machines.
func TestNoneMachines(t *testing.T) {
	t.Parallel()

	cloud := fake.New()

	run(t, testEnvironment(t, cloud, nil), createOptions([]string{"d1"}, []string{"p1"}, []string{"alpha", "none"}))

	require.Len(t, cloud.Projects(), 1)
	require.Len(t, cloud.Routers(), 1)
	require.Empty(t, cloud.Servers())
	require.Empty(t, cloud.FloatingIPs())
	require.Zero(t, cloud.OpenConnections())
}

// TestMissingPublicNetwork checks routers and floating IPs are skipped.
func TestMissingPublicNetwork(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	cloud.RemovePublicNetwork()

	options := createOptions([]string{"d1"}, []string{"p1"}, []string{"alpha", "beta"})
	options.AnsibleInventory = t.TempDir()

	run(t, testEnvironment(t, cloud, nil), options)

	require.Empty(t, cloud.Routers())
	require.Empty(t, cloud.FloatingIPs())
	require.Len(t, cloud.Servers(), 2)

	// Nothing to jump through.
	beta := readHost(t, options.AnsibleInventory, "d1-p1-beta")
	require.Equal(t, beta.InternalIP, beta.AnsibleHost)
	require.Empty(t, beta.SSHCommonArgs)
}

// TestOptionalRoleMissing checks optional roles are skipped.
func TestOptionalRoleMissing(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	cloud.RemoveRole("load-balancer_member")

	run(t, testEnvironment(t, cloud, nil), createOptions([]string{"d1"}, []string{"p1"}, []string{"alpha"}))

	require.Len(t, cloud.Assignments(), 3)
	require.Len(t, cloud.Servers(), 1)
}

// TestMandatoryRoleMissing checks mandatory roles must exist.
func TestMandatoryRoleMissing(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	cloud.RemoveRole("member")

	err := NewOrchestrator(testEnvironment(t, cloud, nil), createOptions([]string{"d1"}, []string{"p1"}, []string{"alpha"})).Run(context.Background())
	require.ErrorIs(t, err, ErrRoleNotFound)
	require.Empty(t, cloud.Servers())
}

// TestAmbiguousNetwork checks duplicate names are fatal.
func TestAmbiguousNetwork(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	options := createOptions([]string{"d1"}, []string{"p1"}, []string{"none"})

	run(t, testEnvironment(t, cloud, nil), options)

	cloud.SeedNetwork(cloud.Projects()[0].ID, "localnet-p1")

	err := NewOrchestrator(testEnvironment(t, cloud, nil), options).Run(context.Background())
	require.ErrorIs(t, err, openstack.ErrAmbiguous)
}

// TestServerError checks waiting gives up when a server fails.
func TestServerError(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	cloud.SetServerStatus("ERROR")

	options := createOptions([]string{"d1"}, []string{"p1"}, []string{"alpha"})
	options.WaitForMachines = true

	err := NewOrchestrator(testEnvironment(t, cloud, nil), options).Run(context.Background())
	require.ErrorIs(t, err, ErrConsistency)
	require.Zero(t, cloud.OpenConnections())
}

// TestServerTimeout checks waiting is bounded.
func TestServerTimeout(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	cloud.SetServerStatus("BUILD")

	options := createOptions([]string{"d1"}, []string{"p1"}, []string{"alpha"})
	options.WaitForMachines = true

	env := testEnvironment(t, cloud, map[string]any{
		"wait_for_server_timeout": "0",
	})

	err := NewOrchestrator(env, options).Run(context.Background())
	require.Error(t, err)
	require.Zero(t, cloud.OpenConnections())
}

// TestCreateServerFailure checks the connection is closed on error.
func TestCreateServerFailure(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	cloud.FailOn("Compute.CreateServer", errInjected)

	err := NewOrchestrator(testEnvironment(t, cloud, nil), createOptions([]string{"d1"}, []string{"p1"}, []string{"alpha"})).Run(context.Background())
	require.ErrorIs(t, err, errInjected)
	require.Zero(t, cloud.OpenConnections())
}

// TestCreateServerStaleLookup checks a missing flavor or image makes the
// next attempt list them again.
func TestCreateServerStaleLookup(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	cloud.FailOn("Compute.CreateServer", fmt.Errorf("%w: flavor", openstack.ErrNotFound))

	env := testEnvironment(t, cloud, nil)
	options := createOptions([]string{"d1"}, []string{"p1"}, []string{"alpha"})

	err := NewOrchestrator(env, options).Run(context.Background())
	require.ErrorIs(t, err, openstack.ErrNotFound)

	cloud.FailOn("Compute.CreateServer", nil)

	run(t, env, options)

	require.Len(t, cloud.CallsMatching("Compute.Flavors"), 2)
	require.Len(t, cloud.CallsMatching("Image.Images"), 2)
	require.Equal(t, []string{"alpha"}, serverNames(cloud))
}

// TestDeleteDomain checks everything goes, in dependency order.
func TestDeleteDomain(t *testing.T) {
	t.Parallel()

	cloud := fake.New()

	run(t, testEnvironment(t, cloud, nil), createOptions([]string{"d1"}, []string{"p1"}, []string{"alpha", "beta"}))

	cloud.ResetCalls()

	run(t, testEnvironment(t, cloud, nil), deleteOptions([]string{"d1"}, nil, nil))

	require.Empty(t, cloud.Domains())
	require.Empty(t, cloud.Projects())
	require.Empty(t, cloud.Users())
	require.Empty(t, cloud.Servers())
	require.Empty(t, cloud.Subnets())
	require.Empty(t, cloud.Routers())
	require.Empty(t, cloud.Ports())
	require.Empty(t, cloud.SecurityGroups())
	require.Empty(t, cloud.FloatingIPs())
	require.Len(t, cloud.Networks(), 1)
	require.Equal(t, fake.PublicNetwork, cloud.Networks()[0].Name)
	require.Zero(t, cloud.OpenConnections())

	calls := cloud.Calls()

	order := []string{
		"Compute.DeleteServer",
		"Network.DeleteRouter",
		"Network.DeleteSubnet",
		"Network.DeleteNetwork",
		"Identity.DeleteProject",
		"Network.DeleteSecurityGroup",
		"Identity.DeleteUser",
		"Identity.DisableDomain",
		"Identity.DeleteDomain",
	}

	for i := 1; i < len(order); i++ {
		require.Less(t, callIndex(t, calls, order[i-1]), callIndex(t, calls, order[i]), "%s before %s", order[i-1], order[i])
	}

	// Every server delete is issued before waiting on any of them.
	deletes := callIndices(calls, "Compute.DeleteServer")
	require.Len(t, deletes, 2)
	require.Less(t, slices.Max(deletes), callIndex(t, calls, "Compute.GetServerByID"))

	// Security groups only go once the project is gone.
	groups := callIndices(calls, "Network.DeleteSecurityGroup")
	require.Len(t, groups, 2)
	require.Greater(t, slices.Min(groups), callIndex(t, calls, "Identity.DeleteProject"))
}

// TestDeleteMissingDomain checks deleting nothing is fine.
func TestDeleteMissingDomain(t *testing.T) {
	t.Parallel()

	cloud := fake.New()

	run(t, testEnvironment(t, cloud, nil), deleteOptions([]string{"d1"}, nil, nil))

	require.Empty(t, cloud.CallsMatching("Delete"))
}

// TestDeleteProjects checks only selected projects are deleted.
func TestDeleteProjects(t *testing.T) {
	t.Parallel()

	cloud := fake.New()

	run(t, testEnvironment(t, cloud, nil), createOptions([]string{"d1"}, []string{"p1", "p2"}, []string{"alpha"}))
	run(t, testEnvironment(t, cloud, nil), deleteOptions([]string{"d1"}, []string{"p2", "unknown"}, nil))

	require.Len(t, cloud.Domains(), 1)
	require.Len(t, cloud.Users(), 1)
	require.Len(t, cloud.Projects(), 1)
	require.Equal(t, "p1", cloud.Projects()[0].Name)
	require.Len(t, cloud.Servers(), 1)
	require.Len(t, cloud.Routers(), 1)
	require.Equal(t, "localrouter-p1", cloud.Routers()[0].Name)
}

// TestDeleteMachines checks only selected machines are deleted.
func TestDeleteMachines(t *testing.T) {
	t.Parallel()

	cloud := fake.New()

	run(t, testEnvironment(t, cloud, nil), createOptions([]string{"d1"}, []string{"p1", "p2"}, []string{"alpha", "beta"}))
	run(t, testEnvironment(t, cloud, nil), deleteOptions([]string{"d1"}, []string{"p1"}, []string{"beta"}))

	require.Len(t, cloud.Projects(), 2)
	require.Equal(t, []string{"alpha", "alpha", "beta"}, serverNames(cloud))
	require.Len(t, cloud.CallsMatching("Compute.DeleteServer"), 1)
}

// TestConcurrentDomains checks domains may be worked on in parallel.
func TestConcurrentDomains(t *testing.T) {
	t.Parallel()

	cloud := fake.New()

	options := createOptions([]string{"d1", "d2", "d3"}, []string{"p1"}, []string{"alpha"})
	options.Concurrency = 3

	run(t, testEnvironment(t, cloud, nil), options)

	require.Len(t, cloud.Domains(), 3)
	require.Len(t, cloud.Projects(), 3)
	require.Len(t, cloud.Servers(), 3)
	require.Zero(t, cloud.OpenConnections())

	options = deleteOptions([]string{"d1", "d2", "d3"}, nil, nil)
	options.Concurrency = 3

	run(t, testEnvironment(t, cloud, nil), options)

	require.Empty(t, cloud.Domains())
	require.Empty(t, cloud.Servers())
}

// TestClientConfiguration checks clouds.yaml and cloud.conf are written.
func TestClientConfiguration(t *testing.T) {
	t.Parallel()

	cloud := fake.New()
	dir := t.TempDir()

	options := createOptions([]string{"d1"}, []string{"p1", "p2"}, []string{"none"})
	options.CloudsYAML = filepath.Join(dir, "clouds.yaml")
	options.CloudConf = filepath.Join(dir, "conf")

	run(t, testEnvironment(t, cloud, nil), options)

	data, err := os.ReadFile(options.CloudsYAML)
	require.NoError(t, err)

	var clouds clientconfig.Clouds

	require.NoError(t, yaml.Unmarshal(data, &clouds))
	require.Len(t, clouds.Clouds, 2)

	p1, ok := clouds.Clouds["d1-p1"]
	require.True(t, ok)
	require.Equal(t, "d1-admin", p1.AuthInfo.Username)
	require.Equal(t, "domain-password", p1.AuthInfo.Password)
	require.Equal(t, "p1", p1.AuthInfo.ProjectName)
	require.Equal(t, "d1", p1.AuthInfo.UserDomainName)
	require.Equal(t, cloud.Endpoint().AuthURL, p1.AuthInfo.AuthURL)
	require.False(t, *p1.Verify)

	for _, name := range []string{"d1-p1", "d1-p2"} {
		_, err := os.Stat(filepath.Join(options.CloudConf, name+".conf"))
		require.NoError(t, err)
	}
}

// TestStartStop checks servers are only started and stopped when needed.
func TestStartStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cloud := fake.New()
	env := testEnvironment(t, cloud, nil)

	run(t, env, createOptions([]string{"d1"}, []string{"p1"}, []string{"alpha"}))

	domain, err := NewDomain(ctx, env, "d1")
	require.NoError(t, err)

	projects := domain.GetProjects([]string{"p1"})
	require.Len(t, projects, 1)

	machines := projects[0].GetMachines([]string{"alpha", "missing"})
	require.Len(t, machines, 1)

	machine := machines[0]

	cloud.ResetCalls()

	require.NoError(t, machine.StartServer(ctx))
	require.Empty(t, cloud.CallsMatching("StartServer"))

	require.NoError(t, machine.StopServer(ctx))
	require.Equal(t, "SHUTOFF", cloud.Servers()[0].Status)

	require.NoError(t, machine.StopServer(ctx))
	require.Len(t, cloud.CallsMatching("StopServer"), 1)

	require.NoError(t, machine.StartServer(ctx))
	require.Equal(t, "ACTIVE", cloud.Servers()[0].Status)
}

// TestDomainWalk drives a domain directly rather than via the orchestrator.
func TestDomainWalk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cloud := fake.New()
	env := testEnvironment(t, cloud, nil)

	domain, err := NewDomain(ctx, env, "d1")
	require.NoError(t, err)
	require.Nil(t, domain.User())

	_, ok := domain.Domain()
	require.False(t, ok)

	_, err = domain.CreateAndGetDomain(ctx)
	require.NoError(t, err)
	require.Equal(t, "d1-admin", domain.User().Name())

	require.NoError(t, domain.CreateAndGetProjects(ctx, []string{"p1"}))
	require.NoError(t, domain.CreateAndGetMachines(ctx, []string{"p1", "unknown"}, []string{"beta", "alpha"}, true))

	projects := domain.GetProjects([]string{"p1"})
	require.Len(t, projects, 1)

	machines := projects[0].GetMachines([]string{"alpha"})
	require.Len(t, machines, 1)
	require.NotEmpty(t, machines[0].FloatingIP())
	require.Equal(t, machines[0].FloatingIP(), projects[0].ProxyJump())
	require.Zero(t, cloud.OpenConnections())
}

// TestProjectConnectionReleased checks the network and machines keep
// working once the project connection they were built on is closed.
func TestProjectConnectionReleased(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cloud := fake.New()
	env := testEnvironment(t, cloud, nil)

	domain, err := NewDomain(ctx, env, "d1")
	require.NoError(t, err)

	_, err = domain.CreateAndGetDomain(ctx)
	require.NoError(t, err)

	require.NoError(t, domain.CreateAndGetProjects(ctx, []string{"p1"}))
	require.NoError(t, domain.CreateAndGetMachines(ctx, []string{"p1"}, []string{"alpha", "beta"}, false))
	require.Zero(t, cloud.OpenConnections())

	project := domain.GetProjects([]string{"p1"})[0]

	beta := project.GetMachines([]string{"beta"})
	require.Len(t, beta, 1)
	require.Empty(t, beta[0].FloatingIP())

	require.NoError(t, beta[0].AddFloatingIP(ctx))
	require.NotEmpty(t, beta[0].FloatingIP())

	require.NoError(t, project.DeleteMachines(ctx, project.GetMachines([]string{"alpha", "beta"})))
	require.NoError(t, project.network.DeleteNetwork(ctx))
	require.Empty(t, cloud.Routers())
	require.Empty(t, cloud.Subnets())
}
