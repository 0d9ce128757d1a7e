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
package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"
	"github.com/unikorn-cloud/workload-generator/pkg/providers"
)

const (
	sshKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIIXdvNbkqB1y8ECFcwQ6o0A7fMc6 admin@example"

	profile = `
admin_domain_password: "s3cret-domain"
admin_vm_password: "s3cret-vm"
admin_vm_ssh_key: "` + sshKey + `"
number_of_floating_ips_per_project: 2
verify_ssl_certificate: true
compute_quotas:
  cores: 64
  instances: 20
network_quotas:
  floatingip: 4
`
)

func writeProfile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func loadProfile(t *testing.T, content string) *Config {
	t.Helper()

	path := writeProfile(t, t.TempDir(), "test.yaml", content)

	c, err := Load(context.Background(), &Options{Profile: path})
	require.NoError(t, err)

	return c
}

// TestLoadMergesDefaults checks profile values win and defaults fill gaps.
func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	c := loadProfile(t, profile)

	require.NoError(t, c.Check())

	password, err := c.AdminDomainPassword()
	require.NoError(t, err)
	require.Equal(t, "s3cret-domain", password)

	fips, err := c.NumberOfFloatingIPsPerProject()
	require.NoError(t, err)
	require.Equal(t, 2, fips)

	verify, err := c.VerifySSLCertificate()
	require.NoError(t, err)
	require.True(t, verify)

	flavor, err := c.VMFlavor()
	require.NoError(t, err)
	require.Equal(t, "SCS-1L-1", flavor)

	subnet, err := c.ProjectIPv4Subnet()
	require.NoError(t, err)
	require.Equal(t, "192.168.200.0/24", subnet)

	timeout, err := c.WaitForServerTimeout()
	require.NoError(t, err)
	require.Equal(t, 300, timeout)

	key, err := c.AdminVMSSHKey()
	require.NoError(t, err)
	require.Equal(t, sshKey, key)
}

// TestLoadProfileDirectory checks relative names are resolved against the
// profile directory.
func TestLoadProfileDirectory(t *testing.T) {
	dir := t.TempDir()

	writeProfile(t, dir, "named.yaml", profile)

	t.Setenv(constants.ProfilesEnvironment, dir)

	c, err := Load(context.Background(), &Options{Profile: "named.yaml"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "named.yaml"), c.File())
}

// TestLoadNotFound checks a missing profile is reported.
func TestLoadNotFound(t *testing.T) {
	t.Setenv(constants.ProfilesEnvironment, t.TempDir())

	_, err := Load(context.Background(), &Options{Profile: "missing.yaml"})
	require.ErrorIs(t, err, ErrProfileNotFound)
}

// TestLoadMalformed checks unparseable YAML is an error.
func TestLoadMalformed(t *testing.T) {
	t.Parallel()

	path := writeProfile(t, t.TempDir(), "bad.yaml", "vm_flavor: [unterminated\n")

	_, err := Load(context.Background(), &Options{Profile: path})
	require.Error(t, err)
}

// TestValidation checks patterns are applied to the whole value.
func TestValidation(t *testing.T) {
	t.Parallel()

	c := New(map[string]any{
		keyAdminDomainPassword:           "abc",
		keyPublicNetwork:                 "9public",
		keyNumberOfFloatingIPsPerProject: 0,
		keyVerifySSLCertificate:          "yes",
		keyProjectIPv4Subnet:             "10.0.0.0/8",
		keyAdminVMSSHKey:                 sshKey + "\nnot-a-key",
	})

	_, err := c.AdminDomainPassword()
	require.ErrorIs(t, err, ErrValidation)

	_, err = c.PublicNetwork()
	require.ErrorIs(t, err, ErrValidation)

	_, err = c.NumberOfFloatingIPsPerProject()
	require.ErrorIs(t, err, ErrValidation)

	_, err = c.VerifySSLCertificate()
	require.ErrorIs(t, err, ErrValidation)

	_, err = c.ProjectIPv4Subnet()
	require.ErrorIs(t, err, ErrValidation)

	_, err = c.AdminVMSSHKey()
	require.ErrorIs(t, err, ErrValidation)

	require.ErrorIs(t, c.Check(), ErrValidation)
}

// TestMultiLine checks every line of a multi-line value is kept.
func TestMultiLine(t *testing.T) {
	t.Parallel()

	c := New(map[string]any{
		keyAdminVMSSHKey: sshKey + "\n" + sshKey + "\n",
	})

	key, err := c.AdminVMSSHKey()
	require.NoError(t, err)
	require.Equal(t, sshKey+"\n"+sshKey, key)

	script, err := c.CloudInitExtraScript()
	require.NoError(t, err)
	require.Contains(t, script, "HELLO WORLD")
}

// TestMissingKey checks an explicit null is treated as absent.
func TestMissingKey(t *testing.T) {
	t.Parallel()

	c := New(map[string]any{
		keyVMImage: nil,
	})

	_, err := c.VMImage()
	require.ErrorIs(t, err, ErrMissingKey)
}

// TestQuota checks quotas are read per category and validated.
func TestQuota(t *testing.T) {
	t.Parallel()

	c := loadProfile(t, profile)

	compute, err := c.Quota(providers.ComputeQuotas)
	require.NoError(t, err)
	require.Equal(t, providers.Quota{"cores": 64, "instances": 20}, compute)

	block, err := c.Quota(providers.BlockStorageQuotas)
	require.NoError(t, err)
	require.Empty(t, block)

	network, err := c.Quota(providers.NetworkQuotas)
	require.NoError(t, err)
	require.Equal(t, providers.Quota{"floatingip": 4}, network)
}

// TestQuotaInvalid checks bad quota values are rejected.
func TestQuotaInvalid(t *testing.T) {
	t.Parallel()

	c := New(map[string]any{
		string(providers.ComputeQuotas): map[string]any{
			"cores": "lots",
		},
		string(providers.NetworkQuotas): map[string]any{
			"bananas": 1,
		},
		string(providers.BlockStorageQuotas): []any{1},
	})

	_, err := c.Quota(providers.ComputeQuotas)
	require.ErrorIs(t, err, ErrValidation)

	_, err = c.Quota(providers.NetworkQuotas)
	require.ErrorIs(t, err, providers.ErrUnknownQuotaField)

	_, err = c.Quota(providers.BlockStorageQuotas)
	require.ErrorIs(t, err, ErrValidation)
}

// TestEffective checks the merged configuration can be rendered.
func TestEffective(t *testing.T) {
	t.Parallel()

	c := loadProfile(t, profile)

	effective, err := c.Effective()
	require.NoError(t, err)
	require.Contains(t, effective, "admin_domain_password: s3cret-domain")
	require.Contains(t, effective, "vm_flavor: SCS-1L-1")

	require.NoError(t, c.ShowEffective(context.Background()))
}

// TestCheckComputeNetworkQuota checks a compute floating IP quota is caught
// before anything is created.
func TestCheckComputeNetworkQuota(t *testing.T) {
	t.Parallel()

	c := New(map[string]any{
		string(providers.ComputeQuotas): map[string]any{
			"floating_ips": 5,
		},
	})

	require.ErrorIs(t, c.Check(), providers.ErrUnknownQuotaField)
}
