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

package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"
	"github.com/unikorn-cloud/workload-generator/pkg/providers"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

var (
	// ErrProfileNotFound is raised when no profile file can be located.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrMissingKey is raised when a key is absent from the configuration.
	ErrMissingKey = errors.New("configuration key missing")

	// ErrValidation is raised when a value doesn't match its pattern.
	ErrValidation = errors.New("configuration value invalid")
)

const (
	keyAdminDomainPassword           = "admin_domain_password"
	keyAdminVMPassword               = "admin_vm_password"
	keyAdminVMSSHKey                 = "admin_vm_ssh_key"
	keyAdminVMSSHKeypairName         = "admin_vm_ssh_keypair_name"
	keyProjectIPv4Subnet             = "project_ipv4_subnet"
	keyPublicNetwork                 = "public_network"
	keyNetworkMTU                    = "network_mtu"
	keyNumberOfFloatingIPsPerProject = "number_of_floating_ips_per_project"
	keyVMFlavor                      = "vm_flavor"
	keyVMImage                       = "vm_image"
	keyVMVolumeSizeGB                = "vm_volume_size_gb"
	keyVerifySSLCertificate          = "verify_ssl_certificate"
	keyCloudInitExtraScript          = "cloud_init_extra_script"
	keyWaitForServerTimeout          = "wait_for_server_timeout"
)

// Defaults returns the configuration used when a profile doesn't override
// a key.
func Defaults() map[string]any {
	return map[string]any{
		keyAdminDomainPassword:           "",
		keyAdminVMPassword:               "",
		keyAdminVMSSHKey:                 "",
		keyAdminVMSSHKeypairName:         "my_ssh_public_key",
		keyProjectIPv4Subnet:             "192.168.200.0/24",
		keyPublicNetwork:                 "public",
		keyNetworkMTU:                    "0",
		keyNumberOfFloatingIPsPerProject: "1",
		keyVMFlavor:                      "SCS-1L-1",
		keyVMImage:                       "Ubuntu 24.04",
		keyVMVolumeSizeGB:                "10",
		keyVerifySSLCertificate:          "false",
		keyCloudInitExtraScript:          "#!/bin/bash\necho \"HELLO WORLD\"; date > READY; whoami >> READY",
		keyWaitForServerTimeout:          "300",
	}
}

// Options allow modification of parameters via the CLI.
type Options struct {
	// Profile is a path, or a name to look up in a profile directory.
	Profile string
}

// AddFlags registers option flags with pflag.
func (o *Options) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.Profile, "config", "test-default.yaml", "Profile to read, either a path or a name in the profile directory")
}

// Config is the merged view of the defaults and a profile.  It is read only
// once loaded so may be shared between goroutines.
type Config struct {
	// file is where the profile was read from.
	file string

	// values are the merged top level keys.
	values map[string]any
}

// New merges the values over the defaults.  This is a shallow merge, so
// quota categories are replaced wholesale.
func New(values map[string]any) *Config {
	merged := Defaults()

	maps.Copy(merged, values)

	return &Config{
		values: merged,
	}
}

// profileCandidates lists where a profile may live, in order of precedence.
func profileCandidates(profile string) []string {
	candidates := []string{profile}

	if filepath.IsAbs(profile) {
		return candidates
	}

	if dir := os.Getenv(constants.ProfilesEnvironment); dir != "" {
		return append(candidates, filepath.Join(dir, profile))
	}

	if executable, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(executable), "..", "profiles", profile))
	}

	return append(candidates, filepath.Join("profiles", profile))
}

// Load finds and reads a profile.
func Load(ctx context.Context, o *Options) (*Config, error) {
	log := log.FromContext(ctx)

	candidates := profileCandidates(o.Profile)

	var path string

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			path = candidate

			break
		}
	}

	if path == "" {
		return nil, fmt.Errorf("%w: tried %s", ErrProfileNotFound, strings.Join(candidates, ", "))
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	log.Info("reading profile", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	values := map[string]any{}

	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("unable to read configuration %s: %w", path, err)
	}

	c := New(values)
	c.file = path

	return c, nil
}

// File is where the configuration was read from.
func (c *Config) File() string {
	return c.file
}

// get returns a validated value.  Multi-line values have every line checked
// individually.
func (c *Config) get(key, pattern string, multiLine bool) (string, error) {
	raw, ok := c.values[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, key)
	}

	value := fmt.Sprint(raw)

	re := regexp.MustCompile(`(?s)^(?:` + pattern + `)$`)

	lines := []string{value}

	if multiLine {
		lines = strings.Split(strings.TrimRight(value, "\n"), "\n")
	}

	for _, line := range lines {
		if !re.MatchString(line) {
			return "", fmt.Errorf("%w: %s value %q does not match %q", ErrValidation, key, line, pattern)
		}
	}

	return strings.Join(lines, "\n"), nil
}

func (c *Config) getInt(key, pattern string) (int, error) {
	value, err := c.get(key, pattern, false)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(value)
}

// AdminDomainPassword is the password of each domain's admin user.
func (c *Config) AdminDomainPassword() (string, error) {
	return c.get(keyAdminDomainPassword, `.{5,}`, false)
}

// AdminVMPassword is set as the password of every server.
func (c *Config) AdminVMPassword() (string, error) {
	return c.get(keyAdminVMPassword, `.+`, false)
}

// AdminVMSSHKey is the public key imported into every project.
func (c *Config) AdminVMSSHKey() (string, error) {
	return c.get(keyAdminVMSSHKey, `ssh-\S+\s\S+\s\S+`, true)
}

// AdminVMSSHKeypairName is the name the public key is imported as.
func (c *Config) AdminVMSSHKeypairName() (string, error) {
	return c.get(keyAdminVMSSHKeypairName, `.+`, false)
}

// ProjectIPv4Subnet is the CIDR of every project subnet.
func (c *Config) ProjectIPv4Subnet() (string, error) {
	return c.get(keyProjectIPv4Subnet, `\d+\.\d+\.\d+\.\d+/\d\d`, false)
}

// PublicNetwork is the external network routers and floating IPs use.
func (c *Config) PublicNetwork() (string, error) {
	return c.get(keyPublicNetwork, `[a-zA-Z][a-zA-Z0-9]*`, false)
}

// NetworkMTU overrides the network MTU, 0 means the cloud default.
func (c *Config) NetworkMTU() (int, error) {
	return c.getInt(keyNetworkMTU, `\d+`)
}

// NumberOfFloatingIPsPerProject bounds floating IP allocation per pass.
func (c *Config) NumberOfFloatingIPsPerProject() (int, error) {
	return c.getInt(keyNumberOfFloatingIPsPerProject, `[1-9]\d*`)
}

func (c *Config) VMFlavor() (string, error) {
	return c.get(keyVMFlavor, `.+`, false)
}

func (c *Config) VMImage() (string, error) {
	return c.get(keyVMImage, `.+`, false)
}

// VMVolumeSizeGB is the root volume size.
func (c *Config) VMVolumeSizeGB() (int, error) {
	return c.getInt(keyVMVolumeSizeGB, `\d+`)
}

// VerifySSLCertificate is written into generated client configuration.
func (c *Config) VerifySSLCertificate() (bool, error) {
	value, err := c.get(keyVerifySSLCertificate, `true|false|True|False`, false)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(value, "true"), nil
}

// CloudInitExtraScript is passed to servers as user data.
func (c *Config) CloudInitExtraScript() (string, error) {
	return c.get(keyCloudInitExtraScript, `.+`, true)
}

// WaitForServerTimeout bounds, in seconds, how long to wait for server state
// changes.
func (c *Config) WaitForServerTimeout() (int, error) {
	return c.getInt(keyWaitForServerTimeout, `\d+`)
}

// Quota returns the configured quota for a category, which may be empty.
func (c *Config) Quota(category providers.QuotaCategory) (providers.Quota, error) {
	quota := providers.Quota{}

	raw, ok := c.values[string(category)]
	if !ok || raw == nil {
		return quota, nil
	}

	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a mapping", ErrValidation, category)
	}

	for name, value := range fields {
		i, ok := value.(int)
		if !ok {
			return nil, fmt.Errorf("%w: quota %s -> %s is not an integer", ErrValidation, category, name)
		}

		quota[name] = i
	}

	if err := providers.ValidateQuota(category, quota); err != nil {
		return nil, err
	}

	return quota, nil
}

// Check validates every accessor and quota, so bad configuration is
// reported before anything is touched.
func (c *Config) Check() error {
	checks := []func() error{
		func() error { _, err := c.AdminDomainPassword(); return err },
		func() error { _, err := c.AdminVMPassword(); return err },
		func() error { _, err := c.AdminVMSSHKey(); return err },
		func() error { _, err := c.AdminVMSSHKeypairName(); return err },
		func() error { _, err := c.ProjectIPv4Subnet(); return err },
		func() error { _, err := c.PublicNetwork(); return err },
		func() error { _, err := c.NetworkMTU(); return err },
		func() error { _, err := c.NumberOfFloatingIPsPerProject(); return err },
		func() error { _, err := c.VMFlavor(); return err },
		func() error { _, err := c.VMImage(); return err },
		func() error { _, err := c.VMVolumeSizeGB(); return err },
		func() error { _, err := c.VerifySSLCertificate(); return err },
		func() error { _, err := c.CloudInitExtraScript(); return err },
		func() error { _, err := c.WaitForServerTimeout(); return err },
	}

	for _, category := range providers.QuotaCategories {
		checks = append(checks, func() error { _, err := c.Quota(category); return err })
	}

	var errs []error

	for _, check := range checks {
		if err := check(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Effective renders the merged configuration as YAML.
func (c *Config) Effective() (string, error) {
	data, err := yaml.Marshal(c.values)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// ShowEffective checks the configuration and logs it.
func (c *Config) ShowEffective(ctx context.Context) error {
	log := log.FromContext(ctx)

	if err := c.Check(); err != nil {
		return err
	}

	effective, err := c.Effective()
	if err != nil {
		return err
	}

	log.Info("effective configuration", "path", c.file, "config", effective)

	return nil
}
