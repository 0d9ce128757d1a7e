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

// Package inventory writes ansible host variables for provisioned machines.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"
)

var (
	// ErrInvalidHost is raised when a host can't be reached by ansible.
	ErrInvalidHost = errors.New("invalid host")
)

const (
	// FileName is the host variables file in each host directory.
	FileName = "data.yml"

	documentStart = "---\n"
)

// OpenStack describes where the host lives.
type OpenStack struct {
	MachineID     string `json:"machine_id"`
	MachineStatus string `json:"machine_status"`
	Hypervisor    string `json:"hypervisor"`
	Domain        string `json:"domain"`
	Project       string `json:"project"`
}

// Host is the ansible view of a machine.
type Host struct {
	OpenStack OpenStack `json:"openstack"`

	Hostname    string `json:"hostname"`
	AnsibleHost string `json:"ansible_host"`
	InternalIP  string `json:"internal_ip"`

	SSHCommonArgs string `json:"ansible_ssh_common_args,omitempty"`
}

// NewHost describes a machine.  Machines with a floating IP are reached
// directly, the rest through the proxy jump host, if there is one.
func NewHost(openstack OpenStack, hostname, floatingIP, internalIP, proxyJump string) (*Host, error) {
	if internalIP == "" {
		return nil, fmt.Errorf("%w: %s has no internal address", ErrInvalidHost, hostname)
	}

	host := &Host{
		OpenStack:   openstack,
		Hostname:    hostname,
		AnsibleHost: internalIP,
		InternalIP:  internalIP,
	}

	if floatingIP != "" {
		host.AnsibleHost = floatingIP
	} else if proxyJump != "" {
		host.SSHCommonArgs = fmt.Sprintf("-o ProxyJump=%s ", proxyJump)
	}

	return host, nil
}

// Directory is where the host's variables live.
func (h *Host) Directory(base string) string {
	return filepath.Join(base, fmt.Sprintf("%s-%s-%s", h.OpenStack.Domain, h.OpenStack.Project, h.Hostname))
}

// Write creates or replaces the host's variables file under the base
// directory, returning its path.
func (h *Host) Write(ctx context.Context, base string) (string, error) {
	log := log.FromContext(ctx)

	data, err := yaml.Marshal(h)
	if err != nil {
		return "", err
	}

	directory := h.Directory(base)

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(directory, FileName)

	//nolint:gosec
	if err := os.WriteFile(path, append([]byte(documentStart), data...), 0o644); err != nil {
		return "", err
	}

	log.Info("created ansible inventory file", "path", path, "host", h.Hostname)

	return path, nil
}
