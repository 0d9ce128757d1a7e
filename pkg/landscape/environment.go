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
	"errors"
	"fmt"
	"time"

	"github.com/unikorn-cloud/workload-generator/pkg/config"
	"github.com/unikorn-cloud/workload-generator/pkg/ident"
	"github.com/unikorn-cloud/workload-generator/pkg/lookup"
	"github.com/unikorn-cloud/workload-generator/pkg/metrics"
	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// defaultPollInterval is how often server state is checked while waiting.
	defaultPollInterval = 5 * time.Second

	// lookupCacheSize bounds the number of role, flavor and image names held.
	lookupCacheSize = 1024
)

// Environment is everything shared by a run.
type Environment struct {
	// Cloud is the administrative connection.
	Cloud openstack.Cloud

	// Config is the validated profile.
	Config *config.Config

	// Idents describes domain and project IDs in log messages.
	Idents *ident.Cache

	// Lookups resolves role, flavor and image names.
	Lookups *lookup.Cache

	// Metrics records what was done.
	Metrics *metrics.Recorder

	// PollInterval is how often to check server state.
	PollInterval time.Duration
}

// NewEnvironment creates the shared state for a run.
func NewEnvironment(cloud openstack.Cloud, cfg *config.Config, recorder *metrics.Recorder) (*Environment, error) {
	lookups, err := lookup.New(lookupCacheSize)
	if err != nil {
		return nil, err
	}

	env := &Environment{
		Cloud:        cloud,
		Config:       cfg,
		Idents:       ident.New(),
		Lookups:      lookups,
		Metrics:      recorder,
		PollInterval: defaultPollInterval,
	}

	return env, nil
}

// roleID resolves a role name.  Optional roles that don't exist are
// logged and reported as not found with no error.
func (e *Environment) roleID(ctx context.Context, name string, mandatory bool) (string, bool, error) {
	log := log.FromContext(ctx)

	identity, err := e.Cloud.Identity(ctx)
	if err != nil {
		return "", false, err
	}

	list := func(ctx context.Context) ([]lookup.Entry, error) {
		roles, err := identity.ListRoles(ctx)
		if err != nil {
			return nil, err
		}

		entries := make([]lookup.Entry, len(roles))

		for i := range roles {
			entries[i] = lookup.Entry{Name: roles[i].Name, ID: roles[i].ID}
		}

		return entries, nil
	}

	id, err := e.Lookups.Resolve(ctx, lookup.Role, name, list)
	if err != nil {
		if !errors.Is(err, lookup.ErrNotFound) {
			return "", false, err
		}

		if mandatory {
			return "", false, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
		}

		log.Info("optional role does not exist, skipping", "role", name)

		return "", false, nil
	}

	return id, true, nil
}

// flavorID resolves a flavor name.
func (e *Environment) flavorID(ctx context.Context, compute openstack.ComputeInterface, name string) (string, error) {
	list := func(ctx context.Context) ([]lookup.Entry, error) {
		flavors, err := compute.Flavors(ctx)
		if err != nil {
			return nil, err
		}

		entries := make([]lookup.Entry, len(flavors))

		for i := range flavors {
			entries[i] = lookup.Entry{Name: flavors[i].Name, ID: flavors[i].ID}
		}

		return entries, nil
	}

	return e.Lookups.Resolve(ctx, lookup.Flavor, name, list)
}

// imageID resolves an image name.
func (e *Environment) imageID(ctx context.Context, image openstack.ImageInterface, name string) (string, error) {
	list := func(ctx context.Context) ([]lookup.Entry, error) {
		images, err := image.Images(ctx)
		if err != nil {
			return nil, err
		}

		entries := make([]lookup.Entry, len(images))

		for i := range images {
			entries[i] = lookup.Entry{Name: images[i].Name, ID: images[i].ID}
		}

		return entries, nil
	}

	return e.Lookups.Resolve(ctx, lookup.Image, name, list)
}

// serverTimeout is how long to wait for a server to change state.
func (e *Environment) serverTimeout() (time.Duration, error) {
	seconds, err := e.Config.WaitForServerTimeout()
	if err != nil {
		return 0, err
	}

	return time.Duration(seconds) * time.Second, nil
}
