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
	"maps"
	"slices"

	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/domains"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"
	"github.com/unikorn-cloud/workload-generator/pkg/metrics"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Domain is the top of a landscape, it owns a user and projects.
type Domain struct {
	env *Environment

	name string

	obj Binding[domains.Domain]

	// user is nil until the domain exists.
	user *User

	projects map[string]*Project
}

// NewDomain looks up a domain by name, along with everything in it.
func NewDomain(ctx context.Context, env *Environment, name string) (*Domain, error) {
	identity, err := env.Cloud.Identity(ctx)
	if err != nil {
		return nil, err
	}

	domain, err := identity.GetDomain(ctx, name)

	obj, err := discover(domain, err)
	if err != nil {
		return nil, err
	}

	d := &Domain{
		env:      env,
		name:     name,
		obj:      obj,
		projects: map[string]*Project{},
	}

	if _, ok := obj.Get(); !ok {
		return d, nil
	}

	if err := d.load(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

// load discovers the user and projects of an existing domain.
func (d *Domain) load(ctx context.Context) error {
	obj, err := d.obj.Require("domain", d.name)
	if err != nil {
		return err
	}

	d.env.Idents.AddDomain(obj.ID, obj.Name)

	if d.user, err = newUser(ctx, d.env, obj); err != nil {
		return err
	}

	identity, err := d.env.Cloud.Identity(ctx)
	if err != nil {
		return err
	}

	projects, err := identity.ListProjects(ctx, obj.ID)
	if err != nil {
		return err
	}

	for i := range projects {
		project, err := loadProject(ctx, d.env, obj, d.user, projects[i].Name, Bound(&projects[i]))
		if err != nil {
			return err
		}

		d.projects[projects[i].Name] = project
	}

	return nil
}

// Name is the domain name.
func (d *Domain) Name() string {
	return d.name
}

// Domain returns the domain, if it exists.
func (d *Domain) Domain() (*domains.Domain, bool) {
	return d.obj.Get()
}

// User returns the domain's administrative user, nil if the domain
// doesn't exist.
func (d *Domain) User() *User {
	return d.user
}

// CreateAndGetDomain creates the domain if it doesn't exist.
func (d *Domain) CreateAndGetDomain(ctx context.Context) (*domains.Domain, error) {
	log := log.FromContext(ctx)

	if obj, ok := d.obj.Get(); ok {
		log.Info("domain already exists", "domain", d.env.Idents.Domain(obj.ID))

		return obj, nil
	}

	identity, err := d.env.Cloud.Identity(ctx)
	if err != nil {
		return nil, err
	}

	obj, err := identity.CreateDomain(ctx, d.name, "Automated creation")
	if err != nil {
		return nil, err
	}

	d.obj.Bind(obj)
	d.env.Idents.AddDomain(obj.ID, obj.Name)
	d.env.Metrics.Record(metrics.Domain, metrics.Created)

	log.Info("created domain", "domain", d.env.Idents.Domain(obj.ID))

	if d.user, err = newUser(ctx, d.env, obj); err != nil {
		return nil, err
	}

	return obj, nil
}

// CreateAndGetProjects creates the user and any missing projects, each
// project is fully reconciled before moving on to the next.
func (d *Domain) CreateAndGetProjects(ctx context.Context, names []string) error {
	log := log.FromContext(ctx)

	obj, err := d.obj.Require("domain", d.name)
	if err != nil {
		return err
	}

	if _, err := d.user.CreateAndGetUser(ctx); err != nil {
		return err
	}

	if slices.Contains(names, constants.NoneSentinel) {
		log.Info("not creating projects, none requested", "domain", d.env.Idents.Domain(obj.ID))

		return nil
	}

	for _, name := range names {
		project, ok := d.projects[name]
		if !ok {
			if project, err = newProject(ctx, d.env, obj, d.user, name); err != nil {
				return err
			}
		}

		if err := d.createAndGetProject(ctx, project); err != nil {
			return err
		}

		d.projects[name] = project
	}

	return nil
}

func (d *Domain) createAndGetProject(ctx context.Context, project *Project) (err error) {
	defer func() {
		if cerr := project.CloseConnection(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := project.CreateAndGetProject(ctx); err != nil {
		return err
	}

	return project.GetOrCreateSSHKey(ctx)
}

// CreateAndGetMachines creates machines in each of the named projects.
func (d *Domain) CreateAndGetMachines(ctx context.Context, projectNames, names []string, wait bool) error {
	for _, project := range d.GetProjects(projectNames) {
		if err := project.GetAndCreateMachines(ctx, names, wait); err != nil {
			return err
		}
	}

	return nil
}

// GetProjects returns the projects that were asked for, anything that
// isn't known is ignored.
func (d *Domain) GetProjects(names []string) []*Project {
	var result []*Project

	for _, name := range names {
		if project, ok := d.projects[name]; ok {
			result = append(result, project)
		}
	}

	return result
}

func (d *Domain) sortedProjects() []*Project {
	return d.GetProjects(slices.Sorted(maps.Keys(d.projects)))
}

// DeleteProjects deletes the given projects, leaving the domain in place.
func (d *Domain) DeleteProjects(ctx context.Context, projects []*Project) error {
	for _, project := range projects {
		if err := project.DeleteProject(ctx); err != nil {
			return err
		}

		delete(d.projects, project.Name())
	}

	return nil
}

// DeleteDomain deletes the domain and everything in it.
func (d *Domain) DeleteDomain(ctx context.Context) error {
	log := log.FromContext(ctx)

	obj, ok := d.obj.Get()
	if !ok {
		log.Info("domain does not exist", "domain", d.name)

		return nil
	}

	if err := d.DeleteProjects(ctx, d.sortedProjects()); err != nil {
		return err
	}

	if d.user != nil {
		if err := d.user.DeleteUser(ctx); err != nil {
			return err
		}
	}

	identity, err := d.env.Cloud.Identity(ctx)
	if err != nil {
		return err
	}

	log.Info("disabling domain", "domain", d.env.Idents.Domain(obj.ID))

	if err := ignoreNotFound(identity.DisableDomain(ctx, obj.ID)); err != nil {
		return err
	}

	log.Info("deleting domain", "domain", d.env.Idents.Domain(obj.ID))

	if err := ignoreNotFound(identity.DeleteDomain(ctx, obj.ID)); err != nil {
		return err
	}

	d.obj.Unbind()
	d.env.Metrics.Record(metrics.Domain, metrics.Deleted)

	return nil
}
