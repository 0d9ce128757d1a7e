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
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/domains"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/roles"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/users"

	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"
)

type identity struct {
	c *Cloud
}

// Ensure the interface is implemented.
var _ openstack.IdentityInterface = &identity{}

func (i *identity) GetDomain(_ context.Context, name string) (*domains.Domain, error) {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.GetDomain", name); err != nil {
		return nil, err
	}

	return one(filter(i.c.s.domains, func(d *domains.Domain) bool { return d.Name == name }), "domain", name)
}

func (i *identity) CreateDomain(_ context.Context, name, description string) (*domains.Domain, error) {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.CreateDomain", name); err != nil {
		return nil, err
	}

	if index(i.c.s.domains, func(d *domains.Domain) bool { return d.Name == name }) >= 0 {
		return nil, responseError(http.MethodPost, "domains", http.StatusConflict)
	}

	domain := domains.Domain{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Enabled:     true,
	}

	i.c.s.domains = append(i.c.s.domains, domain)

	return &domain, nil
}

func (i *identity) DisableDomain(_ context.Context, domainID string) error {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.DisableDomain", domainID); err != nil {
		return err
	}

	n := index(i.c.s.domains, func(d *domains.Domain) bool { return d.ID == domainID })
	if n < 0 {
		return responseError(http.MethodPatch, "domains/"+domainID, http.StatusNotFound)
	}

	i.c.s.domains[n].Enabled = false

	return nil
}

func (i *identity) DeleteDomain(_ context.Context, domainID string) error {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.DeleteDomain", domainID); err != nil {
		return err
	}

	n := index(i.c.s.domains, func(d *domains.Domain) bool { return d.ID == domainID })
	if n < 0 {
		return responseError(http.MethodDelete, "domains/"+domainID, http.StatusNotFound)
	}

	if i.c.s.domains[n].Enabled {
		return responseError(http.MethodDelete, "domains/"+domainID, http.StatusForbidden)
	}

	i.c.s.domains = slices.Delete(i.c.s.domains, n, n+1)

	return nil
}

func (i *identity) GetUser(_ context.Context, domainID, name string) (*users.User, error) {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.GetUser", name); err != nil {
		return nil, err
	}

	u, err := one(filter(i.c.s.users, func(u *user) bool { return u.DomainID == domainID && u.Name == name }), "user", name)
	if err != nil {
		return nil, err
	}

	return &u.User, nil
}

func (i *identity) CreateUser(_ context.Context, domainID, name, password string) (*users.User, error) {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.CreateUser", name); err != nil {
		return nil, err
	}

	u := user{
		User: users.User{
			ID:       uuid.NewString(),
			DomainID: domainID,
			Name:     name,
			Enabled:  true,
		},
		password: password,
	}

	i.c.s.users = append(i.c.s.users, u)

	return &u.User, nil
}

func (i *identity) DeleteUser(_ context.Context, userID string) error {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.DeleteUser", userID); err != nil {
		return err
	}

	n := index(i.c.s.users, func(u *user) bool { return u.ID == userID })
	if n < 0 {
		return responseError(http.MethodDelete, "users/"+userID, http.StatusNotFound)
	}

	i.c.s.users = slices.Delete(i.c.s.users, n, n+1)
	i.c.s.assignments = slices.DeleteFunc(i.c.s.assignments, func(a Assignment) bool { return a.UserID == userID })

	return nil
}

func (i *identity) ListProjects(_ context.Context, domainID string) ([]projects.Project, error) {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.ListProjects", domainID); err != nil {
		return nil, err
	}

	return filter(i.c.s.projects, func(p *projects.Project) bool { return p.DomainID == domainID }), nil
}

func (i *identity) GetProject(_ context.Context, domainID, name string) (*projects.Project, error) {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.GetProject", name); err != nil {
		return nil, err
	}

	return one(filter(i.c.s.projects, func(p *projects.Project) bool { return p.DomainID == domainID && p.Name == name }), "project", name)
}

func (i *identity) CreateProject(_ context.Context, domainID, name, description string) (*projects.Project, error) {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.CreateProject", name); err != nil {
		return nil, err
	}

	if index(i.c.s.domains, func(d *domains.Domain) bool { return d.ID == domainID }) < 0 {
		return nil, responseError(http.MethodPost, "projects", http.StatusBadRequest)
	}

	project := projects.Project{
		ID:          uuid.NewString(),
		DomainID:    domainID,
		Name:        name,
		Description: description,
		Enabled:     true,
	}

	i.c.s.projects = append(i.c.s.projects, project)

	return &project, nil
}

func (i *identity) DeleteProject(_ context.Context, projectID string) error {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.DeleteProject", projectID); err != nil {
		return err
	}

	n := index(i.c.s.projects, func(p *projects.Project) bool { return p.ID == projectID })
	if n < 0 {
		return responseError(http.MethodDelete, "projects/"+projectID, http.StatusNotFound)
	}

	i.c.s.projects = slices.Delete(i.c.s.projects, n, n+1)
	i.c.s.assignments = slices.DeleteFunc(i.c.s.assignments, func(a Assignment) bool { return a.ProjectID == projectID })

	return nil
}

func (i *identity) ListRoles(_ context.Context) ([]roles.Role, error) {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.ListRoles"); err != nil {
		return nil, err
	}

	return slices.Clone(i.c.s.roles), nil
}

func (i *identity) AssignDomainRole(_ context.Context, roleID, domainID, userID string) error {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.AssignDomainRole", i.c.roleName(roleID)); err != nil {
		return err
	}

	i.c.assign(Assignment{RoleID: roleID, UserID: userID, DomainID: domainID})

	return nil
}

func (i *identity) AssignProjectRole(_ context.Context, roleID, projectID, userID string) error {
	i.c.s.lock.Lock()
	defer i.c.s.lock.Unlock()

	if err := i.c.record("Identity.AssignProjectRole", i.c.roleName(roleID)); err != nil {
		return err
	}

	i.c.assign(Assignment{RoleID: roleID, UserID: userID, ProjectID: projectID})

	return nil
}

// assign is idempotent like keystone, must be called with the lock held.
func (c *Cloud) assign(assignment Assignment) {
	if !slices.Contains(c.s.assignments, assignment) {
		c.s.assignments = append(c.s.assignments, assignment)
	}
}

// roleName must be called with the lock held.
func (c *Cloud) roleName(roleID string) string {
	for _, role := range c.s.roles {
		if role.ID == roleID {
			return role.Name
		}
	}

	return roleID
}
