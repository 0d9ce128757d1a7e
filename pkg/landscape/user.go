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

	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/domains"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/users"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"
	"github.com/unikorn-cloud/workload-generator/pkg/metrics"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// User is a domain's administrative user, projects are accessed as them.
type User struct {
	env *Environment

	domain *domains.Domain

	name     string
	password string

	obj Binding[users.User]
}

// newUser looks up the administrative user of a domain.
func newUser(ctx context.Context, env *Environment, domain *domains.Domain) (*User, error) {
	password, err := env.Config.AdminDomainPassword()
	if err != nil {
		return nil, err
	}

	identity, err := env.Cloud.Identity(ctx)
	if err != nil {
		return nil, err
	}

	name := domain.Name + constants.UserSuffix

	user, err := identity.GetUser(ctx, domain.ID, name)

	obj, err := discover(user, err)
	if err != nil {
		return nil, err
	}

	u := &User{
		env:      env,
		domain:   domain,
		name:     name,
		password: password,
		obj:      obj,
	}

	return u, nil
}

// Name is the login name.
func (u *User) Name() string {
	return u.name
}

// Password is the login password.
func (u *User) Password() string {
	return u.password
}

// ID returns the user ID, if it exists.
func (u *User) ID() (string, error) {
	obj, err := u.obj.Require("user", u.name)
	if err != nil {
		return "", err
	}

	return obj.ID, nil
}

// CreateAndGetUser creates the user if required and makes them a domain
// manager.
func (u *User) CreateAndGetUser(ctx context.Context) (*users.User, error) {
	log := log.FromContext(ctx).WithValues("user", u.name, "domain", u.env.Idents.Domain(u.domain.ID))

	if obj, ok := u.obj.Get(); ok {
		log.Info("user already exists", "id", obj.ID)

		return obj, nil
	}

	identity, err := u.env.Cloud.Identity(ctx)
	if err != nil {
		return nil, err
	}

	obj, err := identity.CreateUser(ctx, u.domain.ID, u.name, u.password)
	if err != nil {
		return nil, err
	}

	u.obj.Bind(obj)
	u.env.Metrics.Record(metrics.User, metrics.Created)

	log.Info("created user", "id", obj.ID)

	if err := u.AssignRoleToUser(ctx, "manager", true); err != nil {
		return nil, err
	}

	return obj, nil
}

// AssignRoleToUser grants a domain scoped role.  Optional roles that don't
// exist on the cloud are skipped.
func (u *User) AssignRoleToUser(ctx context.Context, role string, mandatory bool) error {
	log := log.FromContext(ctx)

	userID, err := u.ID()
	if err != nil {
		return err
	}

	roleID, ok, err := u.env.roleID(ctx, role, mandatory)
	if err != nil || !ok {
		return err
	}

	identity, err := u.env.Cloud.Identity(ctx)
	if err != nil {
		return err
	}

	if err := identity.AssignDomainRole(ctx, roleID, u.domain.ID, userID); err != nil {
		return err
	}

	u.env.Metrics.Record(metrics.Role, metrics.Created)

	log.Info("assigned role", "role", role, "user", u.name, "domain", u.env.Idents.Domain(u.domain.ID))

	return nil
}

// DeleteUser deletes the user if it exists.
func (u *User) DeleteUser(ctx context.Context) error {
	log := log.FromContext(ctx)

	obj, ok := u.obj.Get()
	if !ok {
		return nil
	}

	identity, err := u.env.Cloud.Identity(ctx)
	if err != nil {
		return err
	}

	if err := ignoreNotFound(identity.DeleteUser(ctx, obj.ID)); err != nil {
		return err
	}

	u.obj.Unbind()
	u.env.Metrics.Record(metrics.User, metrics.Deleted)

	log.Info("deleted user", "user", obj.Name, "id", obj.ID)

	return nil
}
