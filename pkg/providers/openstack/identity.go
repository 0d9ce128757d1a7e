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

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/domains"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/roles"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/tokens"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/users"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"

	"k8s.io/utils/ptr"
)

// IdentityClient wraps up gophercloud identity management.
type IdentityClient struct {
	client *gophercloud.ServiceClient
}

// Ensure the interface is implemented.
var _ IdentityInterface = &IdentityClient{}

// NewIdentityClient returns a new identity client.
func NewIdentityClient(ctx context.Context, provider CredentialProvider) (*IdentityClient, error) {
	providerClient, err := provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	identity, err := openstack.NewIdentityV3(providerClient, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, err
	}

	client := &IdentityClient{
		client: identity,
	}

	return client, nil
}

// GetDomain looks up a domain by name.
func (c *IdentityClient) GetDomain(ctx context.Context, name string) (*domains.Domain, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/domains", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := domains.List(c.client, &domains.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	result, err := domains.ExtractDomains(page)
	if err != nil {
		return nil, err
	}

	return exactlyOne(result, "domain", name)
}

// CreateDomain creates an enabled domain.
func (c *IdentityClient) CreateDomain(ctx context.Context, name, description string) (*domains.Domain, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/domains", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &domains.CreateOpts{
		Name:        name,
		Description: description,
		Enabled:     ptr.To(true),
	}

	return domains.Create(ctx, c.client, opts).Extract()
}

// DisableDomain disables a domain, keystone refuses to delete enabled ones.
func (c *IdentityClient) DisableDomain(ctx context.Context, domainID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/domains/"+domainID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &domains.UpdateOpts{
		Enabled: ptr.To(false),
	}

	return domains.Update(ctx, c.client, domainID, opts).Err
}

func (c *IdentityClient) DeleteDomain(ctx context.Context, domainID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/domains/"+domainID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return domains.Delete(ctx, c.client, domainID).Err
}

// GetUser looks up a user by name within a domain.
func (c *IdentityClient) GetUser(ctx context.Context, domainID, name string) (*users.User, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/users", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := users.List(c.client, &users.ListOpts{DomainID: domainID, Name: name}).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	result, err := users.ExtractUsers(page)
	if err != nil {
		return nil, err
	}

	return exactlyOne(result, "user", name)
}

// CreateUser creates an enabled user with a password.
func (c *IdentityClient) CreateUser(ctx context.Context, domainID, name, password string) (*users.User, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/users", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &users.CreateOpts{
		DomainID: domainID,
		Name:     name,
		Password: password,
		Enabled:  ptr.To(true),
	}

	return users.Create(ctx, c.client, opts).Extract()
}

func (c *IdentityClient) DeleteUser(ctx context.Context, userID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/users/"+userID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return users.Delete(ctx, c.client, userID).Err
}

// ListProjects lists all projects in a domain.
func (c *IdentityClient) ListProjects(ctx context.Context, domainID string) ([]projects.Project, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/projects", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := projects.List(c.client, &projects.ListOpts{DomainID: domainID}).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	return projects.ExtractProjects(page)
}

// GetProject looks up a project by name within a domain.
func (c *IdentityClient) GetProject(ctx context.Context, domainID, name string) (*projects.Project, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/projects", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := projects.List(c.client, &projects.ListOpts{DomainID: domainID, Name: name}).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	result, err := projects.ExtractProjects(page)
	if err != nil {
		return nil, err
	}

	return exactlyOne(result, "project", name)
}

// CreateProject creates the named project.
func (c *IdentityClient) CreateProject(ctx context.Context, domainID, name, description string) (*projects.Project, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/projects", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := &projects.CreateOpts{
		DomainID:    domainID,
		Name:        name,
		Description: description,
		Enabled:     ptr.To(true),
	}

	return projects.Create(ctx, c.client, opts).Extract()
}

func (c *IdentityClient) DeleteProject(ctx context.Context, projectID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/projects/"+projectID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return projects.Delete(ctx, c.client, projectID).Err
}

// ListRoles lists all roles, callers are expected to cache the result.
func (c *IdentityClient) ListRoles(ctx context.Context) ([]roles.Role, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/roles", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := roles.List(c.client, &roles.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	return roles.ExtractRoles(page)
}

// AssignDomainRole grants a role to a user on a domain.
func (c *IdentityClient) AssignDomainRole(ctx context.Context, roleID, domainID, userID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/domains/"+domainID+"/users/"+userID+"/roles/"+roleID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := roles.AssignOpts{
		UserID:   userID,
		DomainID: domainID,
	}

	return roles.Assign(ctx, c.client, roleID, opts).ExtractErr()
}

// AssignProjectRole grants a role to a user on a project.
func (c *IdentityClient) AssignProjectRole(ctx context.Context, roleID, projectID, userID string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/projects/"+projectID+"/users/"+userID+"/roles/"+roleID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	opts := roles.AssignOpts{
		UserID:    userID,
		ProjectID: projectID,
	}

	return roles.Assign(ctx, c.client, roleID, opts).ExtractErr()
}

// RevokeToken invalidates a token, used to log out of scoped connections.
func (c *IdentityClient) RevokeToken(ctx context.Context, token string) error {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/identity/v3/auth/tokens", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	return tokens.Revoke(ctx, c.client, token).Err
}
