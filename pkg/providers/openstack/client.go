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
	"net/http"
	"sync"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/utils/v2/openstack/clientconfig"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"
)

// CredentialProvider abstracts authentication methods.
type CredentialProvider interface {
	// Client returns a new provider client.
	Client(ctx context.Context) (*gophercloud.ProviderClient, error)
}

// CloudsProvider creates a client from clouds.yaml.
type CloudsProvider struct {
	// cloud is the key to lookup in clouds.yaml.
	cloud string
}

// Ensure the interface is implemented.
var _ CredentialProvider = &CloudsProvider{}

// NewCloudsProvider returns a new initialized provider.
func NewCloudsProvider(cloud string) *CloudsProvider {
	return &CloudsProvider{
		cloud: cloud,
	}
}

func (p *CloudsProvider) clientOpts() *clientconfig.ClientOpts {
	return &clientconfig.ClientOpts{
		Cloud: p.cloud,
	}
}

// Endpoint reads connection details for the cloud from clouds.yaml.
func (p *CloudsProvider) Endpoint() (Endpoint, error) {
	cloud, err := clientconfig.GetCloudFromYAML(p.clientOpts())
	if err != nil {
		return Endpoint{}, err
	}

	endpoint := Endpoint{
		CACertFile: cloud.CACertFile,
		Verify:     true,
	}

	if cloud.AuthInfo != nil {
		endpoint.AuthURL = cloud.AuthInfo.AuthURL
	}

	if cloud.Verify != nil {
		endpoint.Verify = *cloud.Verify
	}

	return endpoint, nil
}

// Client implements the Provider interface.
func (p *CloudsProvider) Client(ctx context.Context) (*gophercloud.ProviderClient, error) {
	client, err := clientconfig.AuthenticatedClient(ctx, p.clientOpts())
	if err != nil {
		return nil, err
	}

	client.UserAgent.Prepend(constants.VersionString())

	return client, nil
}

// ScopedPasswordProvider logs in as a domain user with a project scope.
type ScopedPasswordProvider struct {
	// endpoint is the Keystone endpoint to hit to get access to tokens
	// and the service catalog.
	endpoint string

	// httpClient is shared with the parent connection so TLS settings
	// from clouds.yaml carry over.
	httpClient http.Client

	scope ProjectScope
}

// Ensure the interface is implemented.
var _ CredentialProvider = &ScopedPasswordProvider{}

// NewScopedPasswordProvider creates a client that comsumes passwords
// for authentication.
func NewScopedPasswordProvider(endpoint string, httpClient http.Client, scope ProjectScope) *ScopedPasswordProvider {
	return &ScopedPasswordProvider{
		endpoint:   endpoint,
		httpClient: httpClient,
		scope:      scope,
	}
}

// Client implements the Provider interface.
func (p *ScopedPasswordProvider) Client(ctx context.Context) (*gophercloud.ProviderClient, error) {
	client, err := openstack.NewClient(p.endpoint)
	if err != nil {
		return nil, err
	}

	client.HTTPClient = p.httpClient
	client.UserAgent.Prepend(constants.VersionString())

	options := gophercloud.AuthOptions{
		IdentityEndpoint: p.endpoint,
		Username:         p.scope.Username,
		Password:         p.scope.Password,
		DomainID:         p.scope.DomainID,
		Scope: &gophercloud.AuthScope{
			ProjectID: p.scope.ProjectID,
		},
		AllowReauth: true,
	}

	if err := openstack.Authenticate(ctx, client, options); err != nil {
		return nil, err
	}

	return client, nil
}

// sharedCredentialProvider authenticates once and hands the same provider
// client to every service client.
type sharedCredentialProvider struct {
	delegate CredentialProvider

	client *gophercloud.ProviderClient

	lock sync.Mutex
}

// Ensure the interface is implemented.
var _ CredentialProvider = &sharedCredentialProvider{}

func newSharedCredentialProvider(delegate CredentialProvider) *sharedCredentialProvider {
	return &sharedCredentialProvider{
		delegate: delegate,
	}
}

// Client implements the Provider interface.
func (p *sharedCredentialProvider) Client(ctx context.Context) (*gophercloud.ProviderClient, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	client, err := p.delegate.Client(ctx)
	if err != nil {
		return nil, err
	}

	p.client = client

	return client, nil
}

// authenticated returns the provider client if one has been created.
func (p *sharedCredentialProvider) authenticated() *gophercloud.ProviderClient {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.client
}
