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

package openstack

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotAuthenticated is raised when an operation needs a token that
	// hasn't been issued yet.
	ErrNotAuthenticated = errors.New("connection not authenticated")
)

// Provider is a connection to an OpenStack cloud.  Service clients are
// created on first use and share a single authenticated provider client.
type Provider struct {
	// credentials issues the shared provider client.
	credentials *sharedCredentialProvider

	// endpoint is how the cloud is reached.
	endpoint Endpoint

	// scoped connections revoke their token on close.
	scoped bool

	// DO NOT USE DIRECTLY, CALL AN ACCESSOR.
	_identity     *IdentityClient
	_compute      *ComputeClient
	_image        *ImageClient
	_network      *NetworkClient
	_blockStorage *BlockStorageClient

	lock sync.Mutex
}

// Ensure the interface is implemented.
var _ Cloud = &Provider{}

// New returns an administrative connection using clouds.yaml.
func New(cloud string) (*Provider, error) {
	credentials := NewCloudsProvider(cloud)

	endpoint, err := credentials.Endpoint()
	if err != nil {
		return nil, err
	}

	p := &Provider{
		credentials: newSharedCredentialProvider(credentials),
		endpoint:    endpoint,
	}

	return p, nil
}

// Identity implements the Cloud interface.
func (p *Provider) Identity(ctx context.Context) (IdentityInterface, error) {
	return p.identity(ctx)
}

func (p *Provider) identity(ctx context.Context) (*IdentityClient, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p._identity == nil {
		client, err := NewIdentityClient(ctx, p.credentials)
		if err != nil {
			return nil, err
		}

		p._identity = client
	}

	return p._identity, nil
}

// Compute implements the Cloud interface.
func (p *Provider) Compute(ctx context.Context) (ComputeInterface, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p._compute == nil {
		options := &ComputeOptions{
			AllTenants: !p.scoped,
		}

		client, err := NewComputeClient(ctx, p.credentials, options)
		if err != nil {
			return nil, err
		}

		p._compute = client
	}

	return p._compute, nil
}

// Image implements the Cloud interface.
func (p *Provider) Image(ctx context.Context) (ImageInterface, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p._image == nil {
		client, err := NewImageClient(ctx, p.credentials)
		if err != nil {
			return nil, err
		}

		p._image = client
	}

	return p._image, nil
}

// Network implements the Cloud interface.
func (p *Provider) Network(ctx context.Context) (NetworkInterface, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p._network == nil {
		client, err := NewNetworkClient(ctx, p.credentials)
		if err != nil {
			return nil, err
		}

		p._network = client
	}

	return p._network, nil
}

// BlockStorage implements the Cloud interface.
func (p *Provider) BlockStorage(ctx context.Context) (BlockStorageInterface, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p._blockStorage == nil {
		client, err := NewBlockStorageClient(ctx, p.credentials)
		if err != nil {
			return nil, err
		}

		p._blockStorage = client
	}

	return p._blockStorage, nil
}

// ConnectAs implements the Cloud interface.
func (p *Provider) ConnectAs(ctx context.Context, scope *ProjectScope) (Cloud, error) {
	parent, err := p.credentials.Client(ctx)
	if err != nil {
		return nil, err
	}

	credentials := NewScopedPasswordProvider(p.endpoint.AuthURL, parent.HTTPClient, *scope)

	scoped := &Provider{
		credentials: newSharedCredentialProvider(credentials),
		endpoint:    p.endpoint,
		scoped:      true,
	}

	// Authenticate now so bad credentials are reported here rather than
	// on first use.
	if _, err := scoped.credentials.Client(ctx); err != nil {
		return nil, err
	}

	return scoped, nil
}

// Endpoint implements the Cloud interface.
func (p *Provider) Endpoint() Endpoint {
	return p.endpoint
}

// Close implements the Cloud interface.  Scoped connections have their
// token revoked.
func (p *Provider) Close(ctx context.Context) error {
	if !p.scoped {
		return nil
	}

	client := p.credentials.authenticated()
	if client == nil {
		return nil
	}

	token := client.Token()
	if token == "" {
		return ErrNotAuthenticated
	}

	identity, err := p.identity(ctx)
	if err != nil {
		return err
	}

	return identity.RevokeToken(ctx, token)
}
