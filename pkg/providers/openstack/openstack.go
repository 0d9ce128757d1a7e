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
	"errors"
	"fmt"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"

	"github.com/unikorn-cloud/workload-generator/pkg/providers"
)

var (
	// ErrNotFound is raised when a named resource doesn't exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAmbiguous is raised when a name matches more than one resource,
	// we cannot safely guess which one is meant.
	ErrAmbiguous = errors.New("resource name is ambiguous")
)

// IsNotFound tells whether the error means the resource is gone, either
// from a lookup or because the API returned a 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || gophercloud.ResponseCodeIs(err, http.StatusNotFound)
}

// exactlyOne picks the single match of a name lookup.
func exactlyOne[T any](items []T, kind, name string) (*T, error) {
	switch len(items) {
	case 0:
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, name)
	case 1:
		return &items[0], nil
	}

	return nil, fmt.Errorf("%w: %d %s resources named %s", ErrAmbiguous, len(items), kind, name)
}

// QuotaProvider returns the service responsible for a quota category.
func QuotaProvider(ctx context.Context, cloud Cloud, category providers.QuotaCategory) (providers.QuotaProvider, error) {
	switch category {
	case providers.ComputeQuotas:
		compute, err := cloud.Compute(ctx)
		if err != nil {
			return nil, err
		}

		return compute, nil
	case providers.BlockStorageQuotas:
		blockStorage, err := cloud.BlockStorage(ctx)
		if err != nil {
			return nil, err
		}

		return blockStorage, nil
	case providers.NetworkQuotas:
		network, err := cloud.Network(ctx)
		if err != nil {
			return nil, err
		}

		return network, nil
	}

	return nil, fmt.Errorf("%w: %s", providers.ErrUnknownQuotaCategory, category)
}
