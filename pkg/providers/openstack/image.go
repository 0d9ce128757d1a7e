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
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"
)

// ImageClient wraps the generic client because gophercloud is unsafe.
type ImageClient struct {
	client *gophercloud.ServiceClient
}

// Ensure the interface is implemented.
var _ ImageInterface = &ImageClient{}

// NewImageClient provides a simple one-liner to start imaging.
func NewImageClient(ctx context.Context, provider CredentialProvider) (*ImageClient, error) {
	providerClient, err := provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	client, err := openstack.NewImageV2(providerClient, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, err
	}

	c := &ImageClient{
		client: client,
	}

	return c, nil
}

// Images returns a list of images that can be booted.
func (c *ImageClient) Images(ctx context.Context) ([]images.Image, error) {
	tracer := otel.GetTracerProvider().Tracer(constants.Application)

	_, span := tracer.Start(ctx, "/image/v2/images", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	page, err := images.List(c.client, &images.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}

	result, err := images.ExtractImages(page)
	if err != nil {
		return nil, err
	}

	// Filter out images that aren't usable.
	filtered := []images.Image{}

	for i := range result {
		image := result[i]

		if image.Status != images.ImageStatusActive {
			continue
		}

		filtered = append(filtered, image)
	}

	return filtered, nil
}
