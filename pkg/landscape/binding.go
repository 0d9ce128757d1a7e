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
	"errors"
	"fmt"

	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"
)

var (
	// ErrConsistency is raised when the cloud is in a state we could not
	// have put it in.
	ErrConsistency = errors.New("consistency violation")

	// ErrNotImplemented is raised for cases nobody has needed yet.
	ErrNotImplemented = errors.New("not implemented")

	// ErrRoleNotFound is raised when a mandatory role doesn't exist.
	ErrRoleNotFound = errors.New("role not found")

	// ErrNoNetwork is raised when a machine is requested in a project
	// without a network.
	ErrNoNetwork = errors.New("no network")

	// ErrNoAddress is raised when a machine has no fixed address.
	ErrNoAddress = errors.New("no address")

	// ErrNotBound is raised when an operation needs a resource that
	// doesn't exist yet.
	ErrNotBound = errors.New("resource not bound")
)

// Binding is either absent, or bound to the cloud resource a name refers to.
type Binding[T any] struct {
	obj *T
}

// Bound returns a binding to an existing resource.
func Bound[T any](obj *T) Binding[T] {
	return Binding[T]{
		obj: obj,
	}
}

// Get returns the resource and whether it exists.
func (b Binding[T]) Get() (*T, bool) {
	return b.obj, b.obj != nil
}

// IsBound tells whether the resource exists.
func (b Binding[T]) IsBound() bool {
	return b.obj != nil
}

// Require returns the resource, or an error if it's absent.
func (b Binding[T]) Require(kind, name string) (*T, error) {
	if b.obj == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotBound, kind, name)
	}

	return b.obj, nil
}

// Bind records the resource exists.
func (b *Binding[T]) Bind(obj *T) {
	b.obj = obj
}

// Unbind records the resource is gone.
func (b *Binding[T]) Unbind() {
	b.obj = nil
}

// discover turns a name lookup into a binding, only a missing resource is
// absent, anything else including ambiguity is an error.
func discover[T any](obj *T, err error) (Binding[T], error) {
	if err != nil {
		if openstack.IsNotFound(err) {
			return Binding[T]{}, nil
		}

		return Binding[T]{}, err
	}

	return Bound(obj), nil
}

// ignoreNotFound swallows errors for resources that are already gone.
func ignoreNotFound(err error) error {
	if openstack.IsNotFound(err) {
		return nil
	}

	return err
}
