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

//nolint:testpackage
package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unikorn-cloud/workload-generator/pkg/landscape"
)

func validOptions() *options {
	return &options{
		Cloud:    "admin",
		LogLevel: "info",
		Landscape: landscape.Options{
			CreateDomains:  []string{"smoke1", "smoke-2"},
			CreateProjects: []string{"test1"},
			CreateMachines: []string{"none"},
			Concurrency:    1,
		},
	}
}

// TestValidate checks well formed names are accepted.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validOptions().validate())
}

// TestValidateItemNames checks names that could not be used as OpenStack
// resource names are rejected.
func TestValidateItemNames(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"-lead", "trail-", "a", "has space", "under_score"} {
		o := validOptions()
		o.Landscape.CreateProjects = []string{name}

		require.Error(t, o.validate(), name)
	}
}

// TestValidateCloudName checks the clouds.yaml entry name is checked.
func TestValidateCloudName(t *testing.T) {
	t.Parallel()

	o := validOptions()
	o.Cloud = "my cloud"

	require.Error(t, o.validate())
}

// TestValidateConcurrency checks concurrency must be positive.
func TestValidateConcurrency(t *testing.T) {
	t.Parallel()

	o := validOptions()
	o.Landscape.Concurrency = 0

	require.Error(t, o.validate())
}

// TestSetupLoggingInvalidLevel checks unknown levels are rejected.
func TestSetupLoggingInvalidLevel(t *testing.T) {
	t.Parallel()

	o := validOptions()
	o.LogLevel = "chatty"

	require.Error(t, o.setupLogging())
}

func execute(t *testing.T, args ...string) error {
	t.Helper()

	cmd := newCommand()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	return cmd.ExecuteContext(t.Context())
}

// TestCommandModeRequired checks one of create or delete must be given.
func TestCommandModeRequired(t *testing.T) {
	t.Parallel()

	require.Error(t, execute(t))
}

// TestCommandModesExclusive checks create and delete can't be combined.
func TestCommandModesExclusive(t *testing.T) {
	t.Parallel()

	require.Error(t, execute(t, "--create-domains", "smoke1", "--delete-domains", "smoke1"))
}

// TestCommandInvalidName checks validation runs before anything else.
func TestCommandInvalidName(t *testing.T) {
	t.Parallel()

	require.ErrorContains(t, execute(t, "--delete-domains", "bad_name"), "invalid arguments")
}
