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
package cloudsconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gophercloud/utils/v2/openstack/clientconfig"
	"github.com/stretchr/testify/require"
	ini "gopkg.in/ini.v1"

	"k8s.io/utils/ptr"

	"sigs.k8s.io/yaml"
)

func testCloud(project string) clientconfig.Cloud {
	return clientconfig.Cloud{
		AuthInfo: &clientconfig.AuthInfo{
			AuthURL:           "https://keystone.example.com:5000/v3",
			Username:          "d1-admin",
			Password:          "secret-password",
			ProjectName:       project,
			ProjectDomainName: "d1",
			UserDomainName:    "d1",
		},
		Verify:             ptr.To(false),
		IdentityAPIVersion: IdentityAPIVersion,
	}
}

// TestDeepMerge checks nested maps combine and leaves overwrite.
func TestDeepMerge(t *testing.T) {
	t.Parallel()

	existing := map[string]any{
		"clouds": map[string]any{
			"a": map[string]any{"y": 2},
			"b": map[string]any{},
		},
	}

	update := map[string]any{
		"clouds": map[string]any{
			"a": map[string]any{"x": 1},
		},
	}

	expected := map[string]any{
		"clouds": map[string]any{
			"a": map[string]any{"x": 1, "y": 2},
			"b": map[string]any{},
		},
	}

	require.Equal(t, expected, DeepMerge(existing, update))

	// Inputs are left alone.
	require.Equal(t, map[string]any{"y": 2}, existing["clouds"].(map[string]any)["a"])
}

// TestDeepMergeLeaf checks a leaf replaces a map and vice versa.
func TestDeepMergeLeaf(t *testing.T) {
	t.Parallel()

	require.Equal(t, map[string]any{"a": "b"}, DeepMerge(map[string]any{"a": map[string]any{"x": 1}}, map[string]any{"a": "b"}))
	require.Equal(t, map[string]any{"a": map[string]any{"x": 1}}, DeepMerge(map[string]any{"a": "b"}, map[string]any{"a": map[string]any{"x": 1}}))
	require.Equal(t, map[string]any{"a": 1}, DeepMerge(nil, map[string]any{"a": 1}))
}

// TestWriteCloudsYAMLNew checks a new file is created without a backup.
func TestWriteCloudsYAMLNew(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "clouds.yaml")

	clouds := map[string]clientconfig.Cloud{
		"d1-p1": testCloud("p1"),
	}

	require.NoError(t, WriteCloudsYAML(context.Background(), path, clouds, time.Now()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var result clientconfig.Clouds

	require.NoError(t, yaml.Unmarshal(data, &result))
	require.Contains(t, result.Clouds, "d1-p1")

	cloud := result.Clouds["d1-p1"]
	require.Equal(t, "p1", cloud.AuthInfo.ProjectName)
	require.Equal(t, "d1", cloud.AuthInfo.ProjectDomainName)
	require.Equal(t, "3", cloud.IdentityAPIVersion)
	require.NotNil(t, cloud.Verify)
	require.False(t, *cloud.Verify)
}

// TestWriteCloudsYAMLMerge checks existing entries survive and a backup is made.
func TestWriteCloudsYAMLMerge(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "clouds.yaml")

	existing := []byte(`clouds:
  admin:
    auth:
      auth_url: https://keystone.example.com:5000/v3
      username: admin
    region_name: RegionOne
  d1-p1:
    region_name: RegionOne
`)

	require.NoError(t, os.WriteFile(path, existing, 0o600))

	now := time.Date(2024, 5, 1, 13, 14, 15, 0, time.UTC)

	clouds := map[string]clientconfig.Cloud{
		"d1-p1": testCloud("p1"),
	}

	require.NoError(t, WriteCloudsYAML(context.Background(), path, clouds, now))

	backup, err := os.ReadFile(filepath.Join(dir, "clouds.yaml_2024-05-01_13-14-15"))
	require.NoError(t, err)
	require.Equal(t, existing, backup)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var result clientconfig.Clouds

	require.NoError(t, yaml.Unmarshal(data, &result))
	require.Contains(t, result.Clouds, "admin")
	require.Equal(t, "admin", result.Clouds["admin"].AuthInfo.Username)

	// Keys not in the update are kept.
	require.Equal(t, "RegionOne", result.Clouds["d1-p1"].RegionName)
	require.Equal(t, "d1-admin", result.Clouds["d1-p1"].AuthInfo.Username)
}

// TestWriteCloudsYAMLMalformed checks a broken file is not overwritten.
func TestWriteCloudsYAMLMalformed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clouds.yaml")

	require.NoError(t, os.WriteFile(path, []byte("clouds: [\n"), 0o600))

	err := WriteCloudsYAML(context.Background(), path, map[string]clientconfig.Cloud{"d1-p1": testCloud("p1")}, time.Now())
	require.ErrorIs(t, err, ErrCloudConfiguration)
}

// TestWriteCloudConf checks the INI output.
func TestWriteCloudConf(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "conf")
	cloud := testCloud("p1")

	path, err := WriteCloudConf(context.Background(), dir, "d1-p1", &cloud)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "d1-p1.conf"), path)

	file, err := ini.Load(path)
	require.NoError(t, err)

	global := file.Section("Global")
	require.Equal(t, "https://keystone.example.com:5000/v3", global.Key("auth-url").String())
	require.Equal(t, "d1-admin", global.Key("username").String())
	require.Equal(t, "secret-password", global.Key("password").String())
	require.Equal(t, "p1", global.Key("tenant-name").String())
	require.Equal(t, "d1", global.Key("domain-name").String())
	require.Equal(t, "true", global.Key("tls-insecure").String())
}

// TestGenerateCloudConfigNoAuth checks auth information is required.
func TestGenerateCloudConfigNoAuth(t *testing.T) {
	t.Parallel()

	_, err := GenerateCloudConfig(&clientconfig.Cloud{})
	require.ErrorIs(t, err, ErrCloudConfiguration)
}
