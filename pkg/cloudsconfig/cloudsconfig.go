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

// Package cloudsconfig exports client configuration for provisioned
// projects, either as clouds.yaml entries or as per-project cloud.conf
// files.
package cloudsconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gophercloud/utils/v2/openstack/clientconfig"
	ini "gopkg.in/ini.v1"

	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"
)

var (
	// ErrCloudConfiguration is raised when a cloud can't be expressed.
	ErrCloudConfiguration = errors.New("cloud configuration error")
)

const (
	// BackupTimeFormat is appended to a replaced clouds.yaml.
	BackupTimeFormat = "2006-01-02_15-04-05"

	// IdentityAPIVersion is the only version supported.
	IdentityAPIVersion = "3"
)

// DeepMerge combines src into dst, returning a new map.  Maps present in
// both are merged recursively, anything else in src replaces dst.
func DeepMerge(dst, src map[string]any) map[string]any {
	result := maps.Clone(dst)
	if result == nil {
		result = map[string]any{}
	}

	for key, value := range src {
		srcMap, srcOK := value.(map[string]any)
		dstMap, dstOK := result[key].(map[string]any)

		if srcOK && dstOK {
			result[key] = DeepMerge(dstMap, srcMap)

			continue
		}

		result[key] = value
	}

	return result
}

// toMap converts clouds into generic YAML for merging.
func toMap(clouds *clientconfig.Clouds) (map[string]any, error) {
	data, err := yaml.Marshal(clouds)
	if err != nil {
		return nil, err
	}

	var result map[string]any

	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return result, nil
}

// BackupPath is where an existing file is moved to.
func BackupPath(path string, now time.Time) string {
	return path + "_" + now.Format(BackupTimeFormat)
}

// WriteCloudsYAML adds the clouds to the file at path.  Any existing file is
// backed up first and its other entries are preserved.
func WriteCloudsYAML(ctx context.Context, path string, clouds map[string]clientconfig.Cloud, now time.Time) error {
	log := log.FromContext(ctx)

	merged, err := toMap(&clientconfig.Clouds{Clouds: clouds})
	if err != nil {
		return err
	}

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err == nil {
		var current map[string]any

		if err := yaml.Unmarshal(existing, &current); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCloudConfiguration, path, err)
		}

		backup := BackupPath(path, now)

		if err := os.WriteFile(backup, existing, 0o600); err != nil {
			return err
		}

		log.Info("backed up existing clouds file", "path", path, "backup", backup)

		merged = DeepMerge(current, merged)
	}

	data, err := yaml.Marshal(merged)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}

	log.Info("wrote clouds file", "path", path, "clouds", len(clouds))

	return nil
}

// GenerateCloudConfig translates a clouds.yaml entry into the INI format
// used by cloud provider integrations.
func GenerateCloudConfig(cloud *clientconfig.Cloud) (string, error) {
	if cloud.AuthInfo == nil {
		return "", fmt.Errorf("%w: no authentication information", ErrCloudConfiguration)
	}

	insecure := cloud.Verify != nil && !*cloud.Verify

	cloudConfig := ini.Empty()

	global, err := cloudConfig.NewSection("Global")
	if err != nil {
		return "", err
	}

	keys := []struct {
		name  string
		value string
	}{
		{"auth-url", cloud.AuthInfo.AuthURL},
		{"username", cloud.AuthInfo.Username},
		{"password", cloud.AuthInfo.Password},
		{"tenant-name", cloud.AuthInfo.ProjectName},
		{"domain-name", cloud.AuthInfo.UserDomainName},
		{"ca-file", cloud.CACertFile},
		{"tls-insecure", strconv.FormatBool(insecure)},
	}

	for _, key := range keys {
		if _, err := global.NewKey(key.name, key.value); err != nil {
			return "", err
		}
	}

	buffer := &bytes.Buffer{}

	if _, err := cloudConfig.WriteTo(buffer); err != nil {
		return "", err
	}

	return buffer.String(), nil
}

// CloudConfPath is where a project's cloud.conf is written.
func CloudConfPath(dir, name string) string {
	return filepath.Join(dir, name+".conf")
}

// WriteCloudConf writes a cloud.conf named after the cloud into dir.
func WriteCloudConf(ctx context.Context, dir, name string, cloud *clientconfig.Cloud) (string, error) {
	log := log.FromContext(ctx)

	cloudConfig, err := GenerateCloudConfig(cloud)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := CloudConfPath(dir, name)

	if err := os.WriteFile(path, []byte(cloudConfig), 0o600); err != nil {
		return "", err
	}

	log.Info("wrote cloud config", "path", path)

	return path, nil
}
