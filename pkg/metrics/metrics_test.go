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
package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	t.Parallel()

	r := New()

	r.Record(Server, Created)
	r.Record(Server, Created)
	r.Record(Server, Deleted)

	require.InDelta(t, 2, testutil.ToFloat64(r.resources.WithLabelValues(string(Server), string(Created))), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.resources.WithLabelValues(string(Server), string(Deleted))), 0)
}

func TestObserveRun(t *testing.T) {
	t.Parallel()

	r := New()

	require.Equal(t, 20*time.Second, r.ObserveRun(time.Minute, 3))
	require.InDelta(t, 3, testutil.ToFloat64(r.items), 0)
	require.InDelta(t, 20, testutil.ToFloat64(r.rate), 0)

	require.Zero(t, r.ObserveRun(time.Minute, 0))
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	r := New()

	r.Record(Domain, Created)

	require.NoError(t, r.WriteTextfile(&Options{}))

	path := filepath.Join(t.TempDir(), "workload-generator.prom")

	require.NoError(t, r.WriteTextfile(&Options{Textfile: path}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `workload_generator_resources_total{kind="domain",operation="created"} 1`)
}
