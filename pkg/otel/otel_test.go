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
package otel

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type lines struct {
	lock  sync.Mutex
	lines []string
}

func (l *lines) logger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		l.lock.Lock()
		defer l.lock.Unlock()

		l.lines = append(l.lines, args)
	}, funcr.Options{})
}

func (l *lines) all() string {
	l.lock.Lock()
	defer l.lock.Unlock()

	return strings.Join(l.lines, "\n")
}

// TestLoggingSpanProcessor checks completed spans are logged with their
// attributes.
func TestLoggingSpanProcessor(t *testing.T) {
	t.Parallel()

	var output lines

	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(&LoggingSpanProcessor{Logger: output.logger()}))

	_, span := provider.Tracer("test").Start(t.Context(), "/compute/v2/servers")
	span.SetAttributes(attribute.String("server.name", "alpha"))
	span.End()

	require.NoError(t, provider.Shutdown(t.Context()))

	logged := output.all()
	require.Contains(t, logged, `"span end"`)
	require.Contains(t, logged, `"span.name"="/compute/v2/servers"`)
	require.Contains(t, logged, `"server.name"="alpha"`)
}

// TestSetup checks a provider is installed without an exporter and spans
// are only logged when asked for.
//
//nolint:paralleltest
func TestSetup(t *testing.T) {
	var output lines

	options := &Options{
		LogSpans: true,
	}

	shutdown, err := Setup(t.Context(), options, output.logger())
	require.NoError(t, err)

	_, span := otel.GetTracerProvider().Tracer("test").Start(t.Context(), "/identity/v3/domains")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	require.Contains(t, output.all(), `"span.name"="/identity/v3/domains"`)
}
