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

package otel

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/unikorn-cloud/workload-generator/pkg/constants"
)

// Options configure tracing.
type Options struct {
	// Endpoint is an optional OTLP HTTP collector URL.
	Endpoint string

	// LogSpans logs every completed span.
	LogSpans bool
}

// AddFlags registers option flags with pflag.
func (o *Options) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.Endpoint, "otlp-endpoint", "", "An optional OTLP HTTP endpoint to ship traces to e.g. http://localhost:4318")
	flags.BoolVar(&o.LogSpans, "log-spans", false, "Log OpenStack API spans as they complete")
}

// logValuesFromSpanContext gets a generic set of key/value pairs from a span
// for logging.
func logValuesFromSpanContext(name string, s trace.SpanContext) []any {
	return []any{
		"span.name", name,
		"span.id", s.SpanID().String(),
		"trace.id", s.TraceID().String(),
	}
}

func logValuesFromSpan(s sdktrace.ReadOnlySpan) []any {
	values := logValuesFromSpanContext(s.Name(), s.SpanContext())

	values = append(values, "duration", s.EndTime().Sub(s.StartTime()).String())

	for _, attribute := range s.Attributes() {
		values = append(values, string(attribute.Key), attribute.Value.Emit())
	}

	if status := s.Status(); status.Description != "" {
		values = append(values, "status", status.Description)
	}

	return values
}

// LoggingSpanProcessor logs completed spans with whatever logger it is
// given.
type LoggingSpanProcessor struct {
	Logger logr.Logger
}

// Check the correct interface is implmented.
var _ sdktrace.SpanProcessor = &LoggingSpanProcessor{}

func (*LoggingSpanProcessor) OnStart(_ context.Context, _ sdktrace.ReadWriteSpan) {
}

func (p *LoggingSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	p.Logger.Info("span end", logValuesFromSpan(s)...)
}

func (*LoggingSpanProcessor) Shutdown(_ context.Context) error {
	return nil
}

func (*LoggingSpanProcessor) ForceFlush(_ context.Context) error {
	return nil
}

// Setup installs a global tracer provider.  The returned function flushes
// and stops it, and must be called before exit.
func Setup(ctx context.Context, o *Options, logger logr.Logger) (func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", constants.Application),
		attribute.String("service.version", constants.Version),
	))
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if o.LogSpans {
		opts = append(opts, sdktrace.WithSpanProcessor(&LoggingSpanProcessor{Logger: logger}))
	}

	if o.Endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(o.Endpoint))
		if err != nil {
			return nil, err
		}

		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
