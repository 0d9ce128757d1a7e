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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

// Operation is what happened to a resource.
type Operation string

const (
	Created Operation = "created"
	Updated Operation = "updated"
	Deleted Operation = "deleted"
)

// Kind is the type of resource operated on.
type Kind string

const (
	Domain        Kind = "domain"
	User          Kind = "user"
	Role          Kind = "role_assignment"
	Project       Kind = "project"
	Quota         Kind = "quota"
	KeyPair       Kind = "keypair"
	Network       Kind = "network"
	Subnet        Kind = "subnet"
	Router        Kind = "router"
	Port          Kind = "port"
	SecurityGroup Kind = "security_group"
	Server        Kind = "server"
	FloatingIP    Kind = "floating_ip"
)

// Options allow modification of parameters via the CLI.
type Options struct {
	// Textfile is where to dump metrics on exit, for the node exporter's
	// textfile collector.
	Textfile string
}

// AddFlags registers option flags with pflag.
func (o *Options) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.Textfile, "metrics-textfile", "", "Write run metrics to this file in the Prometheus text format")
}

// Recorder collects statistics about a run.
type Recorder struct {
	registry *prometheus.Registry

	resources *prometheus.CounterVec
	duration  prometheus.Histogram
	items     prometheus.Gauge
	rate      prometheus.Gauge
}

// New returns a recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		resources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workload_generator_resources_total",
			Help: "Cloud resources operated on, by kind and operation",
		}, []string{"kind", "operation"}),
		// A landscape of any size takes minutes to provision.
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "workload_generator_run_duration_seconds",
			Help: "Time taken for a run to complete",
			Buckets: []float64{
				10, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200,
			},
		}),
		items: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workload_generator_run_items",
			Help: "Domains, projects and machines requested by the last run",
		}),
		rate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workload_generator_run_seconds_per_item",
			Help: "Average time spent on each requested item in the last run",
		}),
	}

	r.registry.MustRegister(r.resources, r.duration, r.items, r.rate)

	return r
}

// Record counts an operation.
func (r *Recorder) Record(kind Kind, operation Operation) {
	r.resources.WithLabelValues(string(kind), string(operation)).Inc()
}

// ObserveRun records how long a run took and returns the time per item.
func (r *Recorder) ObserveRun(duration time.Duration, items int) time.Duration {
	r.duration.Observe(duration.Seconds())
	r.items.Set(float64(items))

	if items == 0 {
		return 0
	}

	rate := duration / time.Duration(items)

	r.rate.Set(rate.Seconds())

	return rate
}

// Registry exposes collected metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile dumps metrics atomically, it's a no-op if no file is
// configured.
func (r *Recorder) WriteTextfile(o *Options) error {
	if o.Textfile == "" {
		return nil
	}

	return prometheus.WriteToTextfile(o.Textfile, r.registry)
}
