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
	"context"
	"sync"
	"time"

	"github.com/gophercloud/utils/v2/openstack/clientconfig"
	"github.com/spf13/pflag"

	"github.com/unikorn-cloud/workload-generator/pkg/cloudsconfig"

	"golang.org/x/sync/errgroup"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Options select what a run creates or deletes.
type Options struct {
	CreateDomains  []string `validate:"dive,itemname"`
	DeleteDomains  []string `validate:"dive,itemname"`
	CreateProjects []string `validate:"dive,itemname"`
	CreateMachines []string `validate:"dive,itemname"`
	DeleteProjects []string `validate:"dive,itemname"`
	DeleteMachines []string `validate:"dive,itemname"`

	AnsibleInventory string
	WaitForMachines  bool
	CloudsYAML       string
	CloudConf        string

	Concurrency int `validate:"min=1"`
}

// AddFlags registers run selection flags.
func (o *Options) AddFlags(flags *pflag.FlagSet) {
	flags.StringSliceVar(&o.CreateDomains, "create-domains", nil, "Domains to create.")
	flags.StringSliceVar(&o.DeleteDomains, "delete-domains", nil, "Domains to delete.")
	flags.StringSliceVar(&o.CreateProjects, "create-projects", []string{"test1"}, "Projects to create in each domain, 'none' creates no projects.")
	flags.StringSliceVar(&o.CreateMachines, "create-machines", []string{"test1"}, "Machines to create in each project, 'none' creates no machines.")
	flags.StringSliceVar(&o.DeleteProjects, "delete-projects", nil, "Only delete these projects rather than the whole domain.")
	flags.StringSliceVar(&o.DeleteMachines, "delete-machines", nil, "Only delete these machines rather than whole projects.")
	flags.StringVar(&o.AnsibleInventory, "ansible-inventory", "", "Write an ansible inventory of created machines to this directory.")
	flags.BoolVar(&o.WaitForMachines, "wait-for-machines", false, "Wait for each machine to become active after creation.")
	flags.StringVar(&o.CloudsYAML, "generate-clouds-yaml", "", "Merge credentials for created projects into this clouds.yaml.")
	flags.StringVar(&o.CloudConf, "generate-cloud-conf", "", "Write a cloud.conf for each created project to this directory.")
	flags.IntVar(&o.Concurrency, "concurrency", 1, "Number of domains to work on at once.")
}

// Orchestrator drives a whole run.
type Orchestrator struct {
	env     *Environment
	options *Options

	// now is the clock used for backups and statistics.
	now func() time.Time
}

// NewOrchestrator returns a new orchestrator.
func NewOrchestrator(env *Environment, options *Options) *Orchestrator {
	return &Orchestrator{
		env:     env,
		options: options,
		now:     time.Now,
	}
}

// Run creates or deletes, depending on the options.
func (o *Orchestrator) Run(ctx context.Context) error {
	if len(o.options.CreateDomains) > 0 {
		return o.Create(ctx)
	}

	return o.Delete(ctx)
}

// forEach calls f for each domain, domains are independent so are handled
// in parallel up to the configured concurrency.
func forEach[T any](ctx context.Context, concurrency int, items []T, f func(context.Context, int, T) error) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(max(concurrency, 1))

	for i, item := range items {
		group.Go(func() error {
			return f(ctx, i, item)
		})
	}

	return group.Wait()
}

// Create builds every requested domain, then their projects, then the
// machines in those projects.
//
//nolint:cyclop
func (o *Orchestrator) Create(ctx context.Context) error {
	log := log.FromContext(ctx)

	start := o.now()

	domainCount := len(o.options.CreateDomains)
	projectCount := domainCount * len(o.options.CreateProjects)
	machineCount := projectCount * len(o.options.CreateMachines)

	log.Info("creating landscape", "domains", domainCount, "projects", projectCount, "machines", machineCount)

	domains := make([]*Domain, domainCount)

	err := forEach(ctx, o.options.Concurrency, o.options.CreateDomains, func(ctx context.Context, i int, name string) error {
		domain, err := NewDomain(ctx, o.env, name)
		if err != nil {
			return err
		}

		if _, err := domain.CreateAndGetDomain(ctx); err != nil {
			return err
		}

		domains[i] = domain

		return nil
	})
	if err != nil {
		return err
	}

	err = forEach(ctx, o.options.Concurrency, domains, func(ctx context.Context, _ int, domain *Domain) error {
		return domain.CreateAndGetProjects(ctx, o.options.CreateProjects)
	})
	if err != nil {
		return err
	}

	var lock sync.Mutex

	clouds := map[string]clientconfig.Cloud{}

	err = forEach(ctx, o.options.Concurrency, domains, func(ctx context.Context, _ int, domain *Domain) error {
		if err := domain.CreateAndGetMachines(ctx, o.options.CreateProjects, o.options.CreateMachines, o.options.WaitForMachines); err != nil {
			return err
		}

		for _, project := range domain.GetProjects(o.options.CreateProjects) {
			if o.options.AnsibleInventory != "" {
				if err := project.DumpInventoryHosts(ctx, o.options.AnsibleInventory); err != nil {
					return err
				}
			}

			cloud, err := project.GetCloudsYAMLData()
			if err != nil {
				return err
			}

			lock.Lock()
			clouds[project.CloudName()] = *cloud
			lock.Unlock()
		}

		return nil
	})
	if err != nil {
		return err
	}

	if err := o.writeClouds(ctx, clouds); err != nil {
		return err
	}

	o.statistics(ctx, start, domainCount+projectCount+machineCount)

	return nil
}

func (o *Orchestrator) writeClouds(ctx context.Context, clouds map[string]clientconfig.Cloud) error {
	if o.options.CloudsYAML != "" {
		if err := cloudsconfig.WriteCloudsYAML(ctx, o.options.CloudsYAML, clouds, o.now()); err != nil {
			return err
		}
	}

	if o.options.CloudConf != "" {
		for name, cloud := range clouds {
			if _, err := cloudsconfig.WriteCloudConf(ctx, o.options.CloudConf, name, &cloud); err != nil {
				return err
			}
		}
	}

	return nil
}

// Delete removes whole domains, or only the selected projects or machines
// within them.
func (o *Orchestrator) Delete(ctx context.Context) error {
	log := log.FromContext(ctx)

	start := o.now()

	err := forEach(ctx, o.options.Concurrency, o.options.DeleteDomains, func(ctx context.Context, _ int, name string) error {
		domain, err := NewDomain(ctx, o.env, name)
		if err != nil {
			return err
		}

		if _, ok := domain.Domain(); !ok {
			log.Info("domain does not exist, nothing to delete", "domain", name)

			return nil
		}

		if len(o.options.DeleteProjects) == 0 && len(o.options.DeleteMachines) == 0 {
			return domain.DeleteDomain(ctx)
		}

		projects := domain.sortedProjects()
		if len(o.options.DeleteProjects) > 0 {
			projects = domain.GetProjects(o.options.DeleteProjects)
		}

		if len(o.options.DeleteMachines) == 0 {
			return domain.DeleteProjects(ctx, projects)
		}

		for _, project := range projects {
			if err := project.DeleteMachines(ctx, project.GetMachines(o.options.DeleteMachines)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	o.statistics(ctx, start, len(o.options.DeleteDomains))

	return nil
}

func (o *Orchestrator) statistics(ctx context.Context, start time.Time, items int) {
	log := log.FromContext(ctx)

	duration := o.now().Sub(start)
	rate := o.env.Metrics.ObserveRun(duration, items)

	log.Info("execution finished", "duration", duration.Round(time.Second).String(), "items", items, "itemRate", rate.String())
}
