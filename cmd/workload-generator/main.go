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

package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"regexp"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"

	"github.com/unikorn-cloud/workload-generator/pkg/config"
	"github.com/unikorn-cloud/workload-generator/pkg/constants"
	"github.com/unikorn-cloud/workload-generator/pkg/landscape"
	"github.com/unikorn-cloud/workload-generator/pkg/metrics"
	"github.com/unikorn-cloud/workload-generator/pkg/otel"
	"github.com/unikorn-cloud/workload-generator/pkg/providers/openstack"

	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

var (
	// itemNameRegexp constrains domain, project and machine names.
	itemNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9]+[a-zA-Z0-9\-]*[a-zA-Z0-9]+$`)

	// cloudNameRegexp constrains clouds.yaml entry names.
	cloudNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
)

// options are everything the command line controls.
type options struct {
	// Cloud is the clouds.yaml entry with administrative credentials.
	Cloud string `validate:"cloudname"`

	// LogLevel is the minimum level logged.
	LogLevel string

	ZapOptions zap.Options `validate:"-"`

	Config    config.Options
	Metrics   metrics.Options
	OTel      otel.Options
	Landscape landscape.Options
}

func defaultCloud() string {
	if cloud := os.Getenv("OS_CLOUD"); cloud != "" {
		return cloud
	}

	return "admin"
}

func (o *options) AddFlags(goflags *goflag.FlagSet, flags *pflag.FlagSet) {
	o.ZapOptions.BindFlags(goflags)

	flags.StringVar(&o.Cloud, "os-cloud", defaultCloud(), "The clouds.yaml entry to use, defaults to $OS_CLOUD")
	flags.StringVar(&o.LogLevel, "log-level", "info", "The minimum log level, one of debug, info or error")

	o.Config.AddFlags(flags)
	o.Metrics.AddFlags(flags)
	o.OTel.AddFlags(flags)
	o.Landscape.AddFlags(flags)
}

// newValidator returns a validator that understands item and cloud names.
func newValidator() (*validator.Validate, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	pattern := func(re *regexp.Regexp) validator.Func {
		return func(fl validator.FieldLevel) bool {
			return re.MatchString(fl.Field().String())
		}
	}

	if err := validate.RegisterValidation("itemname", pattern(itemNameRegexp)); err != nil {
		return nil, err
	}

	if err := validate.RegisterValidation("cloudname", pattern(cloudNameRegexp)); err != nil {
		return nil, err
	}

	return validate, nil
}

func (o *options) validate() error {
	validate, err := newValidator()
	if err != nil {
		return err
	}

	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	return nil
}

// setupLogging installs the global logger.
func (o *options) setupLogging() error {
	level, err := zapcore.ParseLevel(o.LogLevel)
	if err != nil {
		return err
	}

	if o.ZapOptions.Level == nil {
		o.ZapOptions.Level = level
	}

	log.SetLogger(zap.New(zap.UseFlagOptions(&o.ZapOptions)))

	return nil
}

// run does the work once flags are parsed.
func run(ctx context.Context, o *options) (err error) {
	logger := log.FromContext(ctx)

	logger.Info("starting", "version", constants.VersionString())

	shutdown, err := otel.Setup(ctx, &o.OTel, logger.WithName("trace"))
	if err != nil {
		return err
	}

	defer func() {
		if serr := shutdown(context.WithoutCancel(ctx)); serr != nil && err == nil {
			err = serr
		}
	}()

	cfg, err := config.Load(ctx, &o.Config)
	if err != nil {
		return err
	}

	if err := cfg.ShowEffective(ctx); err != nil {
		return err
	}

	cloud, err := openstack.New(o.Cloud)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := cloud.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Error(cerr, "failed to close cloud connection")
		}
	}()

	recorder := metrics.New()

	env, err := landscape.NewEnvironment(cloud, cfg, recorder)
	if err != nil {
		return err
	}

	if err := landscape.NewOrchestrator(env, &o.Landscape).Run(ctx); err != nil {
		return err
	}

	return recorder.WriteTextfile(&o.Metrics)
}

func newCommand() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:          constants.Application,
		Short:        "Create and delete OpenStack landscapes of domains, projects and machines.",
		Version:      constants.VersionString(),
		SilenceUsage: true,
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if err := o.validate(); err != nil {
				return err
			}

			return o.setupLogging()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := logr.NewContext(cmd.Context(), log.Log)

			return run(ctx, o)
		},
	}

	goflags := goflag.NewFlagSet(constants.Application, goflag.ContinueOnError)

	o.AddFlags(goflags, cmd.Flags())

	cmd.Flags().AddGoFlagSet(goflags)

	cmd.MarkFlagsMutuallyExclusive("create-domains", "delete-domains")
	cmd.MarkFlagsOneRequired("create-domains", "delete-domains")

	return cmd
}

func main() {
	if err := newCommand().ExecuteContext(context.Background()); err != nil {
		log.Log.Error(err, "execution failed")

		os.Exit(1)
	}
}
