// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"
	"os/exec"

	"github.com/cppforlife/go-cli-ui/ui"
	ctlconf "github.com/cromwell-helper/fakedocker/pkg/fakedocker/config"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/fetch/singularity"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/registry"
	ctlstore "github.com/cromwell-helper/fakedocker/pkg/fakedocker/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type GlobalFlags struct {
	ConfigPath            string
	ImageStorePath        string
	DefaultRegistry       string
	SingularityExecutable string
	Offline               bool
	Debug                 bool
}

func (f *GlobalFlags) Set(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.ConfigPath, "config", "", "Set configuration file (default: "+ctlconf.DefaultPath+")")
	cmd.PersistentFlags().StringVar(&f.ImageStorePath, "image-store-path", "", "Singularity image store path (default: "+ctlconf.DefaultImageStorePath+")")
	cmd.PersistentFlags().StringVar(&f.DefaultRegistry, "default-registry", "", "Default registry (default: registry-1.docker.io)")
	cmd.PersistentFlags().StringVar(&f.SingularityExecutable, "singularity-executable", "", "Path to singularity executable (default: singularity)")
	cmd.PersistentFlags().BoolVar(&f.Offline, "offline", false, "Refuse to contact registries")
	cmd.PersistentFlags().BoolVar(&f.Debug, "debug", false, "Print debug logs to stderr")
}

// Deps builds the collaborators commands need from global flags,
// environment and configuration file.
type Deps struct {
	ui     ui.UI
	flags  *GlobalFlags
	logger *logrus.Logger

	LookupEnv func(string) (string, bool)
	// CmdRunFunc replaces running singularity processes when set
	CmdRunFunc func(*exec.Cmd) error
}

func NewDeps(ui ui.UI, flags *GlobalFlags) *Deps {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	return &Deps{ui: ui, flags: flags, logger: logger, LookupEnv: os.LookupEnv}
}

func (d *Deps) ConfigureLogger() {
	if d.flags.Debug {
		d.logger.SetLevel(logrus.DebugLevel)
	}
}

func (d *Deps) Logger() logrus.FieldLogger { return d.logger }

// Config resolves configuration. Flags win over environment which wins
// over the configuration file.
func (d *Deps) Config() (ctlconf.Config, error) {
	path, explicit := ctlconf.DefaultPath, false
	if len(d.flags.ConfigPath) > 0 {
		path, explicit = d.flags.ConfigPath, true
	}

	conf, err := ctlconf.Load(path, explicit)
	if err != nil {
		return ctlconf.Config{}, err
	}

	conf, err = conf.WithEnv(d.LookupEnv)
	if err != nil {
		return ctlconf.Config{}, err
	}

	if len(d.flags.ImageStorePath) > 0 {
		conf.ImageStorePath = d.flags.ImageStorePath
	}
	if len(d.flags.DefaultRegistry) > 0 {
		conf.DefaultRegistry = d.flags.DefaultRegistry
	}
	if len(d.flags.SingularityExecutable) > 0 {
		conf.SingularityExecutable = d.flags.SingularityExecutable
	}
	if d.flags.Offline {
		conf.Offline = true
	}

	conf, err = conf.Expanded()
	if err != nil {
		return ctlconf.Config{}, err
	}

	d.logger.WithField("store", conf.ImageStorePath).WithField("registry", conf.DefaultRegistry).Debug("config: resolved")

	return conf, conf.Validate()
}

func (d *Deps) DockerConfig() (ctlconf.DockerConfig, error) {
	path, err := ctlconf.DockerConfigPath(d.LookupEnv)
	if err != nil {
		return ctlconf.DockerConfig{}, err
	}
	return ctlconf.NewDockerConfigFromFile(path)
}

func (d *Deps) Singularity(conf ctlconf.Config) (*singularity.Singularity, error) {
	dockerConfig, err := d.DockerConfig()
	if err != nil {
		return nil, err
	}

	return singularity.NewSingularity(singularity.Opts{
		Executable:  conf.SingularityExecutable,
		Credentials: dockerConfig.Credentials,
		CmdRunFunc:  d.CmdRunFunc,
	}), nil
}

// Store returns an initialized store wired to registries and singularity.
func (d *Deps) Store(conf ctlconf.Config) (*ctlstore.Store, error) {
	dockerConfig, err := d.DockerConfig()
	if err != nil {
		return nil, err
	}

	client := registry.NewClient(registry.ClientOpts{
		Credentials: dockerConfig.Credentials,
		Logger:      d.logger,
	})

	sing, err := d.Singularity(conf)
	if err != nil {
		return nil, err
	}

	store := ctlstore.NewStore(ctlstore.Opts{
		Root:            conf.ImageStorePath,
		DefaultRegistry: conf.DefaultRegistry,
		Offline:         conf.Offline,
		Resolver:        registry.NewResolver(client, registry.ResolverOpts{}),
		Materializer:    sing,
		UI:              d.ui,
		Logger:          d.logger,
	})

	err = store.Init()
	if err != nil {
		return nil, err
	}

	return store, nil
}
