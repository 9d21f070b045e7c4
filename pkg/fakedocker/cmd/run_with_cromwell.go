// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/cppforlife/go-cli-ui/ui"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/sandbox"
	"github.com/spf13/cobra"
)

type RunWithCromwellOptions struct {
	ui   ui.UI
	deps *Deps

	Workdir       string
	DockerWorkdir string
	JobShell      string
	Script        string
	ImageName     string
	RunShell      bool
	RefCache      string
}

func NewRunWithCromwellOptions(ui ui.UI, deps *Deps) *RunWithCromwellOptions {
	return &RunWithCromwellOptions{ui: ui, deps: deps}
}

func NewRunWithCromwellCmd(o *RunWithCromwellOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-with-cromwell",
		Short: "Run a Cromwell task script inside a singularity image",
		Args:  cobra.NoArgs,
		RunE:  func(_ *cobra.Command, _ []string) error { return o.Run() },
	}
	cmd.Flags().StringVar(&o.Workdir, "workdir", "", "Task directory on the host")
	cmd.Flags().StringVar(&o.DockerWorkdir, "docker-workdir", "", "Task directory inside the container")
	cmd.Flags().StringVar(&o.JobShell, "jobshell", "", "Shell running the task script")
	cmd.Flags().StringVar(&o.Script, "script", "", "Task script")
	cmd.Flags().StringVar(&o.ImageName, "image-name", "", "Image to run the task in")
	cmd.Flags().BoolVar(&o.RunShell, "run-shell", false, "Run the shell without the script")
	cmd.Flags().StringVar(&o.RefCache, "ref-cache", "", "htslib reference cache directory bound as "+sandbox.RefCacheMount)

	for _, name := range []string{"workdir", "docker-workdir", "jobshell", "script", "image-name"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (o *RunWithCromwellOptions) Run() error {
	conf, err := o.deps.Config()
	if err != nil {
		return err
	}

	store, err := o.deps.Store(conf)
	if err != nil {
		return err
	}

	ref, err := store.ParseReference(o.ImageName)
	if err != nil {
		return err
	}

	imagePath, err := store.Find(ref)
	if err != nil {
		return err
	}

	info, err := os.Stat(imagePath)
	if err != nil {
		return fmt.Errorf("Checking image file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("Expected image file '%s' to be a regular file", imagePath)
	}

	refCache := conf.RefCache
	if len(o.RefCache) > 0 {
		refCache = o.RefCache
	}

	plan, err := sandbox.Prepare(sandbox.Opts{
		Workdir:       o.Workdir,
		DockerWorkdir: o.DockerWorkdir,
		JobShell:      o.JobShell,
		Script:        o.Script,
		RunShell:      o.RunShell,
		RefCache:      refCache,
	}, o.deps.Logger())
	if err != nil {
		return err
	}

	sing, err := o.deps.Singularity(conf)
	if err != nil {
		return err
	}

	return sing.Exec(plan.ExecOpts(imagePath))
}
