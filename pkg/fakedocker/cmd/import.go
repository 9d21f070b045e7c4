// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/cppforlife/go-cli-ui/ui"
	"github.com/spf13/cobra"
)

type ImportOptions struct {
	ui   ui.UI
	deps *Deps

	ImageName string
	ImageFile string
}

func NewImportOptions(ui ui.UI, deps *Deps) *ImportOptions {
	return &ImportOptions{ui: ui, deps: deps}
}

func NewImportCmd(o *ImportOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-singularity NAME[:TAG|@DIGEST] FILE",
		Short: "Import a singularity image file into the image store",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			o.ImageName = args[0]
			o.ImageFile = args[1]
			return o.Run()
		},
	}
	return cmd
}

func (o *ImportOptions) Run() error {
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

	dgst, err := store.Import(ref, o.ImageFile)
	if err != nil {
		return err
	}

	o.ui.PrintLinef("Imported '%s' as '%s'", o.ImageFile, dgst)
	return nil
}
