// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/cppforlife/go-cli-ui/ui"
	"github.com/spf13/cobra"
)

type FindOptions struct {
	ui   ui.UI
	deps *Deps

	ImageName string
}

func NewFindOptions(ui ui.UI, deps *Deps) *FindOptions {
	return &FindOptions{ui: ui, deps: deps}
}

func NewFindCmd(o *FindOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find NAME[:TAG|@DIGEST]",
		Short: "Print the path of an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			o.ImageName = args[0]
			return o.Run()
		},
	}
	return cmd
}

func (o *FindOptions) Run() error {
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

	path, err := store.Find(ref)
	if err != nil {
		return err
	}

	o.ui.PrintBlock([]byte(path + "\n"))
	return nil
}
