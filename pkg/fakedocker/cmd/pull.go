// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"

	"github.com/cppforlife/go-cli-ui/ui"
	"github.com/spf13/cobra"
)

type PullOptions struct {
	ui   ui.UI
	deps *Deps

	ImageName string
}

func NewPullOptions(ui ui.UI, deps *Deps) *PullOptions {
	return &PullOptions{ui: ui, deps: deps}
}

func NewPullCmd(o *PullOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull NAME[:TAG|@DIGEST]",
		Short: "Pull an image into the image store",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			o.ImageName = args[0]
			return o.Run()
		},
	}
	return cmd
}

func (o *PullOptions) Run() error {
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

	path, err := store.Pull(context.Background(), ref)
	if err != nil {
		return err
	}

	o.ui.PrintBlock([]byte(path + "\n"))
	return nil
}
