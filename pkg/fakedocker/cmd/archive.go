// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/cppforlife/go-cli-ui/ui"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/reference"
	"github.com/spf13/cobra"
)

type ArchiveOptions struct {
	ui   ui.UI
	deps *Deps

	ImageNames []string
	Output     string
}

func NewArchiveOptions(ui ui.UI, deps *Deps) *ArchiveOptions {
	return &ArchiveOptions{ui: ui, deps: deps}
}

func NewArchiveCmd(o *ArchiveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive-images NAME[:TAG|@DIGEST]...",
		Short: "Create a tar archive of image files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			o.ImageNames = args
			return o.Run()
		},
	}
	cmd.Flags().StringVarP(&o.Output, "output", "o", "", "Output path")
	cmd.MarkFlagRequired("output")
	return cmd
}

func (o *ArchiveOptions) Run() error {
	if len(o.Output) == 0 {
		return fmt.Errorf("Expected output path to be specified")
	}

	conf, err := o.deps.Config()
	if err != nil {
		return err
	}

	store, err := o.deps.Store(conf)
	if err != nil {
		return err
	}

	var refs []reference.Reference

	for _, name := range o.ImageNames {
		ref, err := store.ParseReference(name)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}

	file, err := os.Create(o.Output)
	if err != nil {
		return fmt.Errorf("Creating archive '%s': %w", o.Output, err)
	}

	err = store.Archive(refs, file)
	if err != nil {
		file.Close()
		os.Remove(o.Output)
		return err
	}

	err = file.Close()
	if err != nil {
		return fmt.Errorf("Closing archive '%s': %w", o.Output, err)
	}

	o.ui.PrintLinef("Archived %d images into '%s'", len(refs), o.Output)
	return nil
}
