// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"io"

	"github.com/cppforlife/cobrautil"
	"github.com/cppforlife/go-cli-ui/ui"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/version"
	"github.com/spf13/cobra"
)

type FakedockerOptions struct {
	ui *ui.ConfUI

	UIFlags     UIFlags
	GlobalFlags GlobalFlags
}

func NewFakedockerOptions(ui *ui.ConfUI) *FakedockerOptions {
	return &FakedockerOptions{ui: ui}
}

func NewDefaultFakedockerCmd(ui *ui.ConfUI) *cobra.Command {
	return NewFakedockerCmd(NewFakedockerOptions(ui))
}

func NewFakedockerCmd(o *FakedockerOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "fakedocker",
		Short:             "fakedocker runs Cromwell tasks in Singularity images addressed like docker images",
		SilenceErrors:     true,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		Version:           version.Version,
	}

	cmd.SetOutput(uiBlockWriter{o.ui}) // setting output for cmd.Help()

	o.UIFlags.Set(cmd)
	o.GlobalFlags.Set(cmd)

	deps := NewDeps(o.ui, &o.GlobalFlags)

	cmd.AddCommand(NewPullCmd(NewPullOptions(o.ui, deps)))
	cmd.AddCommand(NewImagesCmd(NewImagesOptions(o.ui, deps)))
	cmd.AddCommand(NewFindCmd(NewFindOptions(o.ui, deps)))
	cmd.AddCommand(NewImportCmd(NewImportOptions(o.ui, deps)))
	cmd.AddCommand(NewRunWithCromwellCmd(NewRunWithCromwellOptions(o.ui, deps)))
	cmd.AddCommand(NewArchiveCmd(NewArchiveOptions(o.ui, deps)))
	cmd.AddCommand(NewMemoryPerCoreCmd(NewMemoryPerCoreOptions(o.ui)))
	cmd.AddCommand(NewVersionCmd(NewVersionOptions(o.ui)))

	// Last one runs first
	configureUI := func(*cobra.Command, []string) error {
		o.UIFlags.ConfigureUI(o.ui)
		deps.ConfigureLogger()
		return nil
	}

	cobrautil.VisitCommands(
		cmd,
		cobrautil.ReconfigureCmdWithSubcmd,
		cobrautil.WrapRunEForCmd(cobrautil.ResolveFlagsForCmd),
		cobrautil.WrapRunEForCmd(configureUI),
	)

	return cmd
}

type uiBlockWriter struct {
	ui ui.UI
}

var _ io.Writer = uiBlockWriter{}

func (w uiBlockWriter) Write(p []byte) (n int, err error) {
	w.ui.PrintBlock(p)
	return len(p), nil
}
