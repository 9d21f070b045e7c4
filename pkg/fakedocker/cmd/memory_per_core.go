// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strconv"

	"github.com/cppforlife/go-cli-ui/ui"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/sandbox"
	"github.com/spf13/cobra"
)

type MemoryPerCoreOptions struct {
	ui ui.UI

	Workdir       string
	MemoryGB      float64
	MemoryLimitGB int
	Cores         int
}

func NewMemoryPerCoreOptions(ui ui.UI) *MemoryPerCoreOptions {
	return &MemoryPerCoreOptions{ui: ui}
}

func NewMemoryPerCoreCmd(o *MemoryPerCoreOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory-per-core MEMORY CORES",
		Short: "Calculate memory size per CPU core in MB",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			var err error

			o.MemoryGB, err = strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("Parsing memory size '%s': %w", args[0], err)
			}

			o.Cores, err = strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("Parsing number of cores '%s': %w", args[1], err)
			}

			return o.Run()
		},
	}
	cmd.Flags().StringVar(&o.Workdir, "workdir", "", "Task directory")
	cmd.Flags().IntVar(&o.MemoryLimitGB, "memory-limit", sandbox.DefaultMemoryLimitGB, "Maximum memory size in GB")
	cmd.MarkFlagRequired("workdir")
	return cmd
}

func (o *MemoryPerCoreOptions) Run() error {
	mem, err := sandbox.MemoryPerCoreMB(o.Workdir, o.MemoryGB, o.MemoryLimitGB, o.Cores)
	if err != nil {
		return err
	}

	o.ui.PrintBlock([]byte(fmt.Sprintf("%.0f\n", mem)))
	return nil
}
