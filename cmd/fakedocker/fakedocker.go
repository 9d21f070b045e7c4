// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"io"
	"log"
	"os"
	"os/exec"

	"github.com/cppforlife/go-cli-ui/ui"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/cmd"
)

func main() {
	log.SetOutput(io.Discard)

	confUI := ui.NewConfUI(ui.NewNoopLogger())

	command := cmd.NewDefaultFakedockerCmd(confUI)

	err := command.Execute()
	if err != nil {
		// Cromwell reads the task exit code from the container run
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			confUI.Flush()
			os.Exit(exitErr.ExitCode())
		}

		confUI.ErrorLinef("Error: %v", err)
		confUI.Flush()
		os.Exit(1)
	}

	confUI.Flush()
}
