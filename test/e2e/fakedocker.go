// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package e2e

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
)

type Fakedocker struct {
	t          *testing.T
	binaryPath string
	l          Logger
}

type RunOpts struct {
	AllowError   bool
	StderrWriter io.Writer
	StdoutWriter io.Writer
	Dir          string
	Env          []string
}

// RunError carries the exit code of a failed fakedocker run.
type RunError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("Execution error: stdout: '%s' stderr: '%s' error: '%s'", e.Stdout, e.Stderr, e.Err)
}

func (k Fakedocker) Run(args []string) string {
	out, _ := k.RunWithOpts(args, RunOpts{})
	return out
}

func (k Fakedocker) RunWithOpts(args []string, opts RunOpts) (string, error) {
	k.l.Debugf("Running '%s'...\n", k.cmdDesc(args))

	cmd := exec.Command(k.binaryPath, args...)
	cmd.Env = append(os.Environ(), opts.Env...)

	if len(opts.Dir) > 0 {
		cmd.Dir = opts.Dir
	}

	var stderr, stdout bytes.Buffer

	if opts.StderrWriter != nil {
		cmd.Stderr = io.MultiWriter(&stderr, opts.StderrWriter)
	} else {
		cmd.Stderr = &stderr
	}

	if opts.StdoutWriter != nil {
		cmd.Stdout = io.MultiWriter(&stdout, opts.StdoutWriter)
	} else {
		cmd.Stdout = &stdout
	}

	err := cmd.Run()
	stdoutStr := stdout.String()

	if err != nil {
		runErr := &RunError{ExitCode: -1, Stdout: stdoutStr, Stderr: stderr.String(), Err: err}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			runErr.ExitCode = exitErr.ExitCode()
		}

		if !opts.AllowError {
			k.t.Fatalf("Failed to successfully execute '%s': %v", k.cmdDesc(args), runErr)
		}
		return stdoutStr, runErr
	}

	return stdoutStr, nil
}

func (k Fakedocker) cmdDesc(args []string) string {
	return fmt.Sprintf("fakedocker %s", strings.Join(args, " "))
}
