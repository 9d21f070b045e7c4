// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package singularity

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/reference"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/registry"
)

const (
	DefaultExecutable = "singularity"

	dockerTransport = "docker://"
)

type Opts struct {
	Executable  string
	Credentials registry.CredentialsFunc

	// Stdout and Stderr receive the output of exec runs and the progress of builds
	Stdout io.Writer
	Stderr io.Writer

	CmdRunFunc  func(*exec.Cmd) error
	EnvironFunc func() []string
}

// Singularity runs the singularity binary to build images from registries
// and to execute commands inside them.
type Singularity struct {
	opts Opts
}

func NewSingularity(opts Opts) *Singularity {
	if len(opts.Executable) == 0 {
		opts.Executable = DefaultExecutable
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.CmdRunFunc == nil {
		opts.CmdRunFunc = func(cmd *exec.Cmd) error { return cmd.Run() }
	}
	if opts.EnvironFunc == nil {
		opts.EnvironFunc = os.Environ
	}
	return &Singularity{opts}
}

// Materialize builds the image of a digest reference into dstPath.
func (s *Singularity) Materialize(ref reference.Reference, dstPath string) error {
	if ref.IsTag() {
		return fmt.Errorf("Expected digest reference to build, but got '%s'", ref)
	}

	var stdoutBs, stderrBs bytes.Buffer

	cmd := exec.Command(s.opts.Executable, "build", dstPath, dockerTransport+ref.Remote())
	cmd.Env = append(s.opts.EnvironFunc(), s.authEnv(ref.Registry)...)
	cmd.Stdout = &stdoutBs
	cmd.Stderr = io.MultiWriter(&stderrBs, s.opts.Stderr)

	err := s.opts.CmdRunFunc(cmd)
	if err != nil {
		return fmt.Errorf("Singularity build: %w (stderr: %s)", err, strings.TrimSpace(stderrBs.String()))
	}

	return nil
}

func (s *Singularity) authEnv(hostname string) []string {
	if s.opts.Credentials == nil {
		return nil
	}
	creds, found := s.opts.Credentials(hostname)
	if !found {
		return nil
	}
	return []string{
		"SINGULARITY_DOCKER_USERNAME=" + creds.Username,
		"SINGULARITY_DOCKER_PASSWORD=" + creds.Password,
	}
}

type ExecOpts struct {
	Image   string
	Home    string
	Workdir string
	Binds   string
	Args    []string

	// Dir is the working directory of the singularity process
	Dir string
	Env []string
}

// ExecArgs returns the singularity arguments for opts.
func (s *Singularity) ExecArgs(opts ExecOpts) []string {
	args := []string{"exec", "--no-home", "--home", opts.Home, "--workdir", opts.Workdir}
	if len(opts.Binds) > 0 {
		args = append(args, "--bind", opts.Binds)
	}
	args = append(args, opts.Image)
	return append(args, opts.Args...)
}

// Exec runs a command inside an image with output passed through. A non-zero
// exit is returned as *exec.ExitError so callers can propagate the code.
func (s *Singularity) Exec(opts ExecOpts) error {
	cmd := exec.Command(s.opts.Executable, s.ExecArgs(opts)...)
	cmd.Dir = opts.Dir
	cmd.Env = append(s.opts.EnvironFunc(), opts.Env...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = s.opts.Stdout
	cmd.Stderr = s.opts.Stderr

	err := s.opts.CmdRunFunc(cmd)
	if err != nil {
		return fmt.Errorf("Singularity exec: %w", err)
	}
	return nil
}
