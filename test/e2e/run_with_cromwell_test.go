// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package e2e

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeSingularityScript = `#!/bin/sh
printf '%s\n' "$@" > singularity-args.txt
exit 3
`

func TestRunWithCromwell(t *testing.T) {
	env := newStoreEnv(t)
	env.importImage(t, "ubuntu:22.04", "ubuntu image")

	singularityPath := filepath.Join(env.home, "singularity")
	require.NoError(t, os.WriteFile(singularityPath, []byte(fakeSingularityScript), 0700))

	workdir := filepath.Join(env.home, "cromwell-executions", "wf", "1234", "call-task", "execution")
	require.NoError(t, os.MkdirAll(filepath.Join(workdir, "inputs", "1"), 0700))

	input := filepath.Join(env.home, "data", "reads.fastq")
	require.NoError(t, os.MkdirAll(filepath.Dir(input), 0700))
	require.NoError(t, os.WriteFile(input, []byte("@read"), 0600))
	require.NoError(t, os.Symlink(input, filepath.Join(workdir, "inputs", "1", "reads.fastq")))

	script := filepath.Join(workdir, "script")
	require.NoError(t, os.WriteFile(script, []byte("echo hi"), 0600))

	_, err := env.runWithError(t, "--singularity-executable", singularityPath, "run-with-cromwell",
		"--workdir", workdir,
		"--docker-workdir", "/cromwell-executions/wf/1234/call-task/execution",
		"--jobshell", "/bin/bash",
		"--script", script,
		"--image-name", "ubuntu:22.04",
	)
	require.Error(t, err)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, 3, runErr.ExitCode)

	args, err := os.ReadFile(filepath.Join(workdir, "singularity-args.txt"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(args)), "\n")
	require.Len(t, lines, 11)
	assert.Equal(t, []string{"exec", "--no-home", "--home", filepath.Join(workdir, "home"), "--workdir", filepath.Join(workdir, "tmp"), "--bind"}, lines[:7])
	assert.Contains(t, lines[7], input+":"+input+":ro")
	assert.Contains(t, lines[7], workdir+":/cromwell-executions/wf/1234/call-task/execution:rw")
	assert.True(t, strings.HasSuffix(lines[8], ".sif"))
	assert.Equal(t, []string{"/bin/bash", script}, lines[9:])

	log, err := os.ReadFile(filepath.Join(workdir, "fakedocker.log"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(log), "actual bind "))

	assert.DirExists(t, filepath.Join(workdir, "home"))
	assert.DirExists(t, filepath.Join(workdir, "tmp"))
}

func TestRunWithCromwellMissingImage(t *testing.T) {
	env := newStoreEnv(t)

	workdir := filepath.Join(env.home, "cromwell-executions", "wf", "1234", "call-task", "execution")
	require.NoError(t, os.MkdirAll(workdir, 0700))

	_, err := env.runWithError(t, "run-with-cromwell",
		"--workdir", workdir,
		"--docker-workdir", "/cromwell-executions/wf/1234/call-task/execution",
		"--jobshell", "/bin/bash",
		"--script", filepath.Join(workdir, "script"),
		"--image-name", "ubuntu:22.04",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image file is not found")
}
