// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cppforlife/go-cli-ui/ui"
	ctlconf "github.com/cromwell-helper/fakedocker/pkg/fakedocker/config"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/sandbox"
	ctlstore "github.com/cromwell-helper/fakedocker/pkg/fakedocker/store"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	ui     ui.UI
	deps   *Deps
	flags  *GlobalFlags
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	dir    string
}

func newTestEnv(t *testing.T) testEnv {
	dir := t.TempDir()

	configPath := filepath.Join(dir, "config.yml")
	configYAML := "apiVersion: " + ctlconf.KnownAPIVersion + "\nkind: " + ctlconf.KnownKind + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0600))

	stdout := bytes.NewBuffer(nil)
	stderr := bytes.NewBuffer(nil)
	writerUI := ui.NewWriterUI(stdout, stderr, ui.NewNoopLogger())

	flags := &GlobalFlags{
		ConfigPath:     configPath,
		ImageStorePath: filepath.Join(dir, "store"),
	}

	deps := NewDeps(writerUI, flags)
	deps.LookupEnv = func(name string) (string, bool) {
		if name == ctlconf.EnvDockerConfigDir {
			return filepath.Join(dir, ".docker"), true
		}
		return "", false
	}
	deps.CmdRunFunc = func(*exec.Cmd) error {
		return errors.New("unexpected singularity run")
	}

	return testEnv{ui: writerUI, deps: deps, flags: flags, stdout: stdout, stderr: stderr, dir: dir}
}

func (e testEnv) importImage(t *testing.T, name, content string) digest.Digest {
	file := filepath.Join(e.dir, "import.sif")
	require.NoError(t, os.WriteFile(file, []byte(content), 0600))

	opts := NewImportOptions(e.ui, e.deps)
	opts.ImageName = name
	opts.ImageFile = file
	require.NoError(t, opts.Run())

	return digest.FromString(content)
}

func TestConfigPrecedence(t *testing.T) {
	env := newTestEnv(t)

	configYAML := "apiVersion: " + ctlconf.KnownAPIVersion + "\nkind: " + ctlconf.KnownKind + "\ndefaultRegistry: file.example.com\nrefCache: /ref\n"
	require.NoError(t, os.WriteFile(env.flags.ConfigPath, []byte(configYAML), 0600))

	env.deps.LookupEnv = func(name string) (string, bool) {
		switch name {
		case ctlconf.EnvDefaultRegistry:
			return "env.example.com", true
		case ctlconf.EnvSingularityBinary:
			return "/env/singularity", true
		}
		return "", false
	}
	env.flags.SingularityExecutable = "/flag/singularity"

	conf, err := env.deps.Config()
	require.NoError(t, err)
	assert.Equal(t, "env.example.com", conf.DefaultRegistry)
	assert.Equal(t, "/flag/singularity", conf.SingularityExecutable)
	assert.Equal(t, "/ref", conf.RefCache)
	assert.Equal(t, env.flags.ImageStorePath, conf.ImageStorePath)
	assert.False(t, conf.Offline)
}

func TestMissingExplicitConfig(t *testing.T) {
	env := newTestEnv(t)
	env.flags.ConfigPath = filepath.Join(env.dir, "missing.yml")

	_, err := env.deps.Config()
	require.Error(t, err)
}

func TestFind(t *testing.T) {
	env := newTestEnv(t)
	dgst := env.importImage(t, "busybox:1.36", "busybox image")

	opts := NewFindOptions(env.ui, env.deps)
	opts.ImageName = "busybox:1.36"
	require.NoError(t, opts.Run())

	path := strings.TrimSpace(env.stdout.String())
	assert.True(t, strings.HasSuffix(path, filepath.Join("sha256", "busybox@"+dgst.String()+".sif")))
	assert.FileExists(t, path)

	opts.ImageName = "ubuntu:22.04"
	require.ErrorIs(t, opts.Run(), ctlstore.ErrNotFound)
}

func TestPullOffline(t *testing.T) {
	env := newTestEnv(t)
	env.flags.Offline = true

	opts := NewPullOptions(env.ui, env.deps)
	opts.ImageName = "ubuntu:22.04"
	require.ErrorIs(t, opts.Run(), ctlstore.ErrOffline)
}

func TestImagesCromwellFormat(t *testing.T) {
	env := newTestEnv(t)
	busybox := env.importImage(t, "busybox:1.36", "busybox image")
	env.importImage(t, "busybox:1.31", "old busybox image")
	env.importImage(t, "samtools@"+digest.FromString("samtools image").String(), "samtools image")

	opts := NewImagesOptions(env.ui, env.deps)
	opts.Digests = true
	opts.Format = CromwellImagesFormat
	opts.Repository = "busybox"
	require.NoError(t, opts.Run())

	old := digest.FromString("old busybox image").String()

	var expected []string
	if old < busybox.String() {
		expected = []string{
			"busybox\t1.31\t" + old,
			"busybox\t" + old + "\t" + old,
			"busybox\t1.36\t" + busybox.String(),
			"busybox\t" + busybox.String() + "\t" + busybox.String(),
		}
	} else {
		expected = []string{
			"busybox\t1.36\t" + busybox.String(),
			"busybox\t" + busybox.String() + "\t" + busybox.String(),
			"busybox\t1.31\t" + old,
			"busybox\t" + old + "\t" + old,
		}
	}

	assert.Equal(t, strings.Join(expected, "\n")+"\n", env.stdout.String())
}

func TestImagesTable(t *testing.T) {
	env := newTestEnv(t)
	busybox := env.importImage(t, "busybox:1.36", "busybox image")
	samtools := env.importImage(t, "quay.io/biocontainers/samtools@"+digest.FromString("samtools image").String(), "samtools image")

	opts := NewImagesOptions(env.ui, env.deps)
	opts.nowFunc = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, opts.Run())

	out := env.stdout.String()
	assert.Contains(t, out, "busybox")
	assert.Contains(t, out, "1.36")
	assert.Contains(t, out, busybox.String())
	assert.Contains(t, out, "quay.io/biocontainers/samtools")
	assert.Contains(t, out, "<none>")
	assert.Contains(t, out, samtools.String())
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "YES")
}

func TestImagesUnsupportedOptions(t *testing.T) {
	env := newTestEnv(t)

	opts := NewImagesOptions(env.ui, env.deps)
	opts.Format = "{{.ID}}"
	err := opts.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported option")

	opts = NewImagesOptions(env.ui, env.deps)
	opts.Digests = true
	require.Error(t, opts.Run())
}

func TestImagesReportsBrokenLinks(t *testing.T) {
	env := newTestEnv(t)
	env.importImage(t, "busybox:1.36", "busybox image")

	tagDir := filepath.Join(env.flags.ImageStorePath, ctlstore.TagDir)
	require.NoError(t, os.Symlink("../sha256/gone.sif", filepath.Join(tagDir, "gone:latest.sif")))

	opts := NewImagesOptions(env.ui, env.deps)
	require.NoError(t, opts.Run())

	assert.Contains(t, env.stderr.String(), "Broken link")
	assert.Contains(t, env.stdout.String(), "busybox")
}

func TestArchive(t *testing.T) {
	env := newTestEnv(t)
	dgst := env.importImage(t, "busybox:1.36", "busybox image")

	opts := NewArchiveOptions(env.ui, env.deps)
	opts.ImageNames = []string{"busybox:1.36"}
	opts.Output = filepath.Join(env.dir, "images.tar")
	require.NoError(t, opts.Run())

	file, err := os.Open(opts.Output)
	require.NoError(t, err)
	defer file.Close()

	var names []string
	reader := tar.NewReader(file)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, header.Name)
	}

	assert.ElementsMatch(t, []string{
		ctlstore.ArchivePrefix + "/tag/busybox:1.36.sif",
		ctlstore.ArchivePrefix + "/sha256/busybox@" + dgst.String() + ".sif",
		ctlstore.ArchivePrefix + "/sha256/busybox@" + dgst.String() + ".sif.warn",
	}, names)
}

func TestArchiveMissingImageRemovesOutput(t *testing.T) {
	env := newTestEnv(t)

	opts := NewArchiveOptions(env.ui, env.deps)
	opts.ImageNames = []string{"busybox:1.36"}
	opts.Output = filepath.Join(env.dir, "images.tar")
	require.Error(t, opts.Run())
	assert.NoFileExists(t, opts.Output)
}

func TestRunWithCromwell(t *testing.T) {
	env := newTestEnv(t)
	dgst := env.importImage(t, "ubuntu:22.04", "ubuntu image")

	workdir := filepath.Join(env.dir, sandbox.ExecutionsDirName, "wf", "1", "call-a", "execution")
	require.NoError(t, os.MkdirAll(workdir, 0700))
	workdir, err := filepath.EvalSymlinks(workdir)
	require.NoError(t, err)

	refCache := filepath.Join(env.dir, "hts-ref")
	require.NoError(t, os.MkdirAll(refCache, 0700))

	var ranCmd *exec.Cmd
	env.deps.CmdRunFunc = func(cmd *exec.Cmd) error {
		ranCmd = cmd
		return nil
	}
	env.flags.SingularityExecutable = "/opt/singularity/bin/singularity"

	script := filepath.Join(workdir, "script")

	opts := NewRunWithCromwellOptions(env.ui, env.deps)
	opts.Workdir = workdir
	opts.DockerWorkdir = "/cromwell-executions/wf/1/call-a/execution"
	opts.JobShell = "/bin/bash"
	opts.Script = script
	opts.ImageName = "ubuntu:22.04"
	opts.RefCache = refCache
	require.NoError(t, opts.Run())

	require.NotNil(t, ranCmd)
	assert.Equal(t, "/opt/singularity/bin/singularity", ranCmd.Path)
	assert.Equal(t, workdir, ranCmd.Dir)
	assert.Contains(t, ranCmd.Env, sandbox.RefCacheEnv)

	args := ranCmd.Args[1:]
	require.Len(t, args, 11)
	assert.Equal(t, "exec", args[0])
	assert.Equal(t, strings.Join([]string{
		script + ":" + script + ":ro",
		workdir + ":" + opts.DockerWorkdir + ":rw",
		filepath.Join(workdir, "home") + ":" + filepath.Join(workdir, "home") + ":rw",
		refCache + ":" + sandbox.RefCacheMount + ":ro",
	}, ","), args[7])
	assert.True(t, strings.HasSuffix(args[8], "ubuntu@"+dgst.String()+".sif"))
	assert.Equal(t, []string{"/bin/bash", script}, args[9:])
}

func TestRunWithCromwellPropagatesExitError(t *testing.T) {
	env := newTestEnv(t)
	env.importImage(t, "ubuntu:22.04", "ubuntu image")

	workdir := filepath.Join(env.dir, "task")
	require.NoError(t, os.MkdirAll(workdir, 0700))

	exitErr := &exec.ExitError{}
	env.deps.CmdRunFunc = func(*exec.Cmd) error { return exitErr }

	opts := NewRunWithCromwellOptions(env.ui, env.deps)
	opts.Workdir = workdir
	opts.DockerWorkdir = "/task"
	opts.JobShell = "/bin/sh"
	opts.Script = filepath.Join(workdir, "script")
	opts.ImageName = "ubuntu:22.04"

	err := opts.Run()

	var foundErr *exec.ExitError
	require.True(t, errors.As(err, &foundErr))
	assert.Same(t, exitErr, foundErr)
}

func TestMemoryPerCore(t *testing.T) {
	env := newTestEnv(t)

	opts := NewMemoryPerCoreOptions(env.ui)
	opts.Workdir = "/work/cromwell-executions/wf/1/call-a/attempt-2/execution"
	opts.MemoryGB = 3
	opts.MemoryLimitGB = sandbox.DefaultMemoryLimitGB
	opts.Cores = 4
	require.NoError(t, opts.Run())
	assert.Equal(t, "1536\n", env.stdout.String())

	opts.Cores = 0
	require.Error(t, opts.Run())
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, NewVersionOptions(env.ui).Run())
	assert.Contains(t, env.stdout.String(), "fakedocker version")
}

func TestCommandTree(t *testing.T) {
	cmd := NewDefaultFakedockerCmd(ui.NewConfUI(ui.NewNoopLogger()))

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	assert.Subset(t, names, []string{"pull", "images", "find", "import-singularity", "run-with-cromwell", "archive-images", "memory-per-core", "version"})

	for _, flag := range []string{"image-store-path", "default-registry", "singularity-executable", "offline", "config", "debug"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}
