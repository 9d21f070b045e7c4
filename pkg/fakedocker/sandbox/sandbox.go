// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/fetch/singularity"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/symlink"
	"github.com/sirupsen/logrus"
)

const (
	ExecutionsDirName = "cromwell-executions"
	LogFileName       = "fakedocker.log"

	// MaxBindLen is the longest bind argument passed to singularity before
	// binds inside the execution directory are collapsed into one.
	MaxBindLen = 100000

	RefCacheMount = "/hts-ref"
	RefCacheEnv   = "REF_CACHE=" + RefCacheMount + "/%2s/%2s/%s"

	inputsDir = "inputs"
	homeDir   = "home"
	tmpDir    = "tmp"
	badChars  = ",: "
)

var ErrBadPathChar = errors.New("bad char is included in path name")

type Mode string

const (
	ReadOnly  Mode = "ro"
	ReadWrite Mode = "rw"
)

type Bind struct {
	Source string
	Target string
	Mode   Mode
}

func (b Bind) String() string {
	return b.Source + ":" + b.Target + ":" + string(b.Mode)
}

func JoinBinds(binds []Bind) string {
	var strs []string
	for _, bind := range binds {
		strs = append(strs, bind.String())
	}
	return strings.Join(strs, ",")
}

type Opts struct {
	Workdir       string
	DockerWorkdir string
	JobShell      string
	Script        string
	RunShell      bool
	RefCache      string
}

// Plan is a prepared singularity run of a Cromwell task.
type Plan struct {
	Workdir      string
	ExecutionDir string
	Binds        []Bind
	Env          []string
	Args         []string
}

// ExecOpts returns the singularity options running plan inside image.
func (p Plan) ExecOpts(image string) singularity.ExecOpts {
	return singularity.ExecOpts{
		Image:   image,
		Home:    filepath.Join(p.Workdir, homeDir),
		Workdir: filepath.Join(p.Workdir, tmpDir),
		Binds:   JoinBinds(p.Binds),
		Args:    p.Args,
		Dir:     p.Workdir,
		Env:     p.Env,
	}
}

// Prepare builds the bind list of a task: the script and every input link
// read-only, the task directory read-write. It creates the home and tmp
// directories of the task and records the binds in the task log.
func Prepare(opts Opts, logger logrus.FieldLogger) (Plan, error) {
	workdir, err := symlink.Canonicalize(opts.Workdir)
	if err != nil {
		return Plan{}, fmt.Errorf("Resolving workdir: %w", err)
	}

	plan := Plan{
		Workdir:      workdir,
		ExecutionDir: findExecutionDir(workdir),
	}

	logFile, err := os.Create(filepath.Join(workdir, LogFileName))
	if err != nil {
		return Plan{}, fmt.Errorf("Creating task log: %w", err)
	}
	defer logFile.Close()

	chains := []symlink.Chain{{Path: opts.Script, Target: opts.Script, Resolved: opts.Script}}

	inputChains, err := symlink.FindChains(filepath.Join(workdir, inputsDir), func(path string, err error) {
		logger.WithError(err).WithField("path", path).Warn("sandbox: skipping input link")
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Plan{}, err
	}
	chains = append(chains, dedupChains(inputChains)...)

	for _, chain := range chains {
		for _, path := range []string{chain.Path, chain.Target, chain.Resolved} {
			if strings.ContainsAny(path, badChars) {
				return Plan{}, fmt.Errorf("Checking bind path '%s': %w", path, ErrBadPathChar)
			}
		}
	}

	plan.Binds = chainBinds(chains)
	if len(JoinBinds(plan.Binds)) > MaxBindLen {
		plan.Binds = collapseBinds(chains, plan.ExecutionDir)
	}

	plan.Binds = append(plan.Binds,
		Bind{Source: workdir, Target: opts.DockerWorkdir, Mode: ReadWrite},
		Bind{Source: filepath.Join(workdir, homeDir), Target: filepath.Join(workdir, homeDir), Mode: ReadWrite},
	)

	if len(opts.RefCache) > 0 {
		if _, err := os.Stat(opts.RefCache); err == nil {
			plan.Binds = append(plan.Binds, Bind{Source: opts.RefCache, Target: RefCacheMount, Mode: ReadOnly})
			plan.Env = append(plan.Env, RefCacheEnv)
		}
	}

	_, err = fmt.Fprintf(logFile, "actual bind %s\n", JoinBinds(plan.Binds))
	if err != nil {
		return Plan{}, fmt.Errorf("Writing task log: %w", err)
	}

	for _, dir := range []string{homeDir, tmpDir} {
		err = os.MkdirAll(filepath.Join(workdir, dir), 0700)
		if err != nil {
			return Plan{}, fmt.Errorf("Creating task %s dir: %w", dir, err)
		}
	}

	plan.Args = []string{opts.JobShell}
	if !opts.RunShell {
		plan.Args = append(plan.Args, opts.Script)
	}

	logger.WithField("binds", len(plan.Binds)).WithField("executionDir", plan.ExecutionDir).Debug("sandbox: prepared")

	return plan, nil
}

// findExecutionDir returns the closest cromwell-executions ancestor of
// workdir, or an empty string.
func findExecutionDir(workdir string) string {
	for dir := workdir; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		if filepath.Base(dir) == ExecutionsDirName {
			return dir
		}
	}
	return ""
}

func dedupChains(chains []symlink.Chain) []symlink.Chain {
	seen := map[symlink.Chain]struct{}{}
	var result []symlink.Chain
	for _, chain := range chains {
		if _, found := seen[chain]; found {
			continue
		}
		seen[chain] = struct{}{}
		result = append(result, chain)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

func chainBinds(chains []symlink.Chain) []Bind {
	var binds []Bind
	for _, chain := range chains {
		binds = append(binds, Bind{Source: chain.Resolved, Target: chain.Target, Mode: ReadOnly})
	}
	return binds
}

// collapseBinds replaces binds of links living in and pointing into the
// execution directory with a single read-only bind of that directory.
func collapseBinds(chains []symlink.Chain, executionDir string) []Bind {
	if len(executionDir) == 0 {
		return chainBinds(chains)
	}

	var kept []symlink.Chain
	for _, chain := range chains {
		if symlink.IsWithin(chain.Path, executionDir) && symlink.IsWithin(chain.Target, executionDir) {
			continue
		}
		kept = append(kept, chain)
	}

	return append(chainBinds(kept), Bind{Source: executionDir, Target: executionDir, Mode: ReadOnly})
}
