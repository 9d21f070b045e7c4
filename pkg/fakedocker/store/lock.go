// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/symlink"
	"github.com/opencontainers/go-digest"
)

const lockNameLen = 16

// lock takes an exclusive advisory lock scoped to path. Lock files live
// under the canonical store root and are named after path relative to the
// root, so every process sharing the store contends on the same file
// regardless of how it spells the root.
func (s *Store) lock(path string) (func(), error) {
	key, err := s.lockKey(path)
	if err != nil {
		return nil, err
	}

	root, err := symlink.Canonicalize(s.root)
	if err != nil {
		return nil, fmt.Errorf("Resolving store root: %w", err)
	}

	dir := filepath.Join(root, locksDir)

	err = os.MkdirAll(dir, 0700)
	if err != nil {
		return nil, fmt.Errorf("Creating lock dir '%s': %w", dir, err)
	}

	lockPath := filepath.Join(dir, digest.FromString(key).Encoded()[:lockNameLen]+".lock")

	unlock, err := lockFile(lockPath)
	if err != nil {
		return nil, fmt.Errorf("Locking '%s': %w", path, err)
	}

	s.log.WithField("path", path).Debug("store.lock: acquired")

	return func() {
		err := unlock()
		if err != nil {
			s.log.WithError(err).WithField("path", path).Warn("store.lock: release failed")
		}
	}, nil
}

// lockKey is path relative to the store root. Paths outside of the root
// are keyed by their canonical form.
func (s *Store) lockKey(path string) (string, error) {
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	relPath, err := filepath.Rel(absRoot, absPath)
	if err == nil && relPath != ".." && !strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(relPath), nil
	}

	canonical, err := symlink.Canonicalize(absPath)
	if err != nil {
		return "", fmt.Errorf("Resolving lock path '%s': %w", path, err)
	}
	return canonical, nil
}
