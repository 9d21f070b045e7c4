// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package symlink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MaxHops bounds the number of links followed while resolving one path.
// Matches the Linux ELOOP limit.
const MaxHops = 40

var ErrSymlinkCycle = errors.New("too many levels of symbolic links")

// ReadLinkAbs follows exactly one link hop and returns the absolute, cleaned target.
func ReadLinkAbs(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("Reading symlink '%s': %w", path, err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return filepath.Abs(target)
}

// Canonicalize resolves every link in path, including links in parent
// directories. Paths that do not exist are returned joined with their
// canonical parent.
func Canonicalize(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	hops := 0
	return canonicalize(absPath, &hops)
}

func canonicalize(path string, hops *int) (string, error) {
	if path == string(filepath.Separator) {
		return path, nil
	}

	for isLink(path) {
		*hops++
		if *hops > MaxHops {
			return "", fmt.Errorf("Resolving '%s': %w", path, ErrSymlinkCycle)
		}

		target, err := ReadLinkAbs(path)
		if err != nil {
			return "", err
		}
		path = target
	}

	parent, err := canonicalize(filepath.Dir(path), hops)
	if err != nil {
		return "", err
	}

	return filepath.Join(parent, filepath.Base(path)), nil
}

func isLink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink == os.ModeSymlink
}

// CreateRelative creates a symlink at link pointing to target, expressed
// relative to the directory containing link.
func CreateRelative(target, link string) error {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	absLink, err := filepath.Abs(link)
	if err != nil {
		return err
	}

	relTarget, err := filepath.Rel(filepath.Dir(absLink), absTarget)
	if err != nil {
		return fmt.Errorf("Relativizing '%s': %w", target, err)
	}

	err = os.Symlink(relTarget, absLink)
	if err != nil {
		return fmt.Errorf("Creating symlink '%s': %w", link, err)
	}
	return nil
}

// IsWithin reports whether path is dir or lies below it. Both are expected
// to be absolute and clean.
func IsWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Chain describes one link found under a directory: the link itself, its
// one-hop target and its fully resolved path.
type Chain struct {
	Path     string
	Target   string
	Resolved string
}

// FindChains walks root once and returns a Chain for every symlink that does
// not point to a directory. Dangling links are included. A link that cannot
// be resolved because of a cycle is passed to warn and skipped.
func FindChains(root string, warn func(path string, err error)) ([]Chain, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var chains []Chain

	err = filepath.WalkDir(absRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type()&os.ModeSymlink != os.ModeSymlink {
			return nil
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return nil
		}

		target, err := ReadLinkAbs(path)
		if err != nil {
			return err
		}

		resolved, err := Canonicalize(path)
		if err != nil {
			if errors.Is(err, ErrSymlinkCycle) {
				if warn != nil {
					warn(path, err)
				}
				return nil
			}
			return err
		}

		chains = append(chains, Chain{Path: path, Target: target, Resolved: resolved})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Searching symlinks in '%s': %w", root, err)
	}

	return chains, nil
}
