// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cppforlife/go-cli-ui/ui"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/reference"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/symlink"
	"github.com/sirupsen/logrus"
)

const (
	TagDir    = "tag"
	DigestDir = "sha256"

	imageExt    = ".sif"
	warnExt     = ".warn"
	locksDir    = ".locks"
	incomingDir = ".incoming"

	// WarnMarker is written to the sidecar of images that were not fetched
	// from a registry.
	WarnMarker = "NOT_DOWNLOADED_FROM_DOCKERHUB"
)

var (
	ErrTagPathOccupied      = errors.New("tag path is occupied by a non-symlink")
	ErrDuplicateDigestEntry = errors.New("digest entry already exists")
	ErrNotFound             = errors.New("image file is not found")
	ErrOffline              = errors.New("cannot pull image without internet connection")
)

// Resolver turns tag references into digest references.
type Resolver interface {
	Resolve(ctx context.Context, ref reference.Reference) (reference.Reference, error)
}

// Materializer writes the image identified by a digest reference to dstPath.
type Materializer interface {
	Materialize(ref reference.Reference, dstPath string) error
}

type Opts struct {
	Root            string
	DefaultRegistry string
	Offline         bool

	Resolver     Resolver
	Materializer Materializer

	UI     ui.UI
	Logger logrus.FieldLogger
}

// Store is a content-addressed image store. Digest entries are regular
// files written once, tag entries are relative symlinks to digest entries.
type Store struct {
	root            string
	defaultRegistry string
	offline         bool

	resolver     Resolver
	materializer Materializer

	ui  ui.UI
	log logrus.FieldLogger

	renameFunc func(oldPath, newPath string) error
}

func NewStore(opts Opts) *Store {
	if len(opts.DefaultRegistry) == 0 {
		opts.DefaultRegistry = reference.DefaultRegistry
	}
	if opts.UI == nil {
		opts.UI = ui.NewConfUI(ui.NewNoopLogger())
	}
	if opts.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		opts.Logger = logger
	}
	return &Store{
		root:            opts.Root,
		defaultRegistry: opts.DefaultRegistry,
		offline:         opts.Offline,
		resolver:        opts.Resolver,
		materializer:    opts.Materializer,
		ui:              opts.UI,
		log:             opts.Logger.WithField("component", "store"),
		renameFunc:      os.Rename,
	}
}

// Init creates the store root and its tag and digest namespaces.
func (s *Store) Init() error {
	for _, dir := range []string{s.root, filepath.Join(s.root, TagDir), filepath.Join(s.root, DigestDir)} {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			return fmt.Errorf("Creating store directory '%s': %w", dir, err)
		}
	}
	return nil
}

// ImagePath returns the location of ref inside the store rooted at root.
func ImagePath(root string, ref reference.Reference) string {
	if ref.IsTag() {
		return filepath.Join(root, TagDir, ref.String()+imageExt)
	}
	return filepath.Join(root, DigestDir, ref.String()+imageExt)
}

func (s *Store) ImagePath(ref reference.Reference) string {
	return ImagePath(s.root, ref)
}

// ParseReference parses ref against the default registry of the store.
func (s *Store) ParseReference(ref string) (reference.Reference, error) {
	return reference.Parse(ref, s.defaultRegistry)
}

// Find returns the resolved path of the image file of ref.
func (s *Store) Find(ref reference.Reference) (string, error) {
	path, err := filepath.Abs(s.ImagePath(ref))
	if err != nil {
		return "", err
	}

	if isSymlink(path) {
		path, err = symlink.Canonicalize(path)
		if err != nil {
			return "", fmt.Errorf("Resolving image path of '%s': %w", ref, err)
		}
	}

	_, err = os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("Finding '%s': %w", ref, ErrNotFound)
		}
		return "", fmt.Errorf("Checking image path '%s': %w", path, err)
	}

	return path, nil
}

// UpdateTagLink points the tag entry of tag at the digest entry of dgst.
// A link that already resolves to the digest entry is left alone.
func (s *Store) UpdateTagLink(tag, dgst reference.Reference) error {
	if !tag.IsTag() {
		return fmt.Errorf("Expected '%s' to be a tag reference", tag)
	}
	if dgst.IsTag() {
		return fmt.Errorf("Expected '%s' to be a digest reference", dgst)
	}

	tagPath, err := filepath.Abs(s.ImagePath(tag))
	if err != nil {
		return err
	}
	digestPath, err := filepath.Abs(s.ImagePath(dgst))
	if err != nil {
		return err
	}

	unlock, err := s.lock(tagPath)
	if err != nil {
		return err
	}
	defer unlock()

	info, err := os.Lstat(tagPath)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink == os.ModeSymlink:
		same, err := sameLocation(tagPath, digestPath)
		if err != nil {
			return err
		}
		if same {
			s.log.WithField("tag", tag.String()).Debug("store.link: up to date")
			return nil
		}
		err = os.Remove(tagPath)
		if err != nil {
			return fmt.Errorf("Removing stale tag link '%s': %w", tagPath, err)
		}

	case err == nil:
		return fmt.Errorf("Linking '%s': %w", tagPath, ErrTagPathOccupied)

	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("Checking tag path '%s': %w", tagPath, err)
	}

	err = os.MkdirAll(filepath.Dir(tagPath), 0700)
	if err != nil {
		return fmt.Errorf("Creating tag directory: %w", err)
	}

	err = symlink.CreateRelative(digestPath, tagPath)
	if err != nil {
		return err
	}

	s.ui.PrintLinef("link %s => %s", tagPath, digestPath)
	return nil
}

func sameLocation(linkPath, path string) (bool, error) {
	resolvedLink, err := symlink.Canonicalize(linkPath)
	if err != nil {
		return false, err
	}
	resolvedPath, err := symlink.Canonicalize(path)
	if err != nil {
		return false, err
	}
	return resolvedLink == resolvedPath, nil
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink == os.ModeSymlink
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// newIncomingDir returns a scratch directory on the same filesystem as the
// store so finished files can be renamed into place.
func (s *Store) newIncomingDir() (string, error) {
	parent := filepath.Join(s.root, incomingDir)

	err := os.MkdirAll(parent, 0700)
	if err != nil {
		return "", fmt.Errorf("Creating incoming dir '%s': %w", parent, err)
	}

	dir, err := os.MkdirTemp(parent, "entry-")
	if err != nil {
		return "", fmt.Errorf("Creating incoming dir: %w", err)
	}
	return dir, nil
}

func (s *Store) moveIntoPlace(srcPath, dstPath string) error {
	err := os.MkdirAll(filepath.Dir(dstPath), 0700)
	if err != nil {
		return fmt.Errorf("Creating directory '%s': %w", filepath.Dir(dstPath), err)
	}

	err = s.renameFunc(srcPath, dstPath)
	if err != nil {
		return fmt.Errorf("Moving '%s' into store: %w", srcPath, err)
	}
	return nil
}
