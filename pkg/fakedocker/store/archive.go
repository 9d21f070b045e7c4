// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/reference"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/symlink"
)

// ArchivePrefix is the directory inside archives under which store entries
// are placed. Extracting an archive into a home directory recreates the
// default store.
const ArchivePrefix = ".cromwell/singularity"

// Archive writes a tar archive containing the entries of refs. Tag entries
// are stored as symlinks next to the digest entries they resolve to.
func (s *Store) Archive(refs []reference.Reference, w io.Writer) error {
	root, err := symlink.Canonicalize(s.root)
	if err != nil {
		return fmt.Errorf("Resolving store root: %w", err)
	}

	tarWriter := tar.NewWriter(w)
	written := map[string]struct{}{}

	for _, ref := range refs {
		entryPath := ImagePath(root, ref)

		info, err := os.Lstat(entryPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("Archiving '%s': %w", ref, ErrNotFound)
			}
			return fmt.Errorf("Archiving '%s': %w", ref, err)
		}

		if info.Mode()&os.ModeSymlink == os.ModeSymlink {
			err = s.addTarEntry(tarWriter, root, entryPath, written)
			if err != nil {
				return err
			}

			entryPath, err = symlink.Canonicalize(entryPath)
			if err != nil {
				return fmt.Errorf("Resolving '%s': %w", ref, err)
			}
			if !symlink.IsWithin(entryPath, root) {
				return fmt.Errorf("Archiving '%s': resolved path '%s' is outside of the store", ref, entryPath)
			}
		}

		found, err := exists(entryPath)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("Archiving '%s': %w", ref, ErrNotFound)
		}

		err = s.addTarEntry(tarWriter, root, entryPath, written)
		if err != nil {
			return err
		}

		found, err = exists(entryPath + warnExt)
		if err != nil {
			return err
		}
		if found {
			err = s.addTarEntry(tarWriter, root, entryPath+warnExt, written)
			if err != nil {
				return err
			}
		}
	}

	err = tarWriter.Close()
	if err != nil {
		return fmt.Errorf("Finishing archive: %w", err)
	}
	return nil
}

func (s *Store) addTarEntry(tarWriter *tar.Writer, root, entryPath string, written map[string]struct{}) error {
	relPath, err := filepath.Rel(root, entryPath)
	if err != nil {
		return err
	}

	name := path.Join(ArchivePrefix, filepath.ToSlash(relPath))
	if _, found := written[name]; found {
		return nil
	}
	written[name] = struct{}{}

	info, err := os.Lstat(entryPath)
	if err != nil {
		return fmt.Errorf("Checking '%s': %w", entryPath, err)
	}

	var linkTarget string
	if info.Mode()&os.ModeSymlink == os.ModeSymlink {
		linkTarget, err = os.Readlink(entryPath)
		if err != nil {
			return fmt.Errorf("Reading symlink '%s': %w", entryPath, err)
		}
	}

	header, err := tar.FileInfoHeader(info, linkTarget)
	if err != nil {
		return fmt.Errorf("Building tar header for '%s': %w", entryPath, err)
	}
	header.Name = name

	s.log.WithField("entry", name).Debug("store.archive: adding")

	err = tarWriter.WriteHeader(header)
	if err != nil {
		return fmt.Errorf("Writing tar header for '%s': %w", entryPath, err)
	}

	if header.Typeflag != tar.TypeReg {
		return nil
	}

	file, err := os.Open(entryPath)
	if err != nil {
		return fmt.Errorf("Opening '%s': %w", entryPath, err)
	}
	defer file.Close()

	_, err = io.Copy(tarWriter, file)
	if err != nil {
		return fmt.Errorf("Copying '%s' into archive: %w", entryPath, err)
	}
	return nil
}
