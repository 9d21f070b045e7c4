// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/reference"
	"github.com/opencontainers/go-digest"
	"github.com/otiai10/copy"
)

// Import copies a local image file into the store. Tag references are
// addressed by the sha256 of the file. An existing digest entry is never
// replaced. Imported files carry a provenance sidecar.
func (s *Store) Import(ref reference.Reference, file string) (reference.Reference, error) {
	info, err := os.Stat(file)
	if err != nil {
		return reference.Reference{}, fmt.Errorf("Checking image file '%s': %w", file, err)
	}
	if !info.Mode().IsRegular() {
		return reference.Reference{}, fmt.Errorf("Expected image file '%s' to be a regular file", file)
	}

	digestRef := ref

	if ref.IsTag() {
		dgst, err := fileDigest(file)
		if err != nil {
			return reference.Reference{}, err
		}
		digestRef = ref.WithDigest(dgst)
	}

	digestPath, err := filepath.Abs(s.ImagePath(digestRef))
	if err != nil {
		return reference.Reference{}, err
	}

	err = s.importFile(file, digestPath)
	if err != nil {
		return reference.Reference{}, err
	}

	if ref.IsTag() {
		err = s.UpdateTagLink(ref, digestRef)
		if err != nil {
			return reference.Reference{}, err
		}
	}

	return digestRef, nil
}

func (s *Store) importFile(file, digestPath string) error {
	unlock, err := s.lock(digestPath)
	if err != nil {
		return err
	}
	defer unlock()

	found, err := exists(digestPath)
	if err != nil {
		return fmt.Errorf("Checking digest entry '%s': %w", digestPath, err)
	}
	if found {
		return fmt.Errorf("Importing into '%s': %w", digestPath, ErrDuplicateDigestEntry)
	}

	incoming, err := s.newIncomingDir()
	if err != nil {
		return err
	}
	defer os.RemoveAll(incoming)

	tmpPath := filepath.Join(incoming, filepath.Base(digestPath))

	err = copy.Copy(file, tmpPath)
	if err != nil {
		return fmt.Errorf("Copying '%s' into store: %w", file, err)
	}

	err = s.moveIntoPlace(tmpPath, digestPath)
	if err != nil {
		return err
	}

	err = os.WriteFile(digestPath+warnExt, []byte(WarnMarker+"\n"), 0600)
	if err != nil {
		return fmt.Errorf("Writing provenance marker: %w", err)
	}
	return nil
}

func fileDigest(path string) (digest.Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("Opening image file '%s': %w", path, err)
	}
	defer file.Close()

	dgst, err := digest.SHA256.FromReader(file)
	if err != nil {
		return "", fmt.Errorf("Hashing image file '%s': %w", path, err)
	}
	return dgst, nil
}
