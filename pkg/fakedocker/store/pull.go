// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/reference"
)

// Pull makes sure the digest entry of ref exists, materializing it when
// missing, and repoints the tag entry when ref is a tag. It returns the
// path of the digest entry.
func (s *Store) Pull(ctx context.Context, ref reference.Reference) (string, error) {
	if s.offline {
		return "", fmt.Errorf("Pulling '%s': %w", ref, ErrOffline)
	}

	digestRef := ref

	if ref.IsTag() {
		if s.resolver == nil {
			return "", fmt.Errorf("Pulling '%s': no resolver configured", ref)
		}
		resolved, err := s.resolver.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("Resolving '%s': %w", ref, err)
		}
		digestRef = resolved
	}

	digestPath, err := filepath.Abs(s.ImagePath(digestRef))
	if err != nil {
		return "", err
	}

	s.log.WithField("ref", ref.String()).WithField("digest", digestRef.Reference).Debug("store.pull: resolved")

	err = s.materialize(digestRef, digestPath)
	if err != nil {
		return "", err
	}

	if ref.IsTag() {
		err = s.UpdateTagLink(ref, digestRef)
		if err != nil {
			return "", err
		}
	}

	return digestPath, nil
}

func (s *Store) materialize(digestRef reference.Reference, digestPath string) error {
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
		s.ui.ErrorLinef("Image is up to date")
		return nil
	}

	if s.materializer == nil {
		return fmt.Errorf("Materializing '%s': no materializer configured", digestRef)
	}

	incoming, err := s.newIncomingDir()
	if err != nil {
		return err
	}
	defer os.RemoveAll(incoming)

	tmpPath := filepath.Join(incoming, filepath.Base(digestPath))

	err = s.materializer.Materialize(digestRef, tmpPath)
	if err != nil {
		return fmt.Errorf("Materializing '%s': %w", digestRef, err)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return fmt.Errorf("Expected materializer to produce image for '%s', but it did not: %w", digestRef, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("Expected materializer to produce a regular file for '%s'", digestRef)
	}

	return s.moveIntoPlace(tmpPath, digestPath)
}
