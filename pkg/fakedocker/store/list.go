// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/reference"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/symlink"
)

// BrokenLinkError is reported for tag links that do not resolve to a digest
// entry. It is a warning, listing continues without the tag.
type BrokenLinkError struct {
	Path   string
	Target string
	Reason string
}

func (e BrokenLinkError) Error() string {
	return fmt.Sprintf("Broken link: '%s' -> '%s' (%s)", e.Path, e.Target, e.Reason)
}

// TagSet is the set of tags pointing at one digest entry.
type TagSet map[reference.Reference]struct{}

// Listing maps every digest entry of the store to the tags pointing at it.
type Listing struct {
	Images   map[reference.Reference]TagSet
	Warnings []error
}

type ListedImage struct {
	Digest reference.Reference
	Tags   []reference.Reference
}

// Sorted orders images by display name then digest, and tags by name.
func (l Listing) Sorted() []ListedImage {
	var result []ListedImage

	for dgst, tagSet := range l.Images {
		img := ListedImage{Digest: dgst}
		for tag := range tagSet {
			img.Tags = append(img.Tags, tag)
		}
		sort.Slice(img.Tags, func(i, j int) bool {
			return img.Tags[i].Reference < img.Tags[j].Reference
		})
		result = append(result, img)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Digest.DisplayName != result[j].Digest.DisplayName {
			return result[i].Digest.DisplayName < result[j].Digest.DisplayName
		}
		return result[i].Digest.Reference < result[j].Digest.Reference
	})

	return result
}

// Filter keeps images whose display name matches pattern (doublestar syntax).
func (l Listing) Filter(pattern string) (Listing, error) {
	result := Listing{Images: map[reference.Reference]TagSet{}, Warnings: l.Warnings}

	for dgst, tagSet := range l.Images {
		matched, err := doublestar.Match(pattern, dgst.DisplayName)
		if err != nil {
			return Listing{}, fmt.Errorf("Matching repository pattern '%s': %w", pattern, err)
		}
		if matched {
			result.Images[dgst] = tagSet
		}
	}

	return result, nil
}

// List walks the store without touching the network.
func (s *Store) List() (Listing, error) {
	root, err := symlink.Canonicalize(s.root)
	if err != nil {
		return Listing{}, fmt.Errorf("Resolving store root: %w", err)
	}

	tagBase := filepath.Join(root, TagDir)
	digestBase := filepath.Join(root, DigestDir)

	listing := Listing{Images: map[reference.Reference]TagSet{}}

	err = walkImages(digestBase, func(path, relPath string, _ fs.DirEntry) error {
		dgst, err := s.ParseReference(relPath)
		if err != nil {
			listing.Warnings = append(listing.Warnings, fmt.Errorf("Skipping '%s': %w", path, err))
			return nil
		}
		listing.Images[dgst] = TagSet{}
		return nil
	})
	if err != nil {
		return Listing{}, err
	}

	err = walkImages(tagBase, func(path, relPath string, entry fs.DirEntry) error {
		if entry.Type()&os.ModeSymlink != os.ModeSymlink {
			return nil
		}

		target, err := symlink.ReadLinkAbs(path)
		if err != nil {
			return err
		}
		if !strings.HasSuffix(target, imageExt) {
			return nil
		}

		_, err = os.Stat(target)
		if err != nil {
			listing.Warnings = append(listing.Warnings, BrokenLinkError{Path: path, Target: target, Reason: "target does not exist"})
			return nil
		}

		resolved, err := symlink.Canonicalize(path)
		if err != nil {
			listing.Warnings = append(listing.Warnings, BrokenLinkError{Path: path, Target: target, Reason: err.Error()})
			return nil
		}
		if !symlink.IsWithin(resolved, digestBase) || !strings.HasSuffix(resolved, imageExt) {
			listing.Warnings = append(listing.Warnings, BrokenLinkError{Path: path, Target: resolved, Reason: "target is outside of digest entries"})
			return nil
		}

		tag, err := s.ParseReference(relPath)
		if err != nil {
			listing.Warnings = append(listing.Warnings, fmt.Errorf("Skipping '%s': %w", path, err))
			return nil
		}

		relDigest, err := filepath.Rel(digestBase, resolved)
		if err != nil {
			return err
		}
		dgst, err := s.ParseReference(strings.TrimSuffix(filepath.ToSlash(relDigest), imageExt))
		if err != nil {
			listing.Warnings = append(listing.Warnings, fmt.Errorf("Skipping '%s': %w", resolved, err))
			return nil
		}

		if _, found := listing.Images[dgst]; !found {
			listing.Images[dgst] = TagSet{}
		}
		listing.Images[dgst][tag] = struct{}{}
		return nil
	})
	if err != nil {
		return Listing{}, err
	}

	for _, warning := range listing.Warnings {
		s.log.WithError(warning).Debug("store.list: warning")
	}

	return listing, nil
}

// walkImages calls fn for every *.sif entry below base with the entry path
// relative to base minus the extension. Directory links are not followed.
func walkImages(base string, fn func(path, relPath string, entry fs.DirEntry) error) error {
	err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == base && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), imageExt) {
			return nil
		}

		relPath, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}

		return fn(path, strings.TrimSuffix(filepath.ToSlash(relPath), imageExt), entry)
	})
	if err != nil {
		return fmt.Errorf("Walking '%s': %w", base, err)
	}
	return nil
}

// ImageDetails describes the digest entry of an image on disk.
type ImageDetails struct {
	Path     string
	Size     int64
	ModTime  time.Time
	Imported bool
}

func (s *Store) Describe(dgst reference.Reference) (ImageDetails, error) {
	path := s.ImagePath(dgst)

	info, err := os.Stat(path)
	if err != nil {
		return ImageDetails{}, fmt.Errorf("Checking image '%s': %w", dgst, err)
	}

	imported, err := exists(path + warnExt)
	if err != nil {
		return ImageDetails{}, fmt.Errorf("Checking provenance marker of '%s': %w", dgst, err)
	}

	return ImageDetails{
		Path:     path,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Imported: imported,
	}, nil
}
