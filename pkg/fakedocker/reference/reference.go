// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package reference

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

const (
	DefaultRegistry = "registry-1.docker.io"
	DefaultTag      = "latest"

	libraryPrefix       = "library/"
	maxRepositorySegs   = 3
	digestPrefix        = "sha256:"
	repositoryDelimiter = "/"
)

var ErrMalformedReference = errors.New("malformed image reference")

type Kind int

const (
	KindTag Kind = iota
	KindDigest
)

func (k Kind) String() string {
	if k == KindDigest {
		return "digest"
	}
	return "tag"
}

// Reference identifies an image by registry, repository and tag or digest.
// It is a comparable value and can be used as a map key.
type Reference struct {
	Registry    string
	Repository  string
	Reference   string
	Kind        Kind
	DisplayName string
}

// Parse parses NAME[:TAG|@DIGEST] into a Reference. Registry is taken from
// the first path segment when the name has three segments or the first
// segment looks like a hostname; defaultRegistry is used otherwise.
func Parse(ref, defaultRegistry string) (Reference, error) {
	name, object, kind := splitObject(ref)

	if len(name) == 0 {
		return Reference{}, fmt.Errorf("Parsing image reference '%s': empty repository: %w", ref, ErrMalformedReference)
	}

	if !strings.Contains(name, repositoryDelimiter) {
		name = libraryPrefix + name
	}

	segs := strings.Split(name, repositoryDelimiter)
	if len(segs) > maxRepositorySegs {
		return Reference{}, fmt.Errorf("Parsing image reference '%s': expected at most %d path segments, but found %d: %w",
			ref, maxRepositorySegs, len(segs), ErrMalformedReference)
	}
	for _, seg := range segs {
		if len(seg) == 0 {
			return Reference{}, fmt.Errorf("Parsing image reference '%s': empty path segment: %w", ref, ErrMalformedReference)
		}
	}

	registry := defaultRegistry
	if len(segs) == maxRepositorySegs || strings.Contains(segs[0], ".") {
		registry = segs[0]
		name = strings.Join(segs[1:], repositoryDelimiter)
	}

	return Reference{
		Registry:    registry,
		Repository:  name,
		Reference:   object,
		Kind:        kind,
		DisplayName: displayName(registry, name, defaultRegistry),
	}, nil
}

// splitObject separates the tag or digest from the name. A tag separator is
// only recognised after the last slash so registry ports are left alone.
func splitObject(ref string) (string, string, Kind) {
	if i := strings.Index(ref, "@"); i >= 0 {
		return ref[:i], ref[i+1:], KindDigest
	}

	lastSlash := strings.LastIndex(ref, repositoryDelimiter)
	if i := strings.Index(ref[lastSlash+1:], ":"); i >= 0 {
		i += lastSlash + 1
		object := ref[i+1:]
		if strings.HasPrefix(object, digestPrefix) {
			return ref[:i], object, KindDigest
		}
		return ref[:i], object, KindTag
	}

	return ref, DefaultTag, KindTag
}

func displayName(registry, repository, defaultRegistry string) string {
	if registry != defaultRegistry {
		return registry + repositoryDelimiter + repository
	}
	return strings.TrimPrefix(repository, libraryPrefix)
}

func (r Reference) IsTag() bool { return r.Kind == KindTag }

// WithDigest returns the digest form of r, keeping its repository identity.
func (r Reference) WithDigest(dgst digest.Digest) Reference {
	return Reference{
		Registry:    r.Registry,
		Repository:  r.Repository,
		Reference:   dgst.String(),
		Kind:        KindDigest,
		DisplayName: r.DisplayName,
	}
}

// Separator is ":" for tags and "@" for digests.
func (r Reference) Separator() string {
	if r.Kind == KindDigest {
		return "@"
	}
	return ":"
}

func (r Reference) String() string {
	return r.DisplayName + r.Separator() + r.Reference
}

// Remote returns the fully qualified registry location of r.
func (r Reference) Remote() string {
	return r.Registry + repositoryDelimiter + r.Repository + r.Separator() + r.Reference
}
