// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/reference"
	regv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/opencontainers/go-digest"
)

const (
	MediaTypeDockerSchema2Manifest = "application/vnd.docker.distribution.manifest.v2+json"

	contentDigestHeader = "Docker-Content-Digest"
	defaultScheme       = "https"
)

// Manifest is a manifest as served by a registry together with the digest
// that identifies it. It is not persisted.
type Manifest struct {
	Digest digest.Digest
	Raw    []byte
	Parsed *regv1.Manifest
	Token  string
}

type ResolverOpts struct {
	// Scheme used to reach registries (default: https)
	Scheme string
}

// Resolver fetches manifests and turns tags into digests. Tokens are cached
// per registry and repository since registries issue repository-scoped tokens.
type Resolver struct {
	client *Client
	scheme string

	tokensLock sync.Mutex
	tokens     map[tokenKey]string
}

type tokenKey struct {
	Registry   string
	Repository string
}

func NewResolver(client *Client, opts ResolverOpts) *Resolver {
	if len(opts.Scheme) == 0 {
		opts.Scheme = defaultScheme
	}
	return &Resolver{client: client, scheme: opts.Scheme, tokens: map[tokenKey]string{}}
}

// ManifestURL returns the v2 manifests endpoint for ref.
func (r *Resolver) ManifestURL(ref reference.Reference) string {
	return fmt.Sprintf("%s://%s/v2/%s/manifests/%s", r.scheme, ref.Registry, ref.Repository, ref.Reference)
}

// FetchManifest retrieves the manifest of ref. The Docker-Content-Digest
// response header wins over the sha256 of the body when it is present.
func (r *Resolver) FetchManifest(ctx context.Context, ref reference.Reference, token string) (Manifest, error) {
	headers := http.Header{}
	headers.Set("Accept", MediaTypeDockerSchema2Manifest)

	resp, newToken, err := r.client.Get(ctx, r.ManifestURL(ref), headers, token)
	if err != nil {
		return Manifest{}, fmt.Errorf("Fetching manifest of '%s': %w", ref.Remote(), err)
	}

	dgst, err := manifestDigest(resp)
	if err != nil {
		return Manifest{}, fmt.Errorf("Fetching manifest of '%s': %w", ref.Remote(), err)
	}

	parsed, err := regv1.ParseManifest(bytes.NewReader(resp.Body))
	if err != nil {
		return Manifest{}, fmt.Errorf("Parsing manifest of '%s': %w", ref.Remote(), err)
	}

	return Manifest{
		Digest: dgst,
		Raw:    resp.Body,
		Parsed: parsed,
		Token:  newToken,
	}, nil
}

func manifestDigest(resp *Response) (digest.Digest, error) {
	if header := resp.Header.Get(contentDigestHeader); len(header) > 0 {
		dgst, err := digest.Parse(header)
		if err != nil {
			return "", fmt.Errorf("Parsing %s header '%s': %w", contentDigestHeader, header, err)
		}
		return dgst, nil
	}
	return digest.SHA256.FromBytes(resp.Body), nil
}

// Resolve returns the digest form of ref. Digest references are returned
// unchanged without contacting the registry.
func (r *Resolver) Resolve(ctx context.Context, ref reference.Reference) (reference.Reference, error) {
	if !ref.IsTag() {
		return ref, nil
	}

	key := tokenKey{Registry: ref.Registry, Repository: ref.Repository}

	manifest, err := r.FetchManifest(ctx, ref, r.token(key))
	if err != nil {
		return reference.Reference{}, err
	}

	r.setToken(key, manifest.Token)

	return ref.WithDigest(manifest.Digest), nil
}

func (r *Resolver) token(key tokenKey) string {
	r.tokensLock.Lock()
	defer r.tokensLock.Unlock()
	return r.tokens[key]
}

func (r *Resolver) setToken(key tokenKey, token string) {
	r.tokensLock.Lock()
	defer r.tokensLock.Unlock()
	if len(token) > 0 {
		r.tokens[key] = token
	}
}
