// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

var ErrUnsupportedAuthChallenge = errors.New("unsupported WWW-Authenticate challenge")

var (
	bearerChallenge        = regexp.MustCompile(`\ABearer realm="([\w.\-/:]+)",service="([\w.\-]+)",scope="([\w:\-./]+)"`)
	bearerChallengeNoScope = regexp.MustCompile(`\ABearer realm="([\w.\-/:]+)",service="([\w.\-]+)"`)
)

// Challenge is a parsed bearer WWW-Authenticate header.
type Challenge struct {
	Realm   string
	Service string
	Scope   string
}

// ParseChallenge accepts only the two forms registries are known to send:
//
//	Bearer realm="R",service="S",scope="SC"
//	Bearer realm="R",service="S"
func ParseChallenge(header string) (Challenge, error) {
	if m := bearerChallenge.FindStringSubmatch(header); m != nil {
		return Challenge{Realm: m[1], Service: m[2], Scope: m[3]}, nil
	}
	if m := bearerChallengeNoScope.FindStringSubmatch(header); m != nil {
		return Challenge{Realm: m[1], Service: m[2]}, nil
	}
	return Challenge{}, fmt.Errorf("Parsing challenge '%s': %w", header, ErrUnsupportedAuthChallenge)
}

// TokenURL returns the realm URL with service and (when present) scope query parameters.
func (c Challenge) TokenURL() (string, error) {
	realmURL, err := url.Parse(c.Realm)
	if err != nil {
		return "", fmt.Errorf("Parsing realm '%s': %w", c.Realm, err)
	}

	query := realmURL.Query()
	query.Set("service", c.Service)
	if len(c.Scope) > 0 {
		query.Set("scope", c.Scope)
	}
	realmURL.RawQuery = query.Encode()

	return realmURL.String(), nil
}
