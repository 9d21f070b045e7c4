// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"net/url"
)

// RedactURL replaces every query value of rawURL so that URLs can be logged
// without leaking tokens or scopes. Unparseable input is returned as is.
func RedactURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed == nil {
		return rawURL
	}
	if query := parsed.Query(); len(query) > 0 {
		for k := range query {
			query.Set(k, "redacted")
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.Redacted()
}

func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = RedactURL(urlErr.URL)
		return urlErr
	}
	return err
}
