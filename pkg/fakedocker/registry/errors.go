// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"strings"
)

var ErrRequestFailed = errors.New("registry request failed")

const maxErrorBodyLen = 8 << 10

// RequestFailedError carries the status and body of an unsuccessful registry response.
type RequestFailedError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func newRequestFailedError(url string, resp *Response) *RequestFailedError {
	body := string(resp.Body)
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen]
	}
	return &RequestFailedError{
		URL:        RedactURL(url),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(body),
	}
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("Requesting '%s': unexpected status '%s' (body: '%s')", e.URL, e.Status, e.Body)
}

func (e *RequestFailedError) Unwrap() error { return ErrRequestFailed }
