// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
)

const (
	apiVersionHeader = "Docker-Distribution-API-Version"
	apiVersion       = "registry/2.0"
)

// Credentials are sent as basic auth to a token realm.
type Credentials struct {
	Username string
	Password string
}

// CredentialsFunc looks up credentials by registry hostname.
type CredentialsFunc func(hostname string) (Credentials, bool)

type ClientOpts struct {
	HTTPClient  *http.Client
	Credentials CredentialsFunc
	Logger      logrus.FieldLogger
}

// Client performs GET requests against a registry, answering bearer
// challenges once per call. It does not keep tokens between calls.
type Client struct {
	httpClient  *http.Client
	credentials CredentialsFunc
	log         logrus.FieldLogger
}

// Response is a fully read registry response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func NewClient(opts ClientOpts) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Credentials == nil {
		opts.Credentials = func(string) (Credentials, bool) { return Credentials{}, false }
	}
	if opts.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		opts.Logger = logger
	}
	return &Client{
		httpClient:  opts.HTTPClient,
		credentials: opts.Credentials,
		log:         opts.Logger.WithField("component", "registry"),
	}
}

// Get issues an authenticated GET. When the registry answers 401 with a
// supported bearer challenge, a token is requested from the realm and the
// request is retried once. The token used for the successful request is
// returned so callers can reuse it.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header, token string) (*Response, string, error) {
	log := c.log.WithField("url", RedactURL(rawURL))

	resp, err := c.get(ctx, rawURL, headers, token)
	if err != nil {
		return nil, "", err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		log.Debug("registry.get: ok")
		return resp, token, nil
	case http.StatusUnauthorized:
		// handled below
	default:
		return nil, "", newRequestFailedError(rawURL, resp)
	}

	authHeader := resp.Header.Get("WWW-Authenticate")
	log.WithField("challenge", authHeader).Debug("registry.get: unauthorized")

	challenge, err := ParseChallenge(authHeader)
	if err != nil {
		return nil, "", err
	}

	newToken, err := c.fetchToken(ctx, rawURL, challenge)
	if err != nil {
		return nil, "", err
	}

	resp, err = c.get(ctx, rawURL, headers, newToken)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", newRequestFailedError(rawURL, resp)
	}

	log.Debug("registry.get: ok after token exchange")
	return resp, newToken, nil
}

func (c *Client) get(ctx context.Context, rawURL string, headers http.Header, token string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("Building request: %w", redactURLError(err))
	}

	req.Header.Set(apiVersionHeader, apiVersion)
	for name, vals := range headers {
		for _, val := range vals {
			req.Header.Add(name, val)
		}
	}
	if len(token) > 0 {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Requesting '%s': %w", RedactURL(req.URL.String()), redactURLError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Reading response body of '%s': %w", RedactURL(req.URL.String()), err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

func (c *Client) fetchToken(ctx context.Context, rawURL string, challenge Challenge) (string, error) {
	tokenURL, err := challenge.TokenURL()
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("Building token request: %w", redactURLError(err))
	}

	if parsed, err := url.Parse(rawURL); err == nil {
		if creds, found := c.credentials(parsed.Host); found {
			req.SetBasicAuth(creds.Username, creds.Password)
		}
	}

	c.log.WithField("realm", RedactURL(tokenURL)).Debug("registry.token: requesting")

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newRequestFailedError(tokenURL, resp)
	}

	var tokenResp tokenResponse
	err = json.Unmarshal(resp.Body, &tokenResp)
	if err != nil {
		return "", fmt.Errorf("Unmarshaling token response: %w", err)
	}

	if len(tokenResp.Token) > 0 {
		return tokenResp.Token, nil
	}
	if len(tokenResp.AccessToken) > 0 {
		return tokenResp.AccessToken, nil
	}
	return "", fmt.Errorf("Expected token response from '%s' to contain a token, but did not", RedactURL(tokenURL))
}
