// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/registry"
	"github.com/mitchellh/go-homedir"
)

const dockerConfigFileName = "config.json"

// dockerHubHosts are the names Docker Hub credentials are stored under.
var dockerHubHosts = []string{"index.docker.io", "docker.io", "registry-1.docker.io", "registry.hub.docker.com"}

type dockerConfigJSON struct {
	Auths map[string]dockerConfigJSONAuth
}

type dockerConfigJSONAuth struct {
	Username string
	Password string
	Auth     string
}

// DockerConfig holds registry credentials read from a docker config.json.
type DockerConfig struct {
	auths map[string]registry.Credentials
}

// DockerConfigPath returns $DOCKER_CONFIG/config.json or ~/.docker/config.json.
func DockerConfigPath(lookupEnv func(string) (string, bool)) (string, error) {
	dir := defaultDockerConfigDir
	if val, found := lookupEnv(EnvDockerConfigDir); found && len(val) > 0 {
		dir = val
	}

	dir, err := homedir.Expand(dir)
	if err != nil {
		return "", fmt.Errorf("Expanding docker config dir: %w", err)
	}

	return filepath.Join(dir, dockerConfigFileName), nil
}

// NewDockerConfigFromFile reads credentials. A missing file yields no credentials.
func NewDockerConfigFromFile(path string) (DockerConfig, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DockerConfig{}, nil
		}
		return DockerConfig{}, fmt.Errorf("Reading docker config '%s': %w", path, err)
	}

	return NewDockerConfigFromBytes(bs)
}

func NewDockerConfigFromBytes(bs []byte) (DockerConfig, error) {
	var data dockerConfigJSON

	err := json.Unmarshal(bs, &data)
	if err != nil {
		return DockerConfig{}, fmt.Errorf("Unmarshaling docker config: %w", err)
	}

	auths := map[string]registry.Credentials{}

	for hostname, auth := range data.Auths {
		if len(auth.Password) == 0 && len(auth.Auth) > 0 {
			decodedAuth, err := base64.StdEncoding.DecodeString(auth.Auth)
			if err != nil {
				return DockerConfig{}, fmt.Errorf("Decoding auth field of '%s': %w", hostname, err)
			}

			pieces := strings.SplitN(string(decodedAuth), ":", 2)
			if len(pieces) != 2 {
				return DockerConfig{}, fmt.Errorf("Expected auth field of '%s' to have 'username:password' format, but did not", hostname)
			}
			auth.Username = pieces[0]
			auth.Password = pieces[1]
		}

		if len(auth.Username) == 0 && len(auth.Password) == 0 {
			continue
		}

		auths[normalizeHostname(hostname)] = registry.Credentials{Username: auth.Username, Password: auth.Password}
	}

	return DockerConfig{auths: auths}, nil
}

// Credentials implements registry.CredentialsFunc.
func (c DockerConfig) Credentials(hostname string) (registry.Credentials, bool) {
	hostname = normalizeHostname(hostname)

	if creds, found := c.auths[hostname]; found {
		return creds, true
	}

	if isDockerHub(hostname) {
		for _, alias := range dockerHubHosts {
			if creds, found := c.auths[alias]; found {
				return creds, true
			}
		}
	}

	return registry.Credentials{}, false
}

// normalizeHostname strips the scheme and path docker login stores for
// some registries, e.g. https://index.docker.io/v1/.
func normalizeHostname(hostname string) string {
	hostname = strings.TrimPrefix(hostname, "https://")
	hostname = strings.TrimPrefix(hostname, "http://")
	if i := strings.Index(hostname, "/"); i >= 0 {
		hostname = hostname[:i]
	}
	return strings.ToLower(hostname)
}

func isDockerHub(hostname string) bool {
	for _, alias := range dockerHubHosts {
		if hostname == alias {
			return true
		}
	}
	return false
}
