// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/fetch/singularity"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/reference"
	"github.com/mitchellh/go-homedir"
	"sigs.k8s.io/yaml"
)

const (
	KnownAPIVersion = "fakedocker.cromwell-helper.io/v1alpha1"
	KnownKind       = "Config"

	DefaultPath           = "~/.cromwell/fakedocker.yml"
	DefaultImageStorePath = "~/.cromwell/singularity"

	EnvImageStore          = "FAKEDOCKER_IMAGE_STORE"
	EnvDefaultRegistry     = "FAKEDOCKER_DEFAULT_REGISTRY"
	EnvSingularityBinary   = "FAKEDOCKER_SINGULARITY_BINARY"
	EnvOffline             = "FAKEDOCKER_OFFLINE"
	EnvRefCache            = "FAKEDOCKER_REF_CACHE"
	EnvDockerConfigDir     = "DOCKER_CONFIG"
	defaultDockerConfigDir = "~/.docker"
)

type Config struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`

	ImageStorePath        string `json:"imageStorePath,omitempty"`
	DefaultRegistry       string `json:"defaultRegistry,omitempty"`
	SingularityExecutable string `json:"singularityExecutable,omitempty"`
	Offline               bool   `json:"offline,omitempty"`
	// RefCache is an htslib REF_CACHE directory made available to tasks
	RefCache string `json:"refCache,omitempty"`
}

func Default() Config {
	return Config{
		APIVersion:            KnownAPIVersion,
		Kind:                  KnownKind,
		ImageStorePath:        DefaultImageStorePath,
		DefaultRegistry:       reference.DefaultRegistry,
		SingularityExecutable: singularity.DefaultExecutable,
	}
}

func NewConfigFromFile(path string) (Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("Reading config '%s': %w", path, err)
	}

	return NewConfigFromBytes(bs)
}

// NewConfigFromBytes parses a config document. Unset fields keep their defaults.
func NewConfigFromBytes(bs []byte) (Config, error) {
	config := Default()

	err := yaml.UnmarshalStrict(bs, &config)
	if err != nil {
		return Config{}, fmt.Errorf("Unmarshaling config: %w", err)
	}

	err = config.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("Validating config: %w", err)
	}

	return config, nil
}

func (c Config) Validate() error {
	if c.APIVersion != KnownAPIVersion {
		return fmt.Errorf("Validating apiVersion: Unknown version (known: %s)", KnownAPIVersion)
	}
	if c.Kind != KnownKind {
		return fmt.Errorf("Validating kind: Unknown kind (known: %s)", KnownKind)
	}
	if len(c.ImageStorePath) == 0 {
		return fmt.Errorf("Validating imageStorePath: Expected to be non-empty")
	}
	if len(c.DefaultRegistry) == 0 {
		return fmt.Errorf("Validating defaultRegistry: Expected to be non-empty")
	}
	if len(c.SingularityExecutable) == 0 {
		return fmt.Errorf("Validating singularityExecutable: Expected to be non-empty")
	}
	return nil
}

// Load reads the config file at path. A missing file is only an error when
// the path was given explicitly.
func Load(path string, explicit bool) (Config, error) {
	expandedPath, err := homedir.Expand(path)
	if err != nil {
		return Config{}, fmt.Errorf("Expanding config path '%s': %w", path, err)
	}

	config, err := NewConfigFromFile(expandedPath)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, err
	}

	return config, nil
}

// WithEnv overrides fields with values of the FAKEDOCKER_* variables.
func (c Config) WithEnv(lookupEnv func(string) (string, bool)) (Config, error) {
	if val, found := lookupEnv(EnvImageStore); found && len(val) > 0 {
		c.ImageStorePath = val
	}
	if val, found := lookupEnv(EnvDefaultRegistry); found && len(val) > 0 {
		c.DefaultRegistry = val
	}
	if val, found := lookupEnv(EnvSingularityBinary); found && len(val) > 0 {
		c.SingularityExecutable = val
	}
	if val, found := lookupEnv(EnvRefCache); found {
		c.RefCache = val
	}
	if val, found := lookupEnv(EnvOffline); found && len(val) > 0 {
		offline, err := strconv.ParseBool(val)
		if err != nil {
			return Config{}, fmt.Errorf("Parsing %s: %w", EnvOffline, err)
		}
		c.Offline = offline
	}
	return c, nil
}

// Expanded returns c with '~' expanded in every path field.
func (c Config) Expanded() (Config, error) {
	for _, field := range []*string{&c.ImageStorePath, &c.RefCache} {
		expanded, err := homedir.Expand(*field)
		if err != nil {
			return Config{}, fmt.Errorf("Expanding path '%s': %w", *field, err)
		}
		*field = expanded
	}
	return c, nil
}
