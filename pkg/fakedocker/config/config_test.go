// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/config"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		val, found := env[key]
		return val, found
	}
}

func TestNewConfigFromBytes(t *testing.T) {
	cases := []struct {
		name        string
		input       string
		expected    config.Config
		expectedErr string
	}{
		{
			name: "defaults are kept",
			input: `
apiVersion: fakedocker.cromwell-helper.io/v1alpha1
kind: Config
`,
			expected: config.Default(),
		},
		{
			name: "all fields",
			input: `
apiVersion: fakedocker.cromwell-helper.io/v1alpha1
kind: Config
imageStorePath: /shared/singularity
defaultRegistry: mirror.example.com
singularityExecutable: /opt/singularity/bin/singularity
offline: true
refCache: /share1/public/hts-ref
`,
			expected: config.Config{
				APIVersion:            config.KnownAPIVersion,
				Kind:                  config.KnownKind,
				ImageStorePath:        "/shared/singularity",
				DefaultRegistry:       "mirror.example.com",
				SingularityExecutable: "/opt/singularity/bin/singularity",
				Offline:               true,
				RefCache:              "/share1/public/hts-ref",
			},
		},
		{
			name: "unknown api version",
			input: `
apiVersion: fakedocker.cromwell-helper.io/v2
kind: Config
`,
			expectedErr: "Validating apiVersion: Unknown version",
		},
		{
			name: "unknown kind",
			input: `
apiVersion: fakedocker.cromwell-helper.io/v1alpha1
kind: Other
`,
			expectedErr: "Validating kind: Unknown kind",
		},
		{
			name: "unknown field",
			input: `
apiVersion: fakedocker.cromwell-helper.io/v1alpha1
kind: Config
imageStore: /typo
`,
			expectedErr: "Unmarshaling config",
		},
		{
			name: "empty store path",
			input: `
apiVersion: fakedocker.cromwell-helper.io/v1alpha1
kind: Config
imageStorePath: ""
`,
			expectedErr: "Validating imageStorePath",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.NewConfigFromBytes([]byte(tc.input))
			if len(tc.expectedErr) > 0 {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, cfg)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing default file", func(t *testing.T) {
		cfg, err := config.Load(filepath.Join(dir, "missing.yml"), false)
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(dir, "missing.yml"), true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Reading config")
	})

	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(dir, "fakedocker.yml")
		require.NoError(t, os.WriteFile(path, []byte("apiVersion: fakedocker.cromwell-helper.io/v1alpha1\nkind: Config\noffline: true\n"), 0600))

		cfg, err := config.Load(path, false)
		require.NoError(t, err)
		assert.True(t, cfg.Offline)
	})
}

func TestWithEnv(t *testing.T) {
	cfg, err := config.Default().WithEnv(lookupFrom(map[string]string{
		config.EnvImageStore:        "/env/store",
		config.EnvDefaultRegistry:   "env.example.com",
		config.EnvSingularityBinary: "/env/singularity",
		config.EnvOffline:           "true",
		config.EnvRefCache:          "/env/ref",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/env/store", cfg.ImageStorePath)
	assert.Equal(t, "env.example.com", cfg.DefaultRegistry)
	assert.Equal(t, "/env/singularity", cfg.SingularityExecutable)
	assert.True(t, cfg.Offline)
	assert.Equal(t, "/env/ref", cfg.RefCache)

	cfg, err = config.Default().WithEnv(lookupFrom(map[string]string{config.EnvImageStore: ""}))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultImageStorePath, cfg.ImageStorePath)

	_, err = config.Default().WithEnv(lookupFrom(map[string]string{config.EnvOffline: "sometimes"}))
	require.Error(t, err)
}

func TestExpanded(t *testing.T) {
	home, err := homedir.Dir()
	require.NoError(t, err)

	cfg, err := config.Default().Expanded()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cromwell", "singularity"), cfg.ImageStorePath)
	assert.Equal(t, "", cfg.RefCache)
}
