// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package sandbox_test

import (
	"testing"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttempt(t *testing.T) {
	assert.Equal(t, 1, sandbox.Attempt("/work/cromwell-executions/wf/1/call-a/execution"))
	assert.Equal(t, 3, sandbox.Attempt("/work/cromwell-executions/wf/1/call-a/attempt-3/execution"))
	assert.Equal(t, 12, sandbox.Attempt("/work/cromwell-executions/wf/1/call-a/shard-0/attempt-12"))
}

func TestMemoryPerCoreMB(t *testing.T) {
	tests := []struct {
		name     string
		workdir  string
		memory   float64
		limit    int
		cores    int
		expected float64
	}{
		{name: "first attempt", workdir: "/x/call-a/execution", memory: 8, limit: 500, cores: 4, expected: 2048},
		{name: "retry scales memory", workdir: "/x/call-a/attempt-2/execution", memory: 8, limit: 500, cores: 4, expected: 4096},
		{name: "limit caps memory", workdir: "/x/call-a/attempt-3/execution", memory: 8, limit: 16, cores: 2, expected: 8192},
		{name: "fractional memory", workdir: "/x", memory: 1.5, limit: 500, cores: 3, expected: 512},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem, err := sandbox.MemoryPerCoreMB(tc.workdir, tc.memory, tc.limit, tc.cores)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, mem)
		})
	}

	_, err := sandbox.MemoryPerCoreMB("/x", 8, 500, 0)
	require.Error(t, err)
}
