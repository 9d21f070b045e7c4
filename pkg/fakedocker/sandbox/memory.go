// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"regexp"
	"strconv"
)

// DefaultMemoryLimitGB caps the memory requested for retried tasks.
const DefaultMemoryLimitGB = 500

var attemptRegexp = regexp.MustCompile(`/attempt-(\d+)`)

// Attempt returns the retry attempt encoded in a Cromwell task directory
// (".../attempt-N/..."), or 1 for the first attempt.
func Attempt(workdir string) int {
	match := attemptRegexp.FindStringSubmatch(workdir)
	if match == nil {
		return 1
	}
	attempt, err := strconv.Atoi(match[1])
	if err != nil {
		return 1
	}
	return attempt
}

// MemoryPerCoreMB scales the requested memory by the retry attempt of the
// task, caps it at limitGB and splits it over cores.
func MemoryPerCoreMB(workdir string, memoryGB float64, limitGB, cores int) (float64, error) {
	if cores <= 0 {
		return 0, fmt.Errorf("Expected number of cores to be positive, but was %d", cores)
	}

	required := float64(Attempt(workdir)) * memoryGB
	if required > float64(limitGB) {
		required = float64(limitGB)
	}

	return required / float64(cores) * 1024, nil
}
