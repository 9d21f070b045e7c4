// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package store

import (
	"os"

	"golang.org/x/sys/unix"
)

func lockFile(path string) (func() error, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}

	fd := int(file.Fd())

	err = unix.Flock(fd, unix.LOCK_EX)
	if err != nil {
		file.Close()
		return nil, err
	}

	return func() error {
		defer file.Close()
		return unix.Flock(fd, unix.LOCK_UN)
	}, nil
}
