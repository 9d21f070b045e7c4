// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package store

func SetRenameFunc(s *Store, renameFunc func(oldPath, newPath string) error) {
	s.renameFunc = renameFunc
}
