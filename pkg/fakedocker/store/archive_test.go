// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package store_test

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"

	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/reference"
	"github.com/cromwell-helper/fakedocker/pkg/fakedocker/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	typeflag byte
	linkname string
	content  string
}

func readTar(t *testing.T, data []byte) map[string]tarEntry {
	entries := map[string]tarEntry{}
	reader := tar.NewReader(bytes.NewReader(data))
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		content, err := io.ReadAll(reader)
		require.NoError(t, err)

		entries[header.Name] = tarEntry{typeflag: header.Typeflag, linkname: header.Linkname, content: string(content)}
	}
	return entries
}

func TestArchive(t *testing.T) {
	s := newTestStore(t, store.Opts{})
	populateListFixture(t, s)

	imported, err := s.Import(mustParse(t, "mytools:1.0"), writeImageFile(t, "tools"))
	require.NoError(t, err)

	busyboxDigest := "busybox@sha256:edafc0a0fb057813850d1ba44014914ca02d671ae247107ca70c94db686e7de6"

	var buf bytes.Buffer
	err = s.Archive([]reference.Reference{
		mustParse(t, "busybox:1.31"),
		mustParse(t, "busybox:latest"),
		mustParse(t, "mytools:1.0"),
	}, &buf)
	require.NoError(t, err)

	entries := readTar(t, buf.Bytes())

	assert.Equal(t, tarEntry{
		typeflag: tar.TypeSymlink,
		linkname: "../sha256/" + busyboxDigest + ".sif",
	}, entries[".cromwell/singularity/tag/busybox:1.31.sif"])

	assert.Equal(t, byte(tar.TypeSymlink), entries[".cromwell/singularity/tag/busybox:latest.sif"].typeflag)

	assert.Equal(t, tarEntry{
		typeflag: tar.TypeReg,
		content:  busyboxDigest,
	}, entries[".cromwell/singularity/sha256/"+busyboxDigest+".sif"])

	importedName := ".cromwell/singularity/sha256/" + imported.String() + ".sif"
	assert.Equal(t, "tools", entries[importedName].content)
	assert.Equal(t, store.WarnMarker+"\n", entries[importedName+".warn"].content)

	assert.Len(t, entries, 6)
}

func TestArchiveMissingImage(t *testing.T) {
	s := newTestStore(t, store.Opts{})

	var buf bytes.Buffer
	err := s.Archive([]reference.Reference{mustParse(t, "busybox:1.31")}, &buf)
	require.ErrorIs(t, err, store.ErrNotFound)
}
