// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		want Format
	}{
		{"data.zip", FormatZip},
		{"DATA.ZIP", FormatZip},
		{"ts_dice.tar.gz", FormatTarGz},
		{"bundle.tgz", FormatTarGz},
		{"checkpoint.pth", FormatUnknown},
		{"archive.tar", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.name))
		})
	}
}

func TestExtract_TarGz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "model.tar.gz")
	writeFile(t, archive, tarGzBytes(t, map[string]string{
		"checkpoint/model.pth": "weights",
		"checkpoint/args.json": "{}",
	}))

	target := filepath.Join(dir, "out")
	got, err := NewExtractor().Extract(context.Background(), archive, target)
	require.NoError(t, err)

	assert.Equal(t, target, got.Dir)
	assert.ElementsMatch(t, []string{"checkpoint/model.pth", "checkpoint/args.json"}, got.Files)

	b, err := os.ReadFile(filepath.Join(target, "checkpoint", "model.pth"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(b))
	assert.True(t, exists(archive), "the extractor never removes the archive")
}

func TestExtract_Zip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "dataset.zip")
	writeFile(t, archive, zipBytes(t, map[string]string{
		"Dataset001/imagesTr/case_0000.nii.gz": "img",
		"Dataset001/dataset.json":              `{"name":"tumor"}`,
	}))

	got, err := NewExtractor().Extract(context.Background(), archive, dir)
	require.NoError(t, err)

	assert.Len(t, got.Files, 2)
	b, err := os.ReadFile(filepath.Join(dir, "Dataset001", "dataset.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"name":"tumor"}`, string(b))
}

func TestExtract_NotAnArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "not_an_archive.zip")
	writeFile(t, archive, []byte("this is certainly not a zip file"))

	target := filepath.Join(dir, "out")
	_, err := NewExtractor().Extract(context.Background(), archive, target)

	require.Error(t, err)
	assert.Equal(t, KindFormat, KindOf(err))
	assert.True(t, errors.Is(err, ErrCorruptArchive))
	assert.False(t, exists(target), "target must be untouched for a corrupt archive")
	assert.True(t, exists(archive))
}

func TestExtract_TruncatedTarGz(t *testing.T) {
	dir := t.TempDir()
	full := tarGzBytes(t, map[string]string{
		"a.bin": string(bytes.Repeat([]byte("a"), 8192)),
		"b.bin": string(bytes.Repeat([]byte("b"), 8192)),
	})
	archive := filepath.Join(dir, "broken.tar.gz")
	writeFile(t, archive, full[:len(full)/2])

	target := filepath.Join(dir, "out")
	_, err := NewExtractor().Extract(context.Background(), archive, target)

	require.Error(t, err)
	assert.Equal(t, KindFormat, KindOf(err))
	assert.False(t, exists(target))
}

func TestExtract_GzipOfGarbage(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "garbage.tgz")
	writeFile(t, archive, bytes.Repeat([]byte{0x42}, 600))

	_, err := NewExtractor().Extract(context.Background(), archive, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Equal(t, KindFormat, KindOf(err))
}

func TestExtract_Missing(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out")

	_, err := NewExtractor().Extract(context.Background(), filepath.Join(dir, "missing.tar.gz"), target)

	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, errors.Is(err, ErrArchiveNotFound))
	assert.False(t, errors.Is(err, ErrCorruptArchive))
	assert.False(t, exists(target))
}

func TestExtract_DirectoryIsNotAnArchive(t *testing.T) {
	dir := t.TempDir()
	_, err := NewExtractor().Extract(context.Background(), dir, filepath.Join(dir, "out"))
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestExtract_UnsupportedSuffix(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "weights.rar")
	writeFile(t, archive, []byte("Rar!"))

	_, err := NewExtractor().Extract(context.Background(), archive, dir)
	assert.Equal(t, KindFormat, KindOf(err))
}

func TestExtract_RejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../escaped.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("nope"))
	require.NoError(t, zw.Close())
	writeFile(t, archive, buf.Bytes())

	target := filepath.Join(dir, "out")
	_, err = NewExtractor().Extract(context.Background(), archive, target)

	require.Error(t, err)
	assert.Equal(t, KindFormat, KindOf(err))
	assert.False(t, exists(filepath.Join(dir, "escaped.txt")))
	assert.False(t, exists(target))
}

func TestExtract_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}

	dir := t.TempDir()
	archive := filepath.Join(dir, "model.tar.gz")
	writeFile(t, archive, tarGzBytes(t, map[string]string{"model.pth": "w"}))

	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.Mkdir(locked, 0o500))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	_, err := NewExtractor().Extract(context.Background(), archive, filepath.Join(locked, "out"))

	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))
	assert.True(t, errors.Is(err, ErrPermission))
}

type tarEntry struct {
	hdr  tar.Header
	body string
}

func tarGzEntries(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := e.hdr
		hdr.Size = int64(len(e.body))
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		require.NoError(t, tw.WriteHeader(&hdr))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtract_RejectsSymlinkChain(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "chain.tar.gz")
	writeFile(t, archive, tarGzEntries(t,
		tarEntry{hdr: tar.Header{Name: "a", Typeflag: tar.TypeSymlink, Linkname: "."}},
		tarEntry{hdr: tar.Header{Name: "a/b", Typeflag: tar.TypeSymlink, Linkname: ".."}},
		tarEntry{hdr: tar.Header{Name: "a/b/pwned.txt", Typeflag: tar.TypeReg}, body: "pwned"},
	))

	target := filepath.Join(dir, "out")
	_, err := NewExtractor().Extract(context.Background(), archive, target)

	require.Error(t, err)
	assert.Equal(t, KindFormat, KindOf(err))
	assert.False(t, exists(filepath.Join(dir, "pwned.txt")))
	assert.False(t, exists(target), "a rejected archive leaves the target untouched")
}

func TestExtract_RejectsHardLink(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "hard.tar.gz")
	writeFile(t, archive, tarGzEntries(t,
		tarEntry{hdr: tar.Header{Name: "model.pth", Typeflag: tar.TypeReg}, body: "w"},
		tarEntry{hdr: tar.Header{Name: "copy.pth", Typeflag: tar.TypeLink, Linkname: "model.pth"}},
	))

	target := filepath.Join(dir, "out")
	_, err := NewExtractor().Extract(context.Background(), archive, target)

	assert.Equal(t, KindFormat, KindOf(err))
	assert.False(t, exists(target))
}

func TestExtract_RejectsZipSymlink(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "link.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fh := &zip.FileHeader{Name: "model.pth", Method: zip.Store}
	fh.SetMode(fs.ModeSymlink | 0o777)
	w, err := zw.CreateHeader(fh)
	require.NoError(t, err)
	_, _ = w.Write([]byte("../../etc/passwd"))
	require.NoError(t, zw.Close())
	writeFile(t, archive, buf.Bytes())

	target := filepath.Join(dir, "out")
	_, err = NewExtractor().Extract(context.Background(), archive, target)

	assert.Equal(t, KindFormat, KindOf(err))
	assert.False(t, exists(target))
}

func TestExtract_ExistingLinkInTarget(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		outside := filepath.Join(dir, "outside")
		target := filepath.Join(dir, "out")
		require.NoError(t, os.MkdirAll(outside, 0o755))
		require.NoError(t, os.MkdirAll(target, 0o755))
		require.NoError(t, os.Symlink(outside, filepath.Join(target, "sub")))

		archive := filepath.Join(dir, "m.tar.gz")
		writeFile(t, archive, tarGzBytes(t, map[string]string{"sub/model.pth": "w"}))

		_, err := NewExtractor().Extract(context.Background(), archive, target)

		require.Error(t, err)
		assert.Equal(t, KindFormat, KindOf(err))
		assert.False(t, exists(filepath.Join(outside, "model.pth")))
	})

	t.Run("dangling", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "out")
		require.NoError(t, os.MkdirAll(target, 0o755))
		require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), filepath.Join(target, "sub")))

		archive := filepath.Join(dir, "m.tar.gz")
		writeFile(t, archive, tarGzBytes(t, map[string]string{"sub/deep/model.pth": "w"}))

		_, err := NewExtractor().Extract(context.Background(), archive, target)

		assert.Equal(t, KindFormat, KindOf(err))
		assert.False(t, exists(filepath.Join(dir, "gone")))
	})

	t.Run("file", func(t *testing.T) {
		dir := t.TempDir()
		victim := filepath.Join(dir, "victim.txt")
		target := filepath.Join(dir, "out")
		writeFile(t, victim, []byte("keep"))
		require.NoError(t, os.MkdirAll(target, 0o755))
		require.NoError(t, os.Symlink(victim, filepath.Join(target, "model.pth")))

		archive := filepath.Join(dir, "m.zip")
		writeFile(t, archive, zipBytes(t, map[string]string{"model.pth": "weights"}))

		_, err := NewExtractor().Extract(context.Background(), archive, target)
		require.NoError(t, err)

		b, err := os.ReadFile(victim)
		require.NoError(t, err)
		assert.Equal(t, "keep", string(b))

		fi, err := os.Lstat(filepath.Join(target, "model.pth"))
		require.NoError(t, err)
		assert.True(t, fi.Mode().IsRegular(), "the link is replaced by the extracted file")
	})
}
