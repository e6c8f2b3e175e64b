// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tumornetsolvers/tnsfetch/internal/logctx"
)

// Format is an archive format understood by Extractor.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTarGz
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTarGz:
		return "tar.gz"
	default:
		return "unknown"
	}
}

// DetectFormat picks the archive format from a file name suffix.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	default:
		return FormatUnknown
	}
}

// Extraction describes an archive that was expanded successfully.
type Extraction struct {
	// Dir is the directory the archive was expanded into.
	Dir string `json:"dir"`
	// Files lists the extracted files relative to Dir, in archive order.
	Files []string `json:"files"`
}

// Extractor expands zip and tar.gz archives.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract expands archive into target, creating target if needed.
//
// The archive is validated in full before target is touched, so a missing or
// corrupt archive leaves target as it was. Extract never deletes the archive.
func (x *Extractor) Extract(ctx context.Context, archive, target string) (Extraction, error) {
	logger := logctx.LoggerFromContext(ctx)

	fi, err := os.Stat(archive)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !fi.Mode().IsRegular()) {
		return Extraction{}, &Error{Kind: KindNotFound, Op: "extract", Path: archive, Err: fmt.Errorf("file not found at %q", archive)}
	}
	if err != nil {
		return Extraction{}, &Error{Kind: ioKind(err), Op: "extract", Path: archive, Err: err}
	}

	logger.Info("attempting to extract", "archive", filepath.Base(archive), "target", target)

	var files []string
	switch format := DetectFormat(archive); format {
	case FormatZip:
		files, err = extractZip(archive, target)
	case FormatTarGz:
		files, err = extractTarGz(ctx, archive, target)
	default:
		err = &Error{Kind: KindFormat, Op: "extract", Path: archive, Err: errors.New("unsupported archive type")}
	}
	if err != nil {
		logger.Error("extraction failed", "archive", archive, "kind", KindOf(err).String(), "err", err)
		return Extraction{}, err
	}

	logger.Info("successfully extracted", "archive", filepath.Base(archive), "target", target, "files", len(files))
	return Extraction{Dir: target, Files: files}, nil
}

func extractZip(archive, target string) ([]string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, formatErr(archive, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if _, err := safeJoin(target, f.Name); err != nil {
			return nil, formatErr(archive, err)
		}
		if f.Mode()&fs.ModeSymlink != 0 {
			return nil, formatErr(archive, fmt.Errorf("links are not supported: %s", f.Name))
		}
	}

	root, err := makeRoot(target)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, f := range zr.File {
		dest, _ := safeJoin(target, f.Name)
		if f.FileInfo().IsDir() {
			if err := root.mkdir(archive, dest); err != nil {
				return files, err
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return files, formatErr(archive, fmt.Errorf("open %s: %w", f.Name, err))
		}
		err = root.writeEntry(archive, dest, f.Mode(), rc)
		rc.Close()
		if err != nil {
			return files, err
		}
		files = append(files, filepath.ToSlash(f.Name))
	}
	return files, nil
}

// validateTarGz reads the whole archive once so that gzip and tar framing
// errors surface before anything is written.
func validateTarGz(archive, target string) error {
	f, err := os.Open(archive)
	if err != nil {
		return &Error{Kind: ioKind(err), Op: "extract", Path: archive, Err: err}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return formatErr(archive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return formatErr(archive, err)
		}
		if _, err := safeJoin(target, hdr.Name); err != nil {
			return formatErr(archive, err)
		}
		switch hdr.Typeflag {
		case tar.TypeSymlink, tar.TypeLink, tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
			return formatErr(archive, fmt.Errorf("unsupported entry type %q: %s", string(hdr.Typeflag), hdr.Name))
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return formatErr(archive, err)
		}
	}
}

func extractTarGz(ctx context.Context, archive, target string) ([]string, error) {
	if err := validateTarGz(archive, target); err != nil {
		return nil, err
	}
	root, err := makeRoot(target)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(archive)
	if err != nil {
		return nil, &Error{Kind: ioKind(err), Op: "extract", Path: archive, Err: err}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, formatErr(archive, err)
	}
	defer gz.Close()

	logger := logctx.LoggerFromContext(ctx)

	var files []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, formatErr(archive, err)
		}

		dest, err := safeJoin(target, hdr.Name)
		if err != nil {
			return files, formatErr(archive, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := root.mkdir(archive, dest); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := root.writeEntry(archive, dest, hdr.FileInfo().Mode(), tr); err != nil {
				return files, err
			}
			files = append(files, filepath.ToSlash(filepath.Clean(hdr.Name)))
		default:
			// Metadata entries such as pax global headers carry no file.
			logger.Warn("skipping tar entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		}
	}
}

// extractRoot is the resolved extraction target. Every directory and file is
// created below its real path, so links already present on disk cannot
// redirect a write outside of it.
type extractRoot struct {
	real string
}

func makeRoot(target string) (extractRoot, error) {
	if err := EnsureDir(target); err != nil {
		return extractRoot{}, err
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return extractRoot{}, &Error{Kind: ioKind(err), Op: "extract", Path: target, Err: err}
	}
	return extractRoot{real: filepath.Clean(resolved)}, nil
}

// confine fails when dir, or its nearest existing ancestor, resolves outside
// the root. A dangling link on the way counts as outside.
func (x extractRoot) confine(archive, dir string) error {
	for p := dir; ; {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			if !within(x.real, resolved) {
				return formatErr(archive, fmt.Errorf("%s resolves outside the target", dir))
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return &Error{Kind: ioKind(err), Op: "extract", Path: p, Err: err}
		}
		if _, lerr := os.Lstat(p); lerr == nil {
			return formatErr(archive, fmt.Errorf("%s resolves outside the target", dir))
		}
		parent := filepath.Dir(p)
		if parent == p {
			return nil
		}
		p = parent
	}
}

func (x extractRoot) mkdir(archive, dir string) error {
	if err := x.confine(archive, dir); err != nil {
		return err
	}
	return EnsureDir(dir)
}

// writeEntry copies one archive entry to dest. Read failures are format
// errors, write failures are local I/O or permission errors.
func (x extractRoot) writeEntry(archive, dest string, mode os.FileMode, r io.Reader) error {
	if err := x.mkdir(archive, filepath.Dir(dest)); err != nil {
		return err
	}
	if fi, err := os.Lstat(dest); err == nil && !fi.Mode().IsRegular() {
		if err := os.Remove(dest); err != nil {
			return &Error{Kind: ioKind(err), Op: "extract", Path: dest, Err: err}
		}
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()|0o600)
	if err != nil {
		return &Error{Kind: ioKind(err), Op: "extract", Path: dest, Err: err}
	}

	src := &trackingReader{r: r}
	_, cerr := io.Copy(out, src)
	if err := out.Close(); cerr == nil && err != nil {
		cerr = err
	}
	if cerr == nil {
		return nil
	}
	if src.err != nil {
		return formatErr(archive, cerr)
	}
	return &Error{Kind: ioKind(cerr), Op: "extract", Path: dest, Err: cerr}
}

// trackingReader remembers read errors so writeEntry can tell them apart from
// write errors returned by io.Copy.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

func formatErr(archive string, err error) error {
	return &Error{Kind: KindFormat, Op: "extract", Path: archive, Err: err}
}

// safeJoin joins name under root and rejects entries that escape it.
func safeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("invalid file path detected: %s", name)
	}
	dest := filepath.Join(root, filepath.FromSlash(name))
	if !within(filepath.Clean(root), dest) {
		return "", fmt.Errorf("invalid file path detected: file=%s, dest=%s", name, dest)
	}
	return dest, nil
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}
