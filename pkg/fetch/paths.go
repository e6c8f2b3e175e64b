// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"fmt"
	"os"
	"path/filepath"
)

const dirPerm = 0o755

// Layout holds the absolute directories a pipeline works in.
type Layout struct {
	// Root is the directory relative paths are resolved against.
	Root string
	// Staging holds downloaded archives until they are extracted and removed.
	Staging string
}

// NewLayout resolves root to an absolute path and staging against root.
// Nothing is created on disk; call EnsureDir or let Pipeline.Run do it.
func NewLayout(root, staging string) (Layout, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve root %q: %w", root, err)
	}
	if staging == "" {
		staging = "final_models"
	}
	if !filepath.IsAbs(staging) {
		staging = filepath.Join(absRoot, staging)
	}
	return Layout{Root: absRoot, Staging: filepath.Clean(staging)}, nil
}

// ExecutableRoot returns the parent of the directory holding the running
// binary, mirroring a repository layout where tools live one level below the
// repository root (for example <repo>/bin/tnsfetch).
func ExecutableRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(filepath.Dir(exe)), nil
}

// ArchivePath is the Download Target of r.
func (l Layout) ArchivePath(r Resource) string {
	return filepath.Join(l.Staging, r.Name)
}

// ExtractDir is where r's archive is expanded.
func (l Layout) ExtractDir(r Resource) string {
	if r.Subdir == "" {
		return l.Staging
	}
	return filepath.Join(l.Staging, r.Subdir)
}

// MarkerPath is the completion marker written after r has been extracted.
func (l Layout) MarkerPath(r Resource) string {
	return filepath.Join(l.ExtractDir(r), "."+r.Name+".complete")
}

// Validate checks that r can be placed inside the layout.
func (r Resource) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("%w: missing url for %q", ErrInvalidResource, r.Name)
	}
	if r.Name == "" || r.Name != filepath.Base(r.Name) || r.Name == "." || r.Name == ".." {
		return fmt.Errorf("%w: name %q must be a plain file name", ErrInvalidResource, r.Name)
	}
	if r.Subdir != "" && !filepath.IsLocal(r.Subdir) {
		return fmt.Errorf("%w: subdir %q escapes the staging directory", ErrInvalidResource, r.Subdir)
	}
	return nil
}

// EnsureDir creates dir and its parents. Existing directories are not an error.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &Error{Kind: ioKind(err), Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}
