// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Marker records a resource that was downloaded and extracted completely.
type Marker struct {
	URL         string    `json:"url"`
	Name        string    `json:"name"`
	Files       []string  `json:"files"`
	CompletedAt time.Time `json:"completed_at"`
}

// readMarker loads the marker at path. A missing marker returns (nil, nil).
func readMarker(path string) (*Marker, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Marker
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// complete reports whether m still describes r's extracted output in dir.
func (m *Marker) complete(r Resource, dir string) bool {
	if m == nil || m.URL != r.URL || m.Name != r.Name {
		return false
	}
	for _, f := range m.Files {
		if _, err := os.Lstat(filepath.Join(dir, filepath.FromSlash(f))); err != nil {
			return false
		}
	}
	return true
}

// writeMarker writes m to path through a synced temporary file and a rename,
// so readers never observe a partially written marker.
func writeMarker(path string, m Marker) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return &Error{Kind: ioKind(err), Op: "marker", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		return &Error{Kind: ioKind(err), Op: "marker", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &Error{Kind: KindIO, Op: "marker", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &Error{Kind: KindIO, Op: "marker", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &Error{Kind: ioKind(err), Op: "marker", Path: path, Err: err}
	}
	committed = true
	return nil
}
