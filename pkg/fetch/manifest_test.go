// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifest_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resources.yaml")
	writeFile(t, path, []byte(`resources:
  - url: https://example.org/dataset.zip
    name: dataset.zip
    gate: true
  - url: https://example.org/extra.tar.gz
    name: extra.tar.gz
    subdir: extra
`))

	got, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []Resource{
		{URL: "https://example.org/dataset.zip", Name: "dataset.zip", Gate: true},
		{URL: "https://example.org/extra.tar.gz", Name: "extra.tar.gz", Subdir: "extra"},
	}, got)
}

func TestLoadManifest_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resources.json")
	writeFile(t, path, []byte(`{"resources":[{"url":"https://example.org/a.tgz","name":"a.tgz"}]}`))

	got, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.tgz", got[0].Name)
}

func TestLoadManifest_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"empty list", "empty.yaml", "resources: []\n"},
		{"bad yaml", "bad.yml", "resources: [\n"},
		{"bad json", "bad.json", "{"},
		{"invalid resource", "invalid.json", `{"resources":[{"name":"a.zip"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, []byte(tt.content))
			_, err := LoadManifest(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadManifest(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}
