// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk form of a resource list.
//
//	resources:
//	  - url: https://example.org/dataset.zip
//	    name: dataset.zip
//	    gate: true
//	  - url: https://example.org/extra.tar.gz
//	    name: extra.tar.gz
//	    subdir: extra
type Manifest struct {
	Resources []Resource `json:"resources" yaml:"resources"`
}

// LoadManifest reads a JSON or YAML manifest, chosen by file extension
// (.yaml/.yml are YAML, anything else is JSON), and validates it.
func LoadManifest(path string) ([]Resource, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("invalid YAML manifest: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("invalid JSON manifest: %w", err)
		}
	}

	if len(m.Resources) == 0 {
		return nil, fmt.Errorf("manifest %s lists no resources", path)
	}
	if err := validateAll(m.Resources); err != nil {
		return nil, err
	}
	return m.Resources, nil
}
