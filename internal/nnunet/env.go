// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package nnunet prepares the nnU-Net directory environment and runs the
// fingerprint, planning and preprocessing steps for a dataset.
package nnunet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tumornetsolvers/tnsfetch/internal/logctx"
	"github.com/tumornetsolvers/tnsfetch/pkg/fetch"
)

// Environment variable names read by nnU-Net.
const (
	EnvRaw          = "nnUNet_raw"
	EnvPreprocessed = "nnUNet_preprocessed"
	EnvResults      = "nnUNet_results"
)

// Dirs are the three nnU-Net data directories.
type Dirs struct {
	Raw          string `json:"raw" yaml:"raw"`
	Preprocessed string `json:"preprocessed" yaml:"preprocessed"`
	Results      string `json:"results" yaml:"results"`
}

// DirsFor lays the nnU-Net directories out below mountDir.
func DirsFor(mountDir string) (Dirs, error) {
	if mountDir == "" {
		return Dirs{}, fmt.Errorf("mount directory is empty")
	}
	abs, err := filepath.Abs(mountDir)
	if err != nil {
		return Dirs{}, fmt.Errorf("resolve mount %q: %w", mountDir, err)
	}
	return Dirs{
		Raw:          filepath.Join(abs, "raw_data"),
		Preprocessed: filepath.Join(abs, "preprocessed_data"),
		Results:      filepath.Join(abs, "results"),
	}, nil
}

// Env returns the variables as name/value pairs in a stable order.
func (d Dirs) Env() [][2]string {
	return [][2]string{
		{EnvRaw, d.Raw},
		{EnvPreprocessed, d.Preprocessed},
		{EnvResults, d.Results},
	}
}

// Environ returns d in os/exec "KEY=value" form.
func (d Dirs) Environ() []string {
	out := make([]string, 0, 3)
	for _, kv := range d.Env() {
		out = append(out, kv[0]+"="+kv[1])
	}
	return out
}

// Setup creates the directories and exports them in the process environment.
func Setup(ctx context.Context, d Dirs) error {
	logger := logctx.LoggerFromContext(ctx)
	for _, kv := range d.Env() {
		if err := fetch.EnsureDir(kv[1]); err != nil {
			logger.Error("error creating directory", "dir", kv[1], "err", err)
			return err
		}
		if err := os.Setenv(kv[0], kv[1]); err != nil {
			return fmt.Errorf("set %s: %w", kv[0], err)
		}
		logger.Debug("environment variable set", "name", kv[0], "value", kv[1])
	}
	logger.Info("environment variables set successfully")
	return nil
}
