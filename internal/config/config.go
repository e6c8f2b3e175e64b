// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package config loads tnsfetch settings from the environment and a dotenv file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/tumornetsolvers/tnsfetch/internal/logctx"
	"github.com/tumornetsolvers/tnsfetch/pkg/fetch"
)

// DefaultEnvFile is read from the working directory when no file is named.
const DefaultEnvFile = ".env"

// Project holds the settings shared with the training code.
type Project struct {
	MountDir  string `envconfig:"PAMOUNT_DIR" yaml:"pamount_dir"`
	DatasetID int    `envconfig:"DATASET_ID" yaml:"dataset_id"`
	BaseDir   string `envconfig:"BASE_DIR" yaml:"base_dir"`
}

// Validate fails with the names of every missing setting.
func (p Project) Validate() error {
	var missing []string
	if p.MountDir == "" {
		missing = append(missing, "PAMOUNT_DIR")
	}
	if p.DatasetID <= 0 {
		missing = append(missing, "DATASET_ID")
	}
	if p.BaseDir == "" {
		missing = append(missing, "BASE_DIR")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required key %s missing value", strings.Join(missing, ", "))
	}
	return nil
}

// Fetch holds the transfer settings used by the models and dataset commands.
type Fetch struct {
	DownloadDir string        `envconfig:"DOWNLOAD_DIR" default:"./final_models" yaml:"download_dir"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"60s" yaml:"http_timeout"`
	ChunkSize   int           `envconfig:"CHUNK_SIZE" default:"1024" yaml:"chunk_size"`
	HFEndpoint  string        `envconfig:"HF_ENDPOINT" yaml:"hf_endpoint"`
	HFToken     string        `envconfig:"HF_TOKEN" yaml:"hf_token"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"INFO" yaml:"log_level"`
	// Root is BASE_DIR when set. It is optional here.
	Root string `envconfig:"BASE_DIR" yaml:"-"`
}

// Settings converts f into transfer settings.
func (f Fetch) Settings() fetch.Settings {
	s := fetch.DefaultSettings()
	if f.HTTPTimeout > 0 {
		s.Timeout = f.HTTPTimeout
	}
	if f.ChunkSize > 0 {
		s.ChunkSize = f.ChunkSize
	}
	s.Token = f.HFToken
	return s
}

// SlogLevel maps LogLevel to a slog.Level. Unknown names fall back to info.
func (f Fetch) SlogLevel() slog.Level {
	level, err := logctx.ParseLevel(f.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// NNUNet configures the preprocessing commands.
type NNUNet struct {
	FingerprintCmd       string `envconfig:"NNUNET_FINGERPRINT_CMD" default:"nnUNetv2_extract_fingerprint" yaml:"fingerprint_cmd"`
	PlanCmd              string `envconfig:"NNUNET_PLAN_CMD" default:"nnUNetv2_plan_experiment" yaml:"plan_cmd"`
	PreprocessCmd        string `envconfig:"NNUNET_PREPROCESS_CMD" default:"nnUNetv2_preprocess" yaml:"preprocess_cmd"`
	FingerprintProcesses int    `envconfig:"NNUNET_FINGERPRINT_PROCESSES" default:"8" yaml:"fingerprint_processes"`
	PreprocessProcesses  []int  `envconfig:"NNUNET_PREPROCESS_PROCESSES" default:"8,4,8" yaml:"preprocess_processes"`
	VerifyIntegrity      bool   `envconfig:"NNUNET_VERIFY_INTEGRITY" default:"false" yaml:"verify_integrity"`
}

// Validate checks the process counts.
func (n NNUNet) Validate() error {
	if n.FingerprintProcesses <= 0 {
		return fmt.Errorf("NNUNET_FINGERPRINT_PROCESSES must be positive, got %d", n.FingerprintProcesses)
	}
	if len(n.PreprocessProcesses) != 3 {
		return fmt.Errorf("NNUNET_PREPROCESS_PROCESSES needs three values (2d, 3d_fullres, 3d_lowres), got %v", n.PreprocessProcesses)
	}
	for _, p := range n.PreprocessProcesses {
		if p <= 0 {
			return fmt.Errorf("NNUNET_PREPROCESS_PROCESSES must be positive, got %v", n.PreprocessProcesses)
		}
	}
	return nil
}

// Config is the complete configuration.
type Config struct {
	Project `yaml:",inline"`
	Fetch   `yaml:",inline"`
	NNUNet  `yaml:"nnunet"`
}

// LoadDotenv reads path into the process environment without overriding
// variables that are already set. An empty path means DefaultEnvFile, which
// may be absent; a named file must exist.
func LoadDotenv(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error loading env file %s: %w", path, err)
}

// EnvFilePath returns the absolute path of the dotenv file that would be read.
func EnvFilePath(path string) (string, error) {
	if path == "" {
		path = DefaultEnvFile
	}
	return filepath.Abs(path)
}

// LoadFetch reads the transfer settings. Nothing is required.
func LoadFetch(envFile string) (*Fetch, error) {
	if err := LoadDotenv(envFile); err != nil {
		return nil, err
	}
	var f Fetch
	if err := envconfig.Process("", &f); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}
	return &f, nil
}

// Inspect reads every setting without enforcing required ones.
func Inspect(envFile string) (*Config, error) {
	if err := LoadDotenv(envFile); err != nil {
		return nil, err
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}
	return &cfg, nil
}

// Load reads every setting and fails fast when a required one is missing.
func Load(envFile string) (*Config, error) {
	cfg, err := Inspect(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Project.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.NNUNet.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Masked returns a copy of c safe to print.
func (c Config) Masked() Config {
	if c.HFToken != "" {
		c.HFToken = maskToken(c.HFToken)
	}
	return c
}

func maskToken(tok string) string {
	if len(tok) <= 8 {
		return "****"
	}
	return tok[:4] + "****" + tok[len(tok)-4:]
}

// Template is the dotenv file written by "config init".
const Template = `# tnsfetch configuration
# Values already present in the environment take precedence.

# Required by env and preprocess
PAMOUNT_DIR=/mnt/tumornetsolvers
DATASET_ID=1
BASE_DIR=.

# Transfers
DOWNLOAD_DIR=./final_models
HTTP_TIMEOUT=60s
CHUNK_SIZE=1024
HF_ENDPOINT=
HF_TOKEN=
LOG_LEVEL=INFO

# nnU-Net preprocessing
NNUNET_FINGERPRINT_CMD=nnUNetv2_extract_fingerprint
NNUNET_PLAN_CMD=nnUNetv2_plan_experiment
NNUNET_PREPROCESS_CMD=nnUNetv2_preprocess
NNUNET_FINGERPRINT_PROCESSES=8
NNUNET_PREPROCESS_PROCESSES=8,4,8
NNUNET_VERIFY_INTEGRITY=false
`

// WriteTemplate writes Template to path. An existing file is kept unless force is set.
func WriteTemplate(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Template), 0o600); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}
	return nil
}
