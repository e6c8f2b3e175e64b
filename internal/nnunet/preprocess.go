// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package nnunet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tumornetsolvers/tnsfetch/internal/logctx"
)

// Collaborator performs the nnU-Net experiment planning steps for a dataset.
type Collaborator interface {
	ExtractFingerprint(ctx context.Context, datasetID, processes int, verbose bool) error
	PlanExperiment(ctx context.Context, datasetID int) error
	// Preprocess runs with one process count per configuration (2d, 3d_fullres, 3d_lowres).
	Preprocess(ctx context.Context, datasetID int, processes [3]int) error
}

// Options configures Run.
type Options struct {
	DatasetID            int
	FingerprintProcesses int
	PreprocessProcesses  [3]int
	Verbose              bool
}

// DefaultOptions returns the process counts used by the project.
func DefaultOptions(datasetID int) Options {
	return Options{
		DatasetID:            datasetID,
		FingerprintProcesses: 8,
		PreprocessProcesses:  [3]int{8, 4, 8},
		Verbose:              true,
	}
}

// StepError reports which step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Run extracts the fingerprint, plans the experiment and preprocesses the
// dataset, in that order. The first failing step stops the run.
func Run(ctx context.Context, c Collaborator, opts Options) error {
	logger := logctx.LoggerFromContext(ctx).With("dataset_id", opts.DatasetID)
	if opts.DatasetID <= 0 {
		return fmt.Errorf("invalid dataset id %d", opts.DatasetID)
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"fingerprint", func() error {
			return c.ExtractFingerprint(ctx, opts.DatasetID, opts.FingerprintProcesses, opts.Verbose)
		}},
		{"plan", func() error { return c.PlanExperiment(ctx, opts.DatasetID) }},
		{"preprocess", func() error { return c.Preprocess(ctx, opts.DatasetID, opts.PreprocessProcesses) }},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: s.name, Err: err}
		}
		start := time.Now()
		logger.Info("starting step", "step", s.name)
		if err := s.run(); err != nil {
			logger.Error("step failed", "step", s.name, "err", err)
			return &StepError{Step: s.name, Err: err}
		}
		logger.Info("step finished", "step", s.name, "elapsed", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// CommandRunner implements Collaborator by running the nnU-Net command line tools.
type CommandRunner struct {
	FingerprintCmd string
	PlanCmd        string
	PreprocessCmd  string

	// VerifyIntegrity adds --verify_dataset_integrity to the fingerprint step.
	VerifyIntegrity bool

	// Env is appended to the process environment of every command.
	Env []string

	Stdout io.Writer
	Stderr io.Writer
}

// ExtractFingerprint runs "<cmd> -d ID -np N [--verify_dataset_integrity] [--verbose]".
func (r *CommandRunner) ExtractFingerprint(ctx context.Context, datasetID, processes int, verbose bool) error {
	args := []string{"-d", strconv.Itoa(datasetID), "-np", strconv.Itoa(processes)}
	if r.VerifyIntegrity {
		args = append(args, "--verify_dataset_integrity")
	}
	if verbose {
		args = append(args, "--verbose")
	}
	return r.run(ctx, r.FingerprintCmd, args)
}

// PlanExperiment runs "<cmd> -d ID".
func (r *CommandRunner) PlanExperiment(ctx context.Context, datasetID int) error {
	return r.run(ctx, r.PlanCmd, []string{"-d", strconv.Itoa(datasetID)})
}

// Preprocess runs "<cmd> -d ID -c 2d 3d_fullres 3d_lowres -np A B C".
func (r *CommandRunner) Preprocess(ctx context.Context, datasetID int, processes [3]int) error {
	args := []string{"-d", strconv.Itoa(datasetID), "-c", "2d", "3d_fullres", "3d_lowres", "-np"}
	for _, p := range processes {
		args = append(args, strconv.Itoa(p))
	}
	return r.run(ctx, r.PreprocessCmd, args)
}

func (r *CommandRunner) run(ctx context.Context, command string, args []string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return errors.New("no command configured")
	}
	argv := append(fields[1:len(fields):len(fields)], args...)

	logctx.LoggerFromContext(ctx).Debug("running command", "cmd", fields[0], "args", argv)

	cmd := exec.CommandContext(ctx, fields[0], argv...)
	cmd.Env = append(os.Environ(), r.Env...)
	var tail bytes.Buffer
	cmd.Stdout = orDiscard(r.Stdout)
	cmd.Stderr = io.MultiWriter(orDiscard(r.Stderr), &tail)

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(lastLines(tail.String(), 5))
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", fields[0], err, msg)
		}
		return fmt.Errorf("%s: %w", fields[0], err)
	}
	return nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
