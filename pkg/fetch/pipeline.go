// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tumornetsolvers/tnsfetch/internal/logctx"
)

// ErrAborted is wrapped by outcomes of resources that were not attempted
// because an earlier gate resource failed or the context was canceled.
var ErrAborted = errors.New("aborted")

// Status is the result of processing one resource.
type Status string

const (
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	StatusAborted Status = "aborted"
)

// Outcome is the result for one resource.
type Outcome struct {
	Resource Resource `json:"resource"`
	Status   Status   `json:"status"`
	// Dir is the extraction directory.
	Dir string `json:"dir"`
	// Files lists the extracted files for StatusDone outcomes.
	Files []string `json:"files,omitempty"`
	Err   error    `json:"-"`
}

// Report aggregates one Outcome per resource, in input order.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

// OK reports whether no resource failed or was aborted.
func (r Report) OK() bool {
	return r.Count(StatusFailed) == 0 && r.Count(StatusAborted) == 0
}

// Count returns how many outcomes have status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Planned describes what Run would do for a resource.
type Planned struct {
	Resource Resource `json:"resource"`
	Archive  string   `json:"archive"`
	Dir      string   `json:"dir"`
	Complete bool     `json:"complete"`
}

// Pipeline downloads and extracts resources one after another.
type Pipeline struct {
	layout    Layout
	fetcher   *Fetcher
	extractor *Extractor
	force     bool

	// remove deletes an archive once it has been extracted.
	remove func(string) error
}

// NewPipeline returns a Pipeline working in layout.
func NewPipeline(layout Layout, cfg Settings, progress ProgressFunc) *Pipeline {
	return &Pipeline{
		layout:    layout,
		fetcher:   NewFetcher(cfg, progress),
		extractor: NewExtractor(),
		force:     cfg.Force,
		remove:    os.Remove,
	}
}

// Plan validates resources and reports which of them are already complete.
func (p *Pipeline) Plan(resources []Resource) ([]Planned, error) {
	if err := validateAll(resources); err != nil {
		return nil, err
	}
	out := make([]Planned, 0, len(resources))
	for _, r := range resources {
		out = append(out, Planned{
			Resource: r,
			Archive:  p.layout.ArchivePath(r),
			Dir:      p.layout.ExtractDir(r),
			Complete: !p.force && p.complete(r),
		})
	}
	return out, nil
}

// Run processes resources in order. A failing resource does not stop the
// batch unless it is a gate, in which case the remaining resources are aborted.
//
// The returned error is non-nil only when the batch could not start (invalid
// resources, staging directory not creatable) or ctx was canceled; per-resource
// failures are reported in the Report.
func (p *Pipeline) Run(ctx context.Context, resources []Resource) (Report, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := validateAll(resources); err != nil {
		return Report{}, err
	}
	if err := EnsureDir(p.layout.Staging); err != nil {
		logger.Error("error creating staging directory", "dir", p.layout.Staging, "err", err)
		return Report{}, err
	}

	logger.Info("starting download and extraction", "resources", len(resources), "staging", p.layout.Staging)

	report := Report{Outcomes: make([]Outcome, 0, len(resources))}
	var abort error

	for _, r := range resources {
		if abort == nil && ctx.Err() != nil {
			abort = fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
		if abort != nil {
			report.Outcomes = append(report.Outcomes, Outcome{Resource: r, Status: StatusAborted, Dir: p.layout.ExtractDir(r), Err: abort})
			continue
		}

		o := p.process(ctx, r)
		report.Outcomes = append(report.Outcomes, o)

		if o.Status == StatusFailed && r.Gate {
			logger.Error("gate resource failed, aborting further steps dependent on it", "name", r.Name)
			abort = fmt.Errorf("%w: %s failed", ErrAborted, r.Name)
		}
	}

	if report.OK() {
		logger.Info("setup complete",
			"done", report.Count(StatusDone),
			"skipped", report.Count(StatusSkipped))
	} else {
		logger.Error("setup incomplete",
			"done", report.Count(StatusDone),
			"skipped", report.Count(StatusSkipped),
			"failed", report.Count(StatusFailed),
			"aborted", report.Count(StatusAborted))
	}

	return report, ctx.Err()
}

func (p *Pipeline) process(ctx context.Context, r Resource) Outcome {
	logger := logctx.LoggerFromContext(ctx).With("name", r.Name)

	archive := p.layout.ArchivePath(r)
	dir := p.layout.ExtractDir(r)
	o := Outcome{Resource: r, Dir: dir}

	if !p.force && p.complete(r) {
		logger.Info("already extracted, skipping", "dir", dir)
		o.Status = StatusSkipped
		return o
	}

	if err := p.fetcher.Fetch(ctx, r.URL, archive); err != nil {
		o.Status, o.Err = StatusFailed, err
		return o
	}

	ext, err := p.extractor.Extract(ctx, archive, dir)
	if err != nil {
		logger.Error("extraction failed, archive kept", "archive", archive, "err", err)
		o.Status, o.Err = StatusFailed, err
		return o
	}
	o.Files = ext.Files

	marker := Marker{URL: r.URL, Name: r.Name, Files: ext.Files, CompletedAt: time.Now().UTC()}
	if err := writeMarker(p.layout.MarkerPath(r), marker); err != nil {
		logger.Warn("could not write completion marker; resource will be fetched again next run", "err", err)
	}

	if err := p.remove(archive); err != nil {
		logger.Warn("could not remove temporary archive", "archive", archive, "err", err)
	} else {
		logger.Info("removed temporary archive", "archive", archive)
	}

	o.Status = StatusDone
	return o
}

func (p *Pipeline) complete(r Resource) bool {
	m, err := readMarker(p.layout.MarkerPath(r))
	if err != nil {
		return false
	}
	return m.complete(r, p.layout.ExtractDir(r))
}

func validateAll(resources []Resource) error {
	seen := make(map[string]struct{}, len(resources))
	for _, r := range resources {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalidResource, r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}
