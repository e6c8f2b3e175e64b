// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/tumornetsolvers/tnsfetch/internal/logctx"
	"github.com/tumornetsolvers/tnsfetch/pkg/fetch"
)

// SnapshotOptions configures Snapshot.
type SnapshotOptions struct {
	// Endpoint is the Hub base URL. Empty means DefaultEndpoint.
	Endpoint string

	// Subset restricts the snapshot to the files below this directory of the
	// repository. The directory name is also appended to the save dir.
	Subset string

	// OutputDir is the parent of the save dir. Required.
	OutputDir string

	// Settings configures transfers. Settings.Token is also used for listing.
	Settings fetch.Settings

	// Progress receives the events of every file transfer.
	Progress fetch.ProgressFunc
}

// SnapshotResult summarizes a finished snapshot.
type SnapshotResult struct {
	// Dir is the save dir the files were written to.
	Dir        string `json:"dir"`
	Downloaded int    `json:"downloaded"`
	Skipped    int    `json:"skipped"`
	// Bytes is the total size of the downloaded files.
	Bytes int64 `json:"bytes"`
}

// SaveDirName returns the directory name used for a repository snapshot:
// the repo ID with "/" replaced by "_", followed by "_<subset>" when set.
func SaveDirName(repoID, subset string) string {
	name := strings.ReplaceAll(repoID, "/", "_")
	if subset = strings.Trim(subset, "/"); subset != "" {
		name += "_" + strings.ReplaceAll(subset, "/", "_")
	}
	return name
}

// Snapshot copies every file of repo (below opts.Subset) into
// <OutputDir>/<SaveDirName>. Files are transferred one after another;
// existing files with the expected size are kept. The first failure stops
// the snapshot and is returned.
func Snapshot(ctx context.Context, repo Repo, opts SnapshotOptions) (SnapshotResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := ValidateRepoID(repo.ID); err != nil {
		return SnapshotResult{}, err
	}
	if opts.OutputDir == "" {
		return SnapshotResult{}, fmt.Errorf("snapshot %s: missing output directory", repo.ID)
	}

	subset := strings.Trim(opts.Subset, "/")
	if subset != "" && !filepath.IsLocal(filepath.FromSlash(subset)) {
		return SnapshotResult{}, fmt.Errorf("snapshot %s: invalid subset %q", repo.ID, opts.Subset)
	}
	display := repo.ID
	if subset != "" {
		display += " (" + subset + ")"
	}

	if err := fetch.EnsureDir(opts.OutputDir); err != nil {
		logger.Error("error creating directory", "dir", opts.OutputDir, "err", err)
		return SnapshotResult{}, err
	}
	logger.Info("ensured directory exists", "dir", opts.OutputDir)

	res := SnapshotResult{Dir: filepath.Join(opts.OutputDir, SaveDirName(repo.ID, subset))}
	logger.Info("attempting to download dataset", "dataset", display, "revision", repo.revision())

	cfg := opts.Settings
	client := NewClient(opts.Endpoint, cfg.Token, cfg.Timeout)
	files, err := client.ListFiles(ctx, repo, subset)
	if err != nil {
		logger.Error("failed to list repository", "dataset", display, "err", err)
		return res, err
	}
	if len(files) == 0 {
		return res, fmt.Errorf("%w: %s has no files", ErrNotFound, display)
	}

	if err := fetch.EnsureDir(res.Dir); err != nil {
		return res, err
	}
	logger.Info("saving dataset to disk", "dir", res.Dir, "files", len(files))

	fetcher := fetch.NewFetcher(cfg, opts.Progress)
	for _, f := range files {
		rel := strings.TrimPrefix(f.Path, subset+"/")
		if subset == "" {
			rel = f.Path
		}
		local := filepath.FromSlash(rel)
		if !filepath.IsLocal(local) {
			return res, &FileError{Path: f.Path, Err: fmt.Errorf("path escapes %s", res.Dir)}
		}
		dst := filepath.Join(res.Dir, local)

		if skip, reason := shouldSkipLocal(f, dst); skip {
			logger.Debug("skipping existing file", "path", rel, "reason", reason)
			res.Skipped++
			continue
		}

		if err := fetch.EnsureDir(filepath.Dir(dst)); err != nil {
			return res, &FileError{Path: f.Path, Err: err}
		}
		if err := fetcher.Fetch(ctx, f.URL, dst); err != nil {
			logger.Error("failed to download or save dataset", "dataset", display, "path", f.Path, "err", err)
			return res, &FileError{Path: f.Path, Err: err}
		}
		res.Downloaded++
		res.Bytes += f.Size
	}

	logger.Info("dataset successfully downloaded",
		"dataset", display,
		"dir", res.Dir,
		"downloaded", res.Downloaded,
		"skipped", res.Skipped,
		"size", humanize.Bytes(uint64(res.Bytes)))
	return res, nil
}

// shouldSkipLocal reports whether dst already holds f, judged by size.
func shouldSkipLocal(f File, dst string) (bool, string) {
	fi, err := os.Stat(dst)
	if err != nil || !fi.Mode().IsRegular() {
		return false, ""
	}
	if f.Size > 0 && fi.Size() == f.Size {
		return true, "size match"
	}
	return false, ""
}
