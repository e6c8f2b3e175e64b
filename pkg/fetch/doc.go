// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package fetch downloads, extracts and cleans up the archived assets used by the
TumorNetSolvers project (pretrained checkpoints, dataset bundles).

The package is built from four small pieces that are used leaf to root:

  - Layout resolves absolute staging, archive and extraction paths.
  - Fetcher streams a URL to a local file and never leaves a partial file behind.
  - Extractor expands zip and tar.gz archives into a directory.
  - Pipeline runs Fetcher and Extractor over a list of Resources, one at a time.

# Quick Start

	layout, err := fetch.NewLayout(".", "./final_models")
	if err != nil {
		log.Fatal(err)
	}

	p := fetch.NewPipeline(layout, fetch.DefaultSettings(), nil)
	report, err := p.Run(context.Background(), fetch.DefaultCheckpoints())
	if err != nil || !report.OK() {
		os.Exit(1)
	}

# Completion Markers

After a resource has been extracted, the pipeline writes a small JSON marker
named ".<resource name>.complete" next to the extracted files. A later run skips
every resource whose marker is present and names the same URL, so re-running a
successful batch performs no network requests. Markers are written to a
temporary file and renamed into place; a crash during extraction leaves no
marker and the resource is processed again.

# Progress Events

The ProgressFunc callback receives events for every transfer:

  - file_start: the response headers arrived, Total holds Content-Length (0 if unknown)
  - file_progress: periodic update with the cumulative Downloaded count
  - file_done: the transfer completed; Total equals Downloaded when it was unknown
  - error: the transfer failed, Message holds the cause

# Errors

Every failure is reported as an *Error carrying a Kind. Use KindOf or errors.Is
with the exported sentinels to branch on the failure category:

	if errors.Is(err, fetch.ErrCorruptArchive) {
		// the archive is kept on disk for inspection
	}
*/
package fetch
