// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hub lists Hugging Face Hub repositories and copies them to disk.
//
// Files are enumerated through the tree API
// (/api/datasets/<repo>/tree/<revision>[/<path>]) and each one is downloaded
// with a fetch.Fetcher, so partial files never survive a failed transfer.
//
//	res, err := hub.Snapshot(ctx,
//	    hub.Repo{ID: "owner/dataset", IsDataset: true},
//	    hub.SnapshotOptions{OutputDir: "data_and_outputs/raw_data", Settings: fetch.DefaultSettings()},
//	)
package hub
