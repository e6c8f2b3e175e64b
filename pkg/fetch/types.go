// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetch

import "time"

// Resource identifies one downloadable archive.
//
// Example:
//
//	r := fetch.Resource{
//	    URL:  "https://huggingface.co/zeinebH/TumorNetSolvers/resolve/main/checkpoint_ViT_best_ema_dice.tar.gz",
//	    Name: "vit_dice.tar.gz",
//	}
type Resource struct {
	// URL is fetched with a plain GET. Required.
	URL string `json:"url" yaml:"url"`

	// Name is the file name of the archive inside the staging directory.
	// Its suffix (.zip, .tar.gz, .tgz) selects the extractor. Required.
	Name string `json:"name" yaml:"name"`

	// Subdir extracts into <staging>/<Subdir> instead of the staging directory itself.
	Subdir string `json:"subdir,omitempty" yaml:"subdir,omitempty"`

	// Gate makes the resource a hard gate: when it fails, every following
	// resource in the same run is aborted instead of attempted.
	Gate bool `json:"gate,omitempty" yaml:"gate,omitempty"`
}

// Settings configures transfers.
type Settings struct {
	// Timeout bounds connecting, waiting for response headers and every
	// individual body read. A stalled transfer fails after Timeout.
	// If <= 0, defaults to 60s.
	Timeout time.Duration

	// ChunkSize is the size of every read from the response body and of every
	// write to disk. If <= 0, defaults to 1024.
	ChunkSize int

	// Token, when set, is sent as a bearer token.
	Token string

	// UserAgent is sent with every request. If empty, defaults to "tnsfetch/1".
	UserAgent string

	// Force ignores completion markers and processes every resource again.
	Force bool
}

// DefaultSettings returns Settings with defaults filled in.
func DefaultSettings() Settings {
	return Settings{
		Timeout:   60 * time.Second,
		ChunkSize: 1024,
		UserAgent: "tnsfetch/1",
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.ChunkSize <= 0 {
		s.ChunkSize = d.ChunkSize
	}
	if s.UserAgent == "" {
		s.UserAgent = d.UserAgent
	}
	return s
}

// ProgressEvent represents a progress update during a transfer.
type ProgressEvent struct {
	// Time is when the event occurred (UTC).
	Time time.Time `json:"time"`

	// Level is "info" or "error". Empty means "info".
	Level string `json:"level,omitempty"`

	// Event is one of "file_start", "file_progress", "file_done", "error".
	Event string `json:"event"`

	// Path is the destination file name.
	Path string `json:"path,omitempty"`

	// URL is the source being transferred.
	URL string `json:"url,omitempty"`

	// Total is the declared size in bytes, 0 when the server sent no Content-Length.
	Total int64 `json:"total,omitempty"`

	// Downloaded is the cumulative number of bytes written so far.
	Downloaded int64 `json:"downloaded,omitempty"`

	// Message contains error details for "error" events.
	Message string `json:"message,omitempty"`
}

// ProgressFunc is a callback for receiving progress events.
// Transfers are sequential, so the callback is never invoked concurrently.
type ProgressFunc func(ProgressEvent)

const checkpointBase = "https://huggingface.co/zeinebH/TumorNetSolvers/resolve/main/"

// DefaultCheckpoints returns the pretrained checkpoint archives published for
// TumorNetSolvers. The URLs are the published file names, including the ones
// whose names do not match their local alias.
func DefaultCheckpoints() []Resource {
	return []Resource{
		{URL: checkpointBase + "checkpoint_TumorSurrogate_best_ema_dice.tar.gz", Name: "ts_dice.tar.gz"},
		{URL: checkpointBase + "checkpoint_TumorSurrogate_best_ema_loss.tar.gz", Name: "ts_loss.tar.gz"},
		{URL: checkpointBase + "checkpoint_ViT_best_ema_dice.tar.gz", Name: "vit_dice.tar.gz"},
		{URL: checkpointBase + "checkpoint_ViT_best_ema_loss.tar.tar.gz.gz", Name: "vit_loss.tar.gz"},
		{URL: checkpointBase + "checkpoint_nnUnet_best_ema_dice.pth.tar.gz", Name: "nnUnet_dice.tar.gz"},
		{URL: checkpointBase + "checkpoint_ViT_best_ema_loss.tar.gz", Name: "nnUnet_loss.tar.gz"},
	}
}
