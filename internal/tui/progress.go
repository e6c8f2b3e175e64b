// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package tui renders transfer progress on a terminal.
package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/tumornetsolvers/tnsfetch/pkg/fetch"
)

const barTemplate = `{{string . "prefix"}} {{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }} {{speed . }}`

// Renderer shows one progress bar per transfer when live, and one line per
// transfer state change otherwise.
type Renderer struct {
	out  io.Writer
	live bool

	mu  sync.Mutex
	bar *pb.ProgressBar

	files  int
	bytes  int64
	failed int
}

// New returns a Renderer writing to out. Bars are drawn only when live is set.
func New(out io.Writer, live bool) *Renderer {
	return &Renderer{out: out, live: live}
}

// NewStdout returns a Renderer for standard output, live when stdout is an
// ANSI capable terminal and NO_COLOR is unset.
func NewStdout() *Renderer {
	return New(os.Stdout, isInteractive() && ansiOkay() && os.Getenv("NO_COLOR") == "")
}

// Handler returns a ProgressFunc that feeds events to the renderer.
func (r *Renderer) Handler() fetch.ProgressFunc {
	return r.apply
}

func (r *Renderer) apply(ev fetch.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Event {
	case "file_start":
		r.finishBar()
		if !r.live {
			fmt.Fprintf(r.out, "downloading: %s (%s)\n", ev.Path, sizeOrUnknown(ev.Total))
			return
		}
		r.bar = pb.New64(ev.Total)
		r.bar.SetWriter(r.out)
		r.bar.SetRefreshRate(200 * time.Millisecond)
		r.bar.Set(pb.Bytes, true)
		r.bar.Set("prefix", ellipsizeMiddle(ev.Path, 32))
		r.bar.SetTemplateString(barTemplate)
		r.bar.Start()

	case "file_progress":
		if r.bar != nil {
			r.bar.SetCurrent(ev.Downloaded)
		}

	case "file_done":
		r.files++
		r.bytes += ev.Downloaded
		if r.bar != nil {
			// The final total is only known at EOF for chunked responses.
			r.bar.SetTotal(ev.Total)
			r.bar.SetCurrent(ev.Downloaded)
			r.finishBar()
			return
		}
		fmt.Fprintf(r.out, "done: %s (%s)\n", ev.Path, humanize.Bytes(uint64(ev.Downloaded)))

	case "error":
		r.failed++
		r.finishBar()
		fmt.Fprintf(r.out, "error: %s\n", ev.Message)
	}
}

func (r *Renderer) finishBar() {
	if r.bar != nil {
		r.bar.Finish()
		r.bar = nil
	}
}

// Close finishes a bar left open by an interrupted transfer.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishBar()
}

// Stats reports the number of completed transfers, their total size and the
// number of failed transfers seen so far.
func (r *Renderer) Stats() (files int, bytes int64, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files, r.bytes, r.failed
}

func sizeOrUnknown(n int64) string {
	if n <= 0 {
		return "unknown size"
	}
	return humanize.Bytes(uint64(n))
}

func ellipsizeMiddle(s string, w int) string {
	if len(s) <= w || w < 5 {
		return s
	}
	half := (w - 3) / 2
	return s[:half] + "..." + s[len(s)-(w-3-half):]
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func ansiOkay() bool {
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}
