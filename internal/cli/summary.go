// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/tumornetsolvers/tnsfetch/pkg/fetch"
	"github.com/tumornetsolvers/tnsfetch/pkg/hub"
)

type palette struct {
	ok, skip, fail, dim *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		ok:   color.New(color.FgGreen, color.Bold),
		skip: color.New(color.FgCyan),
		fail: color.New(color.FgRed, color.Bold),
		dim:  color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{p.ok, p.skip, p.fail, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) status(s fetch.Status) string {
	switch s {
	case fetch.StatusDone:
		return p.ok.Sprintf("%-8s", s)
	case fetch.StatusSkipped:
		return p.skip.Sprintf("%-8s", s)
	default:
		return p.fail.Sprintf("%-8s", s)
	}
}

// printReport writes one line per resource followed by the totals.
func printReport(w io.Writer, report fetch.Report, noColor bool) {
	p := newPalette(noColor)

	fmt.Fprintln(w)
	for _, o := range report.Outcomes {
		fmt.Fprintf(w, "  %s %-22s %s\n", p.status(o.Status), o.Resource.Name, p.dim.Sprint(o.Dir))
		if o.Err != nil {
			fmt.Fprintf(w, "           %s\n", p.fail.Sprint(o.Err))
		}
	}
	fmt.Fprintln(w)

	line := fmt.Sprintf("%d done, %d skipped, %d failed, %d aborted",
		report.Count(fetch.StatusDone),
		report.Count(fetch.StatusSkipped),
		report.Count(fetch.StatusFailed),
		report.Count(fetch.StatusAborted))
	if report.OK() {
		fmt.Fprintln(w, p.ok.Sprint("✓ ")+line)
	} else {
		fmt.Fprintln(w, p.fail.Sprint("✗ ")+line)
	}
}

// printPlan writes the resources a models run would process.
func printPlan(w io.Writer, plan []fetch.Planned, noColor bool) {
	p := newPalette(noColor)
	fmt.Fprintf(w, "Plan (%d resources):\n", len(plan))
	for _, it := range plan {
		state := p.ok.Sprint("fetch")
		if it.Complete {
			state = p.skip.Sprint("skip ")
		}
		gate := ""
		if it.Resource.Gate {
			gate = p.dim.Sprint(" gate")
		}
		fmt.Fprintf(w, "  %s  %-22s -> %s%s\n", state, it.Resource.Name, it.Dir, gate)
		fmt.Fprintf(w, "         %s\n", p.dim.Sprint(it.Resource.URL))
	}
}

// printSnapshot writes the result of a dataset snapshot.
func printSnapshot(w io.Writer, res hub.SnapshotResult, noColor bool) {
	p := newPalette(noColor)
	fmt.Fprintf(w, "%s %d downloaded (%s), %d already present\n",
		p.ok.Sprint("✓"), res.Downloaded, humanize.Bytes(uint64(res.Bytes)), res.Skipped)
	fmt.Fprintf(w, "  saved to %s\n", res.Dir)
}
