// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tumornetsolvers/tnsfetch/internal/config"
	"github.com/tumornetsolvers/tnsfetch/pkg/fetch"
)

func newModelsCmd(ro *RootOpts) *cobra.Command {
	var (
		downloadDir string
		manifest    string
		force       bool
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Download and extract the pretrained checkpoints",
		Long: `Downloads every checkpoint archive into the staging directory, extracts it
and removes the archive. Resources that were already extracted are skipped.

Use --manifest to process a YAML or JSON resource list instead of the
built-in checkpoints.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			fc, err := config.LoadFetch(ro.EnvFile)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("download-dir") {
				downloadDir = fc.DownloadDir
			}

			layout, err := fetch.NewLayout(".", downloadDir)
			if err != nil {
				return err
			}

			resources := fetch.DefaultCheckpoints()
			if manifest != "" {
				if resources, err = fetch.LoadManifest(manifest); err != nil {
					return err
				}
			}

			settings := fc.Settings()
			settings.Token = ro.token(fc.HFToken)
			settings.Force = force

			if dryRun {
				plan, err := fetch.NewPipeline(layout, settings, nil).Plan(resources)
				if err != nil {
					return err
				}
				if ro.JSONOut {
					return writeJSON(out, plan)
				}
				printPlan(out, plan, ro.NoColor)
				return nil
			}

			progress, done := ro.progress(out)
			report, runErr := fetch.NewPipeline(layout, settings, progress).Run(ctx, resources)
			done()

			if ro.JSONOut {
				if err := writeJSON(out, reportJSON(report)); err != nil {
					return err
				}
			} else if len(report.Outcomes) > 0 {
				printReport(out, report, ro.NoColor)
			}

			if runErr != nil {
				return runErr
			}
			if !report.OK() {
				return fmt.Errorf("%d of %d resources did not complete",
					report.Count(fetch.StatusFailed)+report.Count(fetch.StatusAborted), len(report.Outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&downloadDir, "download-dir", "d", "./final_models", "Staging directory for archives and extracted checkpoints (also DOWNLOAD_DIR)")
	cmd.Flags().StringVarP(&manifest, "manifest", "m", "", "YAML or JSON resource list to use instead of the built-in checkpoints")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Ignore completion markers and process every resource again")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan only: print the resources and exit")

	return cmd
}

type outcomeJSON struct {
	Name   string       `json:"name"`
	URL    string       `json:"url"`
	Status fetch.Status `json:"status"`
	Dir    string       `json:"dir"`
	Files  []string     `json:"files,omitempty"`
	Kind   string       `json:"kind,omitempty"`
	Error  string       `json:"error,omitempty"`
}

func reportJSON(r fetch.Report) map[string]any {
	outcomes := make([]outcomeJSON, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		oj := outcomeJSON{Name: o.Resource.Name, URL: o.Resource.URL, Status: o.Status, Dir: o.Dir, Files: o.Files}
		if o.Err != nil {
			oj.Error = o.Err.Error()
			if k := fetch.KindOf(o.Err); k != fetch.KindUnknown {
				oj.Kind = k.String()
			}
		}
		outcomes = append(outcomes, oj)
	}
	return map[string]any{"ok": r.OK(), "outcomes": outcomes}
}
