// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tumornetsolvers/tnsfetch/internal/config"
	"github.com/tumornetsolvers/tnsfetch/internal/logctx"
	"github.com/tumornetsolvers/tnsfetch/pkg/fetch"
	"github.com/tumornetsolvers/tnsfetch/pkg/hub"
)

func newDatasetCmd(ro *RootOpts) *cobra.Command {
	var (
		subset    string
		outputDir string
		revision  string
	)

	cmd := &cobra.Command{
		Use:   "dataset DATASET",
		Short: "Download a dataset from the Hugging Face Hub",
		Long: `Downloads every file of the dataset repository DATASET (owner/name) into
<output>/<owner>_<name>[_<config>].

The output directory defaults to data_and_outputs/raw_data below BASE_DIR,
or below the parent of the directory holding the tnsfetch binary.`,
		Example: `  tnsfetch dataset owner/name
  tnsfetch dataset owner/name -c subset -o ./raw_data`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logctx.LoggerFromContext(ctx)
			out := cmd.OutOrStdout()

			fc, err := config.LoadFetch(ro.EnvFile)
			if err != nil {
				return err
			}

			if outputDir == "" {
				root := fc.Root
				if root == "" {
					if root, err = fetch.ExecutableRoot(); err != nil {
						return err
					}
				}
				outputDir = filepath.Join(root, "data_and_outputs", "raw_data")
				logger.Info("save path not specified, using default", "dir", outputDir)
			}

			settings := fc.Settings()
			settings.Token = ro.token(fc.HFToken)

			progress, done := ro.progress(out)
			res, err := hub.Snapshot(ctx,
				hub.Repo{ID: args[0], IsDataset: true, Revision: revision},
				hub.SnapshotOptions{
					Endpoint:  fc.HFEndpoint,
					Subset:    subset,
					OutputDir: outputDir,
					Settings:  settings,
					Progress:  progress,
				})
			done()
			if errors.Is(err, hub.ErrRateLimited) && settings.Token == "" {
				return fmt.Errorf("%w; authenticated requests get a higher limit (set HF_TOKEN or --token)", err)
			}
			if err != nil {
				return err
			}

			if ro.JSONOut {
				return writeJSON(out, res)
			}
			printSnapshot(out, res, ro.NoColor)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subset, "config-name", "c", "", "Configuration or subset of the dataset (a directory of the repository)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory to save the dataset in")
	cmd.Flags().StringVarP(&revision, "revision", "b", "main", "Revision/branch to download")

	return cmd
}
