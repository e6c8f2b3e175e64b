// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tumornetsolvers/tnsfetch/internal/config"
	"github.com/tumornetsolvers/tnsfetch/internal/nnunet"
)

// newCollaborator is replaced in tests.
var newCollaborator = func(cfg config.NNUNet, dirs nnunet.Dirs, cmd *cobra.Command) nnunet.Collaborator {
	return &nnunet.CommandRunner{
		FingerprintCmd:  cfg.FingerprintCmd,
		PlanCmd:         cfg.PlanCmd,
		PreprocessCmd:   cfg.PreprocessCmd,
		VerifyIntegrity: cfg.VerifyIntegrity,
		Env:             dirs.Environ(),
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	}
}

func newPreprocessCmd(ro *RootOpts) *cobra.Command {
	var (
		datasetID int
		verify    bool
	)

	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Extract the dataset fingerprint, plan the experiment and preprocess",
		Long: `Sets up the nnU-Net environment (see "tnsfetch env") and runs, for DATASET_ID:

  1. fingerprint extraction
  2. experiment planning
  3. preprocessing of the 2d, 3d_fullres and 3d_lowres configurations

The commands are configured with NNUNET_FINGERPRINT_CMD, NNUNET_PLAN_CMD and
NNUNET_PREPROCESS_CMD. The first failing step stops the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(ro.EnvFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dataset-id") {
				cfg.Project.DatasetID = datasetID
			}
			if cmd.Flags().Changed("verify-integrity") {
				cfg.NNUNet.VerifyIntegrity = verify
			}

			dirs, err := nnunet.DirsFor(cfg.Project.MountDir)
			if err != nil {
				return err
			}
			if err := nnunet.Setup(ctx, dirs); err != nil {
				return err
			}
			if !ro.Quiet {
				fmt.Fprintln(cmd.OutOrStdout(), dirs.Preprocessed, dirs.Raw, dirs.Results)
			}

			opts := nnunet.Options{
				DatasetID:            cfg.Project.DatasetID,
				FingerprintProcesses: cfg.NNUNet.FingerprintProcesses,
				Verbose:              !ro.Quiet,
			}
			copy(opts.PreprocessProcesses[:], cfg.NNUNet.PreprocessProcesses)

			return nnunet.Run(ctx, newCollaborator(cfg.NNUNet, dirs, cmd), opts)
		},
	}

	cmd.Flags().IntVar(&datasetID, "dataset-id", 0, "Dataset ID to process (default DATASET_ID)")
	cmd.Flags().BoolVar(&verify, "verify-integrity", false, "Check dataset integrity during fingerprint extraction (also NNUNET_VERIFY_INTEGRITY)")

	return cmd
}
