// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tumornetsolvers/tnsfetch/internal/config"
	"github.com/tumornetsolvers/tnsfetch/internal/nnunet"
)

func newEnvCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Create the nnU-Net directories and print their environment variables",
		Long: `Creates raw_data, preprocessed_data and results below PAMOUNT_DIR and prints
the nnU-Net variables as export statements, so a shell can pick them up:

  eval "$(tnsfetch env)"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.EnvFile)
			if err != nil {
				return err
			}
			dirs, err := nnunet.DirsFor(cfg.Project.MountDir)
			if err != nil {
				return err
			}
			if err := nnunet.Setup(cmd.Context(), dirs); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if ro.JSONOut {
				return writeJSON(out, dirs)
			}
			printExports(out, dirs)
			return nil
		},
	}
}

func printExports(w io.Writer, d nnunet.Dirs) {
	for _, kv := range d.Env() {
		fmt.Fprintf(w, "export %s=%s\n", kv[0], shellQuote(kv[1]))
	}
}

// shellQuote wraps s in single quotes when it contains anything but safe characters.
func shellQuote(s string) string {
	if s != "" && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-./:@+") == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
