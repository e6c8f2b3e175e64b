// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tumornetsolvers/tnsfetch/internal/config"
)

func newConfigCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "config",
		Short:             "Manage configuration",
		PersistentPreRunE: skipDotenv(ro),
	}

	cmd.AddCommand(newConfigInitCmd(ro))
	cmd.AddCommand(newConfigShowCmd(ro))
	cmd.AddCommand(newConfigPathCmd(ro))

	return cmd
}

func newConfigInitCmd(ro *RootOpts) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default dotenv file",
		Long: `Creates a dotenv file (default .env in the working directory, or --env-file)
with every setting and its default value.

Variables set in the environment always override values from the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.EnvFilePath(ro.EnvFile)
			if err != nil {
				return err
			}
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created config file: %s\n", path)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Edit this file to set your values. At least:")
			fmt.Fprintln(out, "  - PAMOUNT_DIR, the mount holding the nnU-Net data")
			fmt.Fprintln(out, "  - DATASET_ID, the nnU-Net dataset to preprocess")
			fmt.Fprintln(out, "  - BASE_DIR, the repository root")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")

	return cmd
}

// skipDotenv sets up logging without requiring the named dotenv file,
// which "config init" may be about to create.
func skipDotenv(ro *RootOpts) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		envFile := ro.EnvFile
		ro.EnvFile = ""
		defer func() { ro.EnvFile = envFile }()
		return ro.setup(cmd)
	}
}

func newConfigShowCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.EnvFilePath(ro.EnvFile)
			if err != nil {
				return err
			}
			cfg, err := config.Inspect(ro.EnvFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "# Config file: %s\n", path)
			} else {
				fmt.Fprintf(out, "# No config file at %s (run 'tnsfetch config init' to create one)\n", path)
			}
			if err := cfg.Project.Validate(); err != nil {
				fmt.Fprintf(out, "# warning: %v\n", err)
			}
			fmt.Fprintln(out)

			data, err := yaml.Marshal(cfg.Masked())
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func newConfigPathCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the dotenv file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.EnvFilePath(ro.EnvFile)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
