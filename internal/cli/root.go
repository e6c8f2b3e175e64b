// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tumornetsolvers/tnsfetch/internal/config"
	"github.com/tumornetsolvers/tnsfetch/internal/logctx"
	"github.com/tumornetsolvers/tnsfetch/internal/tui"
	"github.com/tumornetsolvers/tnsfetch/pkg/fetch"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Token     string
	EnvFile   string
	JSONOut   bool
	Quiet     bool
	NoColor   bool
	LogFile   string
	LogLevel  string
	LogFormat string

	// logOut receives log records. Defaults to stderr.
	logOut  io.Writer
	logFile *os.File
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root, ro := newRootCmd(version)
	defer ro.closeLog()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newRootCmd(version string) (*cobra.Command, *RootOpts) {
	ro := &RootOpts{}

	root := &cobra.Command{
		Use:           "tnsfetch",
		Short:         "Fetch TumorNetSolvers checkpoints and datasets, and prepare nnU-Net",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ro.setup(cmd)
		},
	}

	// Global flags
	root.PersistentFlags().StringVarP(&ro.Token, "token", "t", "", "Hugging Face access token (also reads HF_TOKEN env)")
	root.PersistentFlags().StringVar(&ro.EnvFile, "env-file", "", "Dotenv file to load (default .env in the working directory)")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events and results")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (plain progress lines, no bars)")
	root.PersistentFlags().BoolVar(&ro.NoColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().StringVar(&ro.LogFile, "log-file", "", "Write logs to file (in addition to stderr)")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&ro.LogFormat, "log-format", "text", "Log format: text or json")

	root.AddCommand(newModelsCmd(ro))
	root.AddCommand(newDatasetCmd(ro))
	root.AddCommand(newEnvCmd(ro))
	root.AddCommand(newPreprocessCmd(ro))
	root.AddCommand(newConfigCmd(ro))
	root.AddCommand(newVersionCmd(ro, version))
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root, ro
}

// setup loads the dotenv file and installs the logger in the command context.
func (ro *RootOpts) setup(cmd *cobra.Command) error {
	if err := config.LoadDotenv(ro.EnvFile); err != nil {
		return err
	}

	level := config.Fetch{LogLevel: os.Getenv("LOG_LEVEL")}.SlogLevel()
	if ro.LogLevel != "" {
		var err error
		if level, err = logctx.ParseLevel(ro.LogLevel); err != nil {
			return err
		}
	}

	var jsonLogs bool
	switch strings.ToLower(ro.LogFormat) {
	case "", "text":
	case "json":
		jsonLogs = true
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", ro.LogFormat)
	}

	var w io.Writer = os.Stderr
	if ro.logOut != nil {
		w = ro.logOut
	}
	if ro.LogFile != "" {
		f, err := os.OpenFile(ro.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		ro.logFile = f
		w = io.MultiWriter(w, f)
	}

	logger := logctx.New(w, level, jsonLogs)
	slog.SetDefault(logger)
	cmd.SetContext(logctx.WithLogger(cmd.Context(), logger))
	return nil
}

func (ro *RootOpts) closeLog() {
	if ro.logFile != nil {
		_ = ro.logFile.Close()
		ro.logFile = nil
	}
}

// token returns the --token flag, falling back to the configured token.
func (ro *RootOpts) token(configured string) string {
	if tok := strings.TrimSpace(ro.Token); tok != "" {
		return tok
	}
	return strings.TrimSpace(configured)
}

// progress picks the progress handler for the output mode. The returned
// close function must be called once the transfers are over.
func (ro *RootOpts) progress(out io.Writer) (fetch.ProgressFunc, func()) {
	switch {
	case ro.JSONOut:
		return jsonProgress(out), func() {}
	case ro.Quiet || out != io.Writer(os.Stdout):
		r := tui.New(out, false)
		return r.Handler(), func() { finishRenderer(r) }
	default:
		r := tui.NewStdout()
		return r.Handler(), func() { finishRenderer(r) }
	}
}

func finishRenderer(r *tui.Renderer) {
	r.Close()
	files, size, failed := r.Stats()
	slog.Debug("transfers finished", "files", files, "bytes", size, "failed", failed)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) fetch.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev fetch.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
