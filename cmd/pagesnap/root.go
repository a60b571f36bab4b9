package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagesnap/fullpage"
)

// NewRootCmd creates the root command for pagesnap.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagesnap",
		Short: "Full-page screenshot capture and stitching",
		Long: `pagesnap captures a whole web page, not just the visible viewport.

It scrolls a Chrome tab segment by segment, hides fixed and sticky
elements so they are not repeated, retries rate-limited captures, and
stitches the segments into a single PNG, JPEG or WebP image.

Configuration is read from --config, or from ` + fullpage.DefaultConfigPath() + `
when it exists.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")

	cmd.AddCommand(NewCaptureCmd())
	cmd.AddCommand(NewVisibleCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMCPCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the JSON logger every subcommand writes to stderr.
// Stdout stays free for image bytes and JSON results.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
}

func loadConfig(cmd *cobra.Command) (*fullpage.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return fullpage.LoadConfig(path)
}

// newService builds the service and starts the browser. The caller closes the service.
func newService(ctx context.Context, cfg *fullpage.Config, logger *slog.Logger) (*fullpage.Service, error) {
	svc, err := fullpage.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := svc.Start(ctx); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}
