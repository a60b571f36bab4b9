package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

// NewMCPCmd creates the mcp command.
func NewMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the capture tools over MCP on stdio",
		Long: `Run an MCP server on stdin/stdout exposing pagesnap_capture,
pagesnap_visible and pagesnap_get_screenshot. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := newService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			srv := mcp.NewServer(&mcp.Implementation{
				Name:    "pagesnap",
				Version: getVersion(),
			}, nil)
			svc.RegisterMCP(srv)

			logger.Info("mcp server starting", "transport", "stdio")
			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}
}
