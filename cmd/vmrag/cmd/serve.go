package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vmrag/vmrag/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP tool server",
		Long: `Serves the document and version-control tools over the Model Context
Protocol. With the stdio transport, stdout carries the protocol; logs go
to stderr and the log file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				if transport == "" {
					transport = a.cfg.Server.Transport
				}
				server := mcp.NewServer(
					a.engine, a.vector, a.store, a.adapter, a.converter, a.cfg)
				return server.Serve(ctx, transport)
			})
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport (stdio)")
	return cmd
}
