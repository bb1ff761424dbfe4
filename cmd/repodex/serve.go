package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/repodex/internal/mcp"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Starts a Model Context Protocol server on stdin/stdout exposing the
index_repository, search_files, sync_repositories and get_status tools.
Stdout carries protocol messages only; logs go to stderr or --log-file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			server, err := mcp.NewServer(a.cfg, a.logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Serve(ctx)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("received signal, shutting down")
				return nil
			case err := <-errChan:
				return err
			}
		},
	}
}
