// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/webprobe/internal/observability"
	"github.com/xkilldash9x/webprobe/internal/server"
	"github.com/xkilldash9x/webprobe/internal/service"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the test API over HTTP until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			components, err := factory.Create(ctx, cfg, logger, service.FactoryOptions{Oracle: true, Store: true})
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			var reports server.ReportReader
			if components.Store != nil {
				reports = components.Store
			}
			srv := server.New(cfg, components.Runner, reports, components.Registry, logger)
			return srv.ListenAndServe(ctx)
		},
	}
	serveCmd.Flags().String("addr", "", "Listen address, e.g. :8080. (Overrides config/env)")
	serveCmd.Flags().IntP("parallel", "p", 0, "Sessions run at once. (Overrides config/env)")
	serveCmd.Flags().String("driver", "", "Browser driver: chromedp or playwright. (Overrides config/env)")
	serveCmd.Flags().StringP("output", "o", "", "Directory session reports are written under. (Overrides config/env)")
	return serveCmd
}
