// File: cmd/batch.go
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/internal/agent"
	"github.com/xkilldash9x/webprobe/internal/observability"
	"github.com/xkilldash9x/webprobe/internal/reporting"
	"github.com/xkilldash9x/webprobe/internal/service"
)

func newBatchCmd() *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch <url...>",
		Short: "Runs one independent session per target, several at a time",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			mode, _ := cmd.Flags().GetString("mode")
			mode = strings.ToLower(mode)
			if mode != agent.ModeExplore && mode != agent.ModeCrawl {
				return fmt.Errorf("unknown mode %q", mode)
			}
			logger := observability.GetLogger()
			format, _ := cmd.Flags().GetString("format")
			if _, err := reporting.NewWithWriter(format, io.Discard); err != nil {
				return err
			}

			components, err := factory.Create(ctx, cfg, logger, service.FactoryOptions{
				Oracle: mode == agent.ModeExplore,
				Store:  true,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			logger.Info("Starting batch.", zap.Int("targets", len(args)), zap.Int("parallel", cfg.Explorer.Parallel))
			items := components.Runner.Batch(ctx, mode, args, agent.Options{}, cfg.Explorer.Parallel)

			failed := 0
			w := cmd.OutOrStdout()
			for _, item := range items {
				if item.Outcome != nil && item.Outcome.Report != nil {
					if err := printOutcome(w, format, item.Outcome); err != nil {
						logger.Warn("Failed to print session summary.", zap.String("target", item.Target), zap.Error(err))
					}
				}
				if item.Err != nil {
					fmt.Fprintf(w, "\n%s failed: %v\n", item.Target, item.Err)
				}
				if item.Err != nil || !item.Outcome.Succeeded() {
					failed++
				}
			}
			fmt.Fprintf(w, "\nBatch complete: %d of %d sessions succeeded.\n", len(items)-failed, len(items))

			if err := ctx.Err(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sessions failed", failed, len(items))
			}
			return nil
		},
	}
	addSessionFlags(batchCmd, true)
	batchCmd.Flags().IntP("parallel", "p", 0, "Sessions run at once. (Overrides config/env)")
	batchCmd.Flags().String("mode", agent.ModeExplore, "Session mode: explore or crawl.")
	return batchCmd
}
