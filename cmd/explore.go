// File: cmd/explore.go
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/internal/agent"
	"github.com/xkilldash9x/webprobe/internal/observability"
	"github.com/xkilldash9x/webprobe/internal/reporting"
	"github.com/xkilldash9x/webprobe/internal/service"
)

func newExploreCmd() *cobra.Command {
	exploreCmd := &cobra.Command{
		Use:   "explore <url>",
		Short: "Explores a web application with the decision oracle and writes a session report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, agent.ModeExplore, args[0])
		},
	}
	addSessionFlags(exploreCmd, true)
	return exploreCmd
}

func newCrawlCmd() *cobra.Command {
	crawlCmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Visits in-scope pages breadth first without the oracle and writes a session report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, agent.ModeCrawl, args[0])
		},
	}
	addSessionFlags(crawlCmd, false)
	return crawlCmd
}

// addSessionFlags registers the per-session overrides shared by explore, crawl and batch.
func addSessionFlags(cmd *cobra.Command, withGoal bool) {
	cmd.Flags().StringP("output", "o", "", "Directory session reports are written under. (Overrides config/env)")
	cmd.Flags().Int("max-pages", 0, "Maximum distinct pages to visit. (Overrides config/env)")
	cmd.Flags().Int("max-steps", 0, "Maximum actions per session. (Overrides config/env)")
	cmd.Flags().Duration("delay", 0, "Pause between steps, e.g. 500ms. (Overrides config/env)")
	cmd.Flags().String("driver", "", "Browser driver: chromedp or playwright. (Overrides config/env)")
	cmd.Flags().Bool("headful", false, "Show the browser window.")
	cmd.Flags().StringP("format", "f", "text", "Summary printed to stdout: text, json or markdown.")
	if withGoal {
		cmd.Flags().StringP("goal", "g", "", "What the session should try to accomplish. (Overrides config/env)")
	}
}

func runSession(cmd *cobra.Command, mode, target string) error {
	ctx := cmd.Context()
	cfg, err := getConfig(cmd)
	if err != nil {
		return err
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

	logger.Info("Starting session.", zap.String("mode", mode), zap.String("target", target))
	out, err := components.Runner.Execute(ctx, mode, agent.Options{TargetURL: target})
	if out != nil && out.Report != nil {
		if perr := printOutcome(cmd.OutOrStdout(), format, out); perr != nil {
			logger.Warn("Failed to print session summary.", zap.Error(perr))
		}
	}
	if err != nil {
		return err
	}
	if !out.Succeeded() {
		return fmt.Errorf("session ended in %s: %s", out.Report.TerminalState, out.Report.FatalError)
	}
	return nil
}

// printOutcome renders a finished session in the requested format, followed
// by the paths of the files written for it.
func printOutcome(w io.Writer, format string, out *service.Outcome) error {
	reporter, err := reporting.NewWithWriter(format, w)
	if err != nil {
		return err
	}
	defer reporter.Close()
	if err := reporter.Write(out.Report); err != nil {
		return err
	}
	if out.Artifacts.JSON != "" && format != "json" {
		fmt.Fprintf(w, "  Report:       %s, %s\n", out.Artifacts.JSON, out.Artifacts.Markdown)
	}
	return nil
}
