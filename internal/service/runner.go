// File: internal/service/runner.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/agent"
	"github.com/xkilldash9x/webprobe/internal/reporting"
)

const storeTimeout = 30 * time.Second

// SessionRunner runs a single session. *agent.Agent implements it.
type SessionRunner interface {
	Run(ctx context.Context, opts agent.Options) (*agent.Result, error)
	Crawl(ctx context.Context, opts agent.Options) (*agent.Result, error)
}

// ReportStore persists finished reports. *store.Store implements it.
type ReportStore interface {
	SaveReport(ctx context.Context, report *schemas.SessionReport) error
}

// Outcome is a finished session together with the files written for it.
type Outcome struct {
	*agent.Result
	Artifacts reporting.Artifacts
}

// Runner runs sessions and persists their reports.
type Runner struct {
	sessions SessionRunner
	writer   *reporting.Writer
	store    ReportStore
	logger   *zap.Logger
}

// NewRunner creates a runner. store may be nil.
func NewRunner(sessions SessionRunner, writer *reporting.Writer, store ReportStore, logger *zap.Logger) *Runner {
	return &Runner{sessions: sessions, writer: writer, store: store, logger: logger.Named("runner")}
}

// Execute runs one session in mode and writes its report. The error is the
// session's init failure or a failure to write the report files.
func (r *Runner) Execute(ctx context.Context, mode string, opts agent.Options) (*Outcome, error) {
	var (
		res *agent.Result
		err error
	)
	switch mode {
	case agent.ModeExplore, "":
		res, err = r.sessions.Run(ctx, opts)
	case agent.ModeCrawl:
		res, err = r.sessions.Crawl(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	out := &Outcome{Result: res}
	out.Artifacts, err = r.writer.Persist(res.Report, res.Dir)
	if err != nil {
		return out, fmt.Errorf("failed to write report: %w", err)
	}

	if r.store != nil {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		if err := r.store.SaveReport(storeCtx, res.Report); err != nil {
			r.logger.Error("Failed to store report.", zap.String("session_id", res.Report.SessionID), zap.Error(err))
		}
	}
	return out, nil
}

// BatchItem is the outcome for one target of a batch.
type BatchItem struct {
	Target  string
	Outcome *Outcome
	Err     error
}

// Batch runs one session per target with at most parallel running at once.
// Items come back in target order. A failing target does not stop the others.
func (r *Runner) Batch(ctx context.Context, mode string, targets []string, base agent.Options, parallel int) []BatchItem {
	if parallel <= 0 {
		parallel = 1
	}
	items := make([]BatchItem, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, target := range targets {
		g.Go(func() error {
			opts := base
			opts.TargetURL = target
			opts.KeepOpen = false
			out, err := r.Execute(gctx, mode, opts)
			items[i] = BatchItem{Target: target, Outcome: out, Err: err}
			if err != nil {
				r.logger.Warn("Batch target failed.", zap.String("target", target), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// Succeeded reports whether the session reached a non-fatal terminal state.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Result != nil && o.Report != nil && o.Report.TerminalState != schemas.StateFatalError
}
