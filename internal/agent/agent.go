// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/config"
	"github.com/xkilldash9x/webprobe/internal/discovery"
	"github.com/xkilldash9x/webprobe/internal/observability"
	"github.com/xkilldash9x/webprobe/internal/reporting"
)

const (
	releaseTimeout    = 15 * time.Second
	screenshotTimeout = 15 * time.Second
)

// Dependencies wires an Agent.
type Dependencies struct {
	Config   *config.Config
	Browsers schemas.SessionProvider
	Oracle   Oracle
	Capturer Capturer
	Builder  *reporting.Builder
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// Agent runs exploration sessions. It holds no per-session state, so one
// Agent may run many sessions concurrently.
type Agent struct {
	cfg      *config.Config
	browsers schemas.SessionProvider
	oracle   Oracle
	capturer Capturer
	builder  *reporting.Builder
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func New(deps Dependencies) (*Agent, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("agent: config is required")
	case deps.Browsers == nil:
		return nil, errors.New("agent: session provider is required")
	case deps.Capturer == nil:
		return nil, errors.New("agent: capturer is required")
	case deps.Builder == nil:
		return nil, errors.New("agent: report builder is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		cfg:      deps.Config,
		browsers: deps.Browsers,
		oracle:   deps.Oracle,
		capturer: deps.Capturer,
		builder:  deps.Builder,
		logger:   logger,
		metrics:  deps.Metrics,
		now:      time.Now,
	}, nil
}

// Run explores opts.TargetURL with the oracle choosing every action. Only
// failures during INIT are returned as errors, always as *FatalInitError.
// Every other outcome, including cancellation, yields a report.
func (a *Agent) Run(ctx context.Context, opts Options) (*Result, error) {
	if a.oracle == nil {
		return nil, &FatalInitError{Stage: "oracle", Err: errors.New("no oracle configured")}
	}
	return a.session(ctx, opts, ModeExplore, (*run).explore)
}

// Crawl visits discovered pages breadth first without consulting the oracle.
func (a *Agent) Crawl(ctx context.Context, opts Options) (*Result, error) {
	return a.session(ctx, opts, ModeCrawl, (*run).crawl)
}

// run is the state of one session. It is confined to the goroutine running it.
type run struct {
	agent    *Agent
	opts     Options
	mode     string
	id       string
	dir      string
	logger   *zap.Logger
	page     schemas.BrowserPage
	frontier *discovery.Frontier
	memory   *Memory
	executor *Executor
}

type loopFunc func(r *run, ctx context.Context) (schemas.TerminalState, error)

func (a *Agent) session(ctx context.Context, opts Options, mode string, loop loopFunc) (*Result, error) {
	opts = opts.withDefaults(a.cfg.Explorer)
	if opts.TargetURL == "" {
		return nil, &FatalInitError{Stage: "options", Err: errors.New("target url is required")}
	}
	seedURL, err := discovery.CanonicalString(opts.TargetURL)
	if err != nil {
		return nil, &FatalInitError{Stage: "options", URL: opts.TargetURL, Err: err}
	}

	id := uuid.NewString()
	startedAt := a.now().UTC()
	logger := observability.SessionLogger(a.logger, "agent", id)
	finish := a.metrics.SessionStarted()

	// -- INIT --
	session, err := a.browsers.NewSession(ctx)
	if err != nil {
		finish("INIT_FAILED")
		return nil, &FatalInitError{Stage: "browser", Err: err}
	}
	keep := false
	defer func() {
		if keep {
			return
		}
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := session.Release(releaseCtx); err != nil {
			logger.Warn("Failed to release browser session.", zap.Error(err))
		}
	}()

	scope, err := discovery.NewBasicScopeManager(seedURL, a.cfg.Explorer.IncludeSubdomains)
	if err != nil {
		finish("INIT_FAILED")
		return nil, &FatalInitError{Stage: "scope", URL: seedURL, Err: err}
	}

	r := &run{
		agent:    a,
		opts:     opts,
		mode:     mode,
		id:       id,
		dir:      reporting.SessionDir(a.cfg.Report.OutputDir, startedAt, id),
		logger:   logger,
		page:     session.Page(),
		frontier: discovery.NewFrontier(opts.MaxPages, scope, logger),
		memory:   NewMemory(),
	}
	r.executor = NewExecutor(ExecutorConfig{
		Page:          r.page,
		Frontier:      r.frontier,
		Capturer:      a.capturer,
		NavTimeout:    a.cfg.Network.NavigationTimeout,
		ActionTimeout: a.cfg.Network.ActionTimeout,
		OnVisit:       r.onVisit,
		Logger:        logger,
		Metrics:       a.metrics,
	})

	logger.Info("Starting session.",
		zap.String("mode", mode),
		zap.String("url", seedURL),
		zap.Int("max_steps", opts.MaxSteps),
		zap.Int("max_pages", opts.MaxPages))

	finalSeed, err := r.page.Navigate(ctx, seedURL, a.cfg.Network.NavigationTimeout)
	if err != nil {
		finish("INIT_FAILED")
		return nil, &FatalInitError{Stage: "seed navigation", URL: seedURL, Err: &NavigationError{URL: seedURL, Err: err}}
	}
	if finalSeed == "" {
		finalSeed = seedURL
	}
	if r.frontier.MarkVisited(finalSeed) {
		r.onVisit(ctx, finalSeed)
	}

	// -- ITERATING --
	state, loopErr := loop(r, ctx)

	fatalMsg := ""
	if state == schemas.StateFatalError {
		fatalMsg = loopErr.Error()
		logger.Error("Session aborted.", zap.Error(loopErr))
		r.diagnosticScreenshot(ctx)
	}

	report := a.builder.Build(context.WithoutCancel(ctx), reporting.SessionData{
		SessionID:   id,
		TargetURL:   seedURL,
		Goal:        opts.Goal,
		Mode:        mode,
		StartedAt:   startedAt,
		FinishedAt:  a.now().UTC(),
		State:       state,
		FinalURL:    r.currentURL(ctx),
		FatalError:  fatalMsg,
		Records:     r.memory.Records(),
		Visited:     r.frontier.Visited(),
		Screenshots: r.memory.Screenshots(),
		Snapshots:   r.memory.Snapshots(),
	})
	finish(string(state))

	logger.Info("Session finished.",
		zap.String("state", string(state)),
		zap.Int("actions", report.Summary.TotalActions),
		zap.Int("pages", report.Summary.PagesVisited),
		zap.String("success_rate", report.Summary.SuccessRateText()))

	result := &Result{Report: report, Dir: r.dir}
	if opts.KeepOpen && state != schemas.StateFatalError {
		keep = true
		result.Session = session
	}
	return result, nil
}

// -- Loops --

func (r *run) explore(ctx context.Context) (schemas.TerminalState, error) {
	cfg := r.agent.cfg
	for step := 1; step <= r.opts.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return schemas.StateFatalError, fmt.Errorf("session cancelled: %w", err)
		}

		snap, err := r.observe(ctx, step)
		if err != nil {
			return schemas.StateFatalError, err
		}
		if snap != nil {
			decision := r.agent.oracle.Decide(ctx, DecisionInput{
				Snapshot:  snap,
				Goal:      r.opts.Goal,
				History:   r.memory.Recent(cfg.Explorer.HistoryWindow),
				Unvisited: r.frontier.State().Pending,
				Step:      step,
				MaxSteps:  r.opts.MaxSteps,
			})
			rec, fatal := r.executor.Execute(ctx, step, decision, snap)
			r.record(rec)
			if fatal != nil {
				return schemas.StateFatalError, fatal
			}
			if decision.Kind == schemas.KindComplete {
				return schemas.StateComplete, nil
			}
		}

		if step < r.opts.MaxSteps {
			if err := sleep(ctx, r.opts.StepDelay); err != nil {
				return schemas.StateFatalError, fmt.Errorf("session cancelled: %w", err)
			}
		}
	}
	return schemas.StateMaxStepsReached, nil
}

func (r *run) crawl(ctx context.Context) (schemas.TerminalState, error) {
	for step := 1; step <= r.opts.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return schemas.StateFatalError, fmt.Errorf("session cancelled: %w", err)
		}
		snap, err := r.observe(ctx, step)
		if err != nil {
			return schemas.StateFatalError, err
		}

		next, ok := r.frontier.Next()
		if !ok {
			r.logger.Info("Frontier exhausted.", zap.Int("step", step))
			return schemas.StateComplete, nil
		}
		decision := schemas.NewNavigateDecision(next, "breadth-first crawl", schemas.ConfidenceHigh)
		rec, fatal := r.executor.Execute(ctx, step, decision, snap)
		r.record(rec)
		if fatal != nil {
			return schemas.StateFatalError, fatal
		}

		if step < r.opts.MaxSteps {
			if err := sleep(ctx, r.opts.StepDelay); err != nil {
				return schemas.StateFatalError, fmt.Errorf("session cancelled: %w", err)
			}
		}
	}
	return schemas.StateMaxStepsReached, nil
}

// observe captures the current page and feeds it to the frontier. A non-fatal
// capture failure is recorded as a failed analyze step and yields a nil
// snapshot. The error return is fatal.
func (r *run) observe(ctx context.Context, step int) (*schemas.PageSnapshot, error) {
	snap, err := r.agent.capturer.Capture(ctx, r.page)
	if err != nil {
		if isFatal(ctx, err) {
			return nil, err
		}
		r.logger.Warn("Snapshot extraction failed.", zap.Int("step", step), zap.Error(err))
		rec := schemas.ActionRecord{
			Timestamp:  r.agent.now().UTC(),
			Step:       step,
			Action:     schemas.KindAnalyze,
			Reasoning:  "snapshot extraction",
			Confidence: schemas.ConfidenceLow,
			Error:      err.Error(),
			ErrorCode:  string(ErrCodeExtractionFailed),
		}
		r.agent.metrics.RecordAction(string(rec.Action), false)
		r.record(rec)
		return nil, nil
	}

	r.executor.TrackLocation(ctx, snap.URL)
	if added := r.frontier.DiscoverLinks(snap); added > 0 {
		r.logger.Debug("Discovered links.", zap.Int("added", added), zap.String("url", snap.URL))
	}
	if r.agent.cfg.Explorer.EmbedSnapshots {
		r.memory.RecordSnapshot(*snap)
	}
	return snap, nil
}

func (r *run) record(rec schemas.ActionRecord) {
	r.memory.Append(rec)
	fields := []zap.Field{
		zap.Int("step", rec.Step),
		zap.String("action", string(rec.Action)),
		zap.String("target", rec.Target),
		zap.Bool("success", rec.Success),
	}
	if rec.Strategy != "" {
		fields = append(fields, zap.String("strategy", rec.Strategy))
	}
	if !rec.Success {
		fields = append(fields, zap.String("error_code", rec.ErrorCode), zap.String("error", rec.Error))
	}
	r.logger.Info("Step executed.", fields...)
}

// -- Visits & Screenshots --

func (r *run) onVisit(ctx context.Context, url string) {
	r.memory.RecordVisit(url)
	r.agent.metrics.RecordPageVisit()
	r.logger.Info("Visited page.", zap.String("url", url), zap.Int("visited", len(r.memory.Visits())))
	if !r.agent.cfg.Explorer.Screenshots {
		return
	}
	name := reporting.ScreenshotName(url)
	if r.screenshot(ctx, name) {
		r.memory.RecordScreenshot(url, filepath.ToSlash(filepath.Join(reporting.ScreenshotDir, name)))
	}
}

func (r *run) diagnosticScreenshot(ctx context.Context) {
	if !r.agent.cfg.Explorer.Screenshots {
		return
	}
	name := fmt.Sprintf("fatal-step-%d.png", r.memory.Len())
	if r.screenshot(context.WithoutCancel(ctx), name) {
		r.memory.RecordScreenshot("fatal", filepath.ToSlash(filepath.Join(reporting.ScreenshotDir, name)))
	}
}

func (r *run) screenshot(ctx context.Context, name string) bool {
	dir := filepath.Join(r.dir, reporting.ScreenshotDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("Failed to create screenshot directory.", zap.String("dir", dir), zap.Error(err))
		return false
	}
	shotCtx, cancel := context.WithTimeout(ctx, screenshotTimeout)
	defer cancel()
	if _, err := r.page.Screenshot(shotCtx, filepath.Join(dir, name)); err != nil {
		r.logger.Warn("Screenshot failed.", zap.String("file", name), zap.Error(err))
		return false
	}
	return true
}

func (r *run) currentURL(ctx context.Context) string {
	urlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	u, err := r.page.URL(urlCtx)
	if err != nil {
		r.logger.Debug("Could not read final URL.", zap.Error(err))
		return ""
	}
	return u
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
