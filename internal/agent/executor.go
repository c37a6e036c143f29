// internal/agent/executor.go
package agent

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/discovery"
	"github.com/xkilldash9x/webprobe/internal/observability"
)

// Capturer produces a snapshot of the live page.
type Capturer interface {
	Capture(ctx context.Context, page schemas.BrowserPage) (*schemas.PageSnapshot, error)
}

// VisitFunc is called once for every page newly admitted to the frontier.
type VisitFunc func(ctx context.Context, url string)

// Executor carries out decisions against one page. It is owned by a single
// session loop.
type Executor struct {
	page          schemas.BrowserPage
	frontier      *discovery.Frontier
	capturer      Capturer
	navTimeout    time.Duration
	actionTimeout time.Duration
	onVisit       VisitFunc
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Page          schemas.BrowserPage
	Frontier      *discovery.Frontier
	Capturer      Capturer
	NavTimeout    time.Duration
	ActionTimeout time.Duration
	OnVisit       VisitFunc
	Logger        *zap.Logger
	Metrics       *observability.Metrics
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onVisit := cfg.OnVisit
	if onVisit == nil {
		onVisit = func(context.Context, string) {}
	}
	navTimeout := cfg.NavTimeout
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	actionTimeout := cfg.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = 5 * time.Second
	}
	return &Executor{
		page:          cfg.Page,
		frontier:      cfg.Frontier,
		capturer:      cfg.Capturer,
		navTimeout:    navTimeout,
		actionTimeout: actionTimeout,
		onVisit:       onVisit,
		logger:        logger.Named("executor"),
		metrics:       cfg.Metrics,
		now:           time.Now,
	}
}

// outcome is what an action handler reports back to Execute.
type outcome struct {
	strategy string
	err      error
}

// Execute performs d and returns exactly one record describing it. The error
// return is non-nil only when the session cannot continue.
func (e *Executor) Execute(ctx context.Context, step int, d schemas.Decision, snap *schemas.PageSnapshot) (rec schemas.ActionRecord, fatal error) {
	rec = schemas.ActionRecord{
		Timestamp:  e.now().UTC(),
		Step:       step,
		Action:     d.Kind,
		Target:     d.Target(),
		Reasoning:  d.Reasoning,
		Confidence: d.Confidence,
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic during action execution.",
				zap.Any("panic_value", r),
				zap.String("action", string(d.Kind)),
				zap.String("stack", string(debug.Stack())))
			rec.Success = false
			rec.Strategy = ""
			rec.Error = fmt.Sprintf("panic: %v", r)
			rec.ErrorCode = string(ErrCodeExecutorPanic)
			fatal = nil
		}
		e.metrics.RecordAction(string(d.Kind), rec.Success)
	}()

	var out outcome
	if err := d.Validate(); err != nil {
		out = outcome{err: err}
		rec.ErrorCode = string(ErrCodeInvalidParameters)
	} else {
		switch d.Kind {
		case schemas.KindClick:
			out = e.click(ctx, snap, *d.Click)
		case schemas.KindFill:
			out = e.fill(ctx, d.Fill.Fields)
		case schemas.KindNavigate:
			out = e.navigate(ctx, d.Navigate.URL, snapshotURL(snap))
		case schemas.KindAnalyze:
			out = e.analyze(ctx)
		case schemas.KindComplete:
			out = outcome{strategy: "complete"}
		}
	}

	rec.Strategy = out.strategy
	if out.err != nil {
		rec.Success = false
		rec.Error = out.err.Error()
		if rec.ErrorCode == "" {
			rec.ErrorCode = string(ClassifyError(out.err))
		}
		if isFatal(ctx, out.err) {
			return rec, out.err
		}
	} else {
		rec.Success = true
	}

	urlCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if current, err := e.page.URL(urlCtx); err == nil {
		rec.URL = current
	}
	return rec, nil
}

// -- Actions --

func (e *Executor) click(ctx context.Context, snap *schemas.PageSnapshot, target schemas.ClickPayload) outcome {
	attempts := ResolveClick(snap, target)
	failure := &ActionResolutionError{Action: schemas.KindClick, Target: clickTarget(target)}
	if len(attempts) == 0 {
		return outcome{err: failure}
	}

	for _, a := range attempts {
		err := e.attempt(ctx, a, snapshotURL(snap))
		if err == nil {
			e.logger.Debug("Click resolved.", zap.String("strategy", a.Strategy), zap.String("kind", a.Kind.String()))
			return outcome{strategy: a.Strategy}
		}
		if isFatal(ctx, err) {
			return outcome{strategy: a.Strategy, err: err}
		}
		e.logger.Debug("Click strategy failed.", zap.String("strategy", a.Strategy), zap.Error(err))
		failure.Tried = append(failure.Tried, a.Strategy)
	}
	return outcome{err: failure}
}

func (e *Executor) attempt(ctx context.Context, a Attempt, base string) error {
	switch a.Kind {
	case AttemptScript:
		actCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
		defer cancel()
		var clicked bool
		if err := e.page.Evaluate(actCtx, a.Script, &clicked); err != nil {
			return err
		}
		if !clicked {
			return schemas.ErrElementNotFound
		}
		return nil
	case AttemptClick:
		actCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
		defer cancel()
		return e.page.Click(actCtx, a.Selector)
	case AttemptNavigate:
		return e.navigate(ctx, a.URL, base).err
	}
	return fmt.Errorf("unknown attempt kind %d", a.Kind)
}

// fillCandidates are the selectors tried for one form field, in order.
func fillCandidates(field string) []string {
	q := cssQuote(field)
	return []string{
		fmt.Sprintf(`[name="%s"]`, q),
		fmt.Sprintf(`[id="%s"]`, q),
		fmt.Sprintf(`[placeholder*="%s" i]`, q),
		fmt.Sprintf(`[aria-label*="%s" i]`, q),
	}
}

func (e *Executor) fill(ctx context.Context, fields map[string]string) outcome {
	names := slices.Sorted(maps.Keys(fields))
	var unmatched []string
	filled := 0

	for _, name := range names {
		matched := false
		for _, sel := range fillCandidates(name) {
			actCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
			err := e.page.Fill(actCtx, sel, fields[name])
			cancel()
			if err == nil {
				matched = true
				break
			}
			if isFatal(ctx, err) {
				return outcome{err: err}
			}
		}
		if matched {
			filled++
			continue
		}
		unmatched = append(unmatched, name)
		e.logger.Info("Form field not matched.", zap.String("field", name))
	}

	if filled == 0 {
		return outcome{err: &ActionResolutionError{
			Action: schemas.KindFill,
			Target: strings.Join(names, ","),
			Tried:  []string{"name", "id", "placeholder", "aria-label"},
		}}
	}
	strategy := fmt.Sprintf("filled %d/%d", filled, len(names))
	if len(unmatched) > 0 {
		strategy += " (unmatched: " + strings.Join(unmatched, ", ") + ")"
	}
	return outcome{strategy: strategy}
}

// navigate loads rawURL if the frontier admits it and records the visit.
func (e *Executor) navigate(ctx context.Context, rawURL, base string) outcome {
	target, err := discovery.Canonicalize(rawURL, base)
	if err != nil {
		return outcome{err: fmt.Errorf("invalid navigation target %q: %w", rawURL, err)}
	}
	if !e.frontier.InScope(target) {
		return outcome{err: fmt.Errorf("%w: %s", discovery.ErrOutOfScope, target)}
	}
	if e.frontier.IsVisited(target.String()) {
		return outcome{err: fmt.Errorf("%w: %s already visited", errVisitRefused, target)}
	}
	if e.frontier.AtCapacity() {
		return outcome{err: fmt.Errorf("%w: page budget exhausted", errVisitRefused)}
	}

	final, err := e.page.Navigate(ctx, target.String(), e.navTimeout)
	if err != nil {
		return outcome{strategy: "direct", err: &NavigationError{URL: target.String(), Err: err}}
	}
	if final == "" {
		final = target.String()
	}
	if !e.frontier.MarkVisited(final) {
		return outcome{strategy: "direct", err: fmt.Errorf("%w: %s redirected to visited page %s", errVisitRefused, target, final)}
	}
	e.onVisit(ctx, final)
	return outcome{strategy: "direct"}
}

func (e *Executor) analyze(ctx context.Context) outcome {
	snap, err := e.capturer.Capture(ctx, e.page)
	if err != nil {
		return outcome{strategy: "recapture", err: err}
	}
	if added := e.frontier.DiscoverLinks(snap); added > 0 {
		e.logger.Debug("Analyze discovered links.", zap.Int("added", added))
	}
	return outcome{strategy: "recapture"}
}

// TrackLocation admits url to the visited set if it is new, as happens when a
// click causes navigation. It reports whether the page was newly admitted.
func (e *Executor) TrackLocation(ctx context.Context, url string) bool {
	if _, err := discovery.CanonicalString(url); err != nil || e.frontier.IsVisited(url) {
		return false
	}
	if !e.frontier.MarkVisited(url) {
		e.logger.Info("Page reached but not admitted to the visited set.", zap.String("url", url))
		return false
	}
	e.onVisit(ctx, url)
	return true
}

func snapshotURL(snap *schemas.PageSnapshot) string {
	if snap == nil {
		return ""
	}
	return snap.URL
}

func clickTarget(p schemas.ClickPayload) string {
	for _, s := range []string{p.TargetText, p.TargetHref, p.TargetElement} {
		if s != "" {
			return s
		}
	}
	return ""
}
