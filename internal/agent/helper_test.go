// internal/agent/helper_test.go
package agent

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/config"
	"github.com/xkilldash9x/webprobe/internal/discovery"
	"github.com/xkilldash9x/webprobe/internal/reporting"
)

// -- Fake Browser --

// fakePage is a scriptable BrowserPage. Zero value behaviour: navigation
// succeeds, evaluate returns false, click and fill find nothing.
type fakePage struct {
	mu sync.Mutex

	url    string
	closed bool

	navigateErr map[string]error
	redirects   map[string]string
	evalFn      func(script string) (bool, error)
	clickable   map[string]string // selector -> url reached by clicking it
	fillable    map[string]bool
	panicOn     string

	navigations []string
	evals       []string
	clicks      []string
	fillTries   []string
	fills       map[string]string
	screenshots []string
}

var _ schemas.BrowserPage = (*fakePage)(nil)

func newFakePage() *fakePage {
	return &fakePage{
		navigateErr: map[string]error{},
		redirects:   map[string]string{},
		clickable:   map[string]string{},
		fillable:    map[string]bool{},
		fills:       map[string]string{},
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string, _ time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", schemas.ErrPageClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.navigations = append(p.navigations, url)
	if err, ok := p.navigateErr[url]; ok {
		return "", err
	}
	if to, ok := p.redirects[url]; ok {
		url = to
	}
	p.url = url
	return url, nil
}

func (p *fakePage) Evaluate(_ context.Context, script string, out interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return schemas.ErrPageClosed
	}
	if p.panicOn != "" && strings.Contains(script, p.panicOn) {
		panic("evaluate exploded")
	}
	p.evals = append(p.evals, script)
	result := false
	if p.evalFn != nil {
		var err error
		if result, err = p.evalFn(script); err != nil {
			return err
		}
	}
	if b, ok := out.(*bool); ok {
		*b = result
	}
	return nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return schemas.ErrPageClosed
	}
	p.clicks = append(p.clicks, selector)
	to, ok := p.clickable[selector]
	if !ok {
		return schemas.ErrElementNotFound
	}
	if to != "" {
		p.url = to
	}
	return nil
}

func (p *fakePage) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return schemas.ErrPageClosed
	}
	p.fillTries = append(p.fillTries, selector)
	if !p.fillable[selector] {
		return schemas.ErrElementNotFound
	}
	p.fills[selector] = value
	return nil
}

func (p *fakePage) Screenshot(_ context.Context, path string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, schemas.ErrPageClosed
	}
	data := []byte("\x89PNG")
	if path != "" {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, err
		}
	}
	p.screenshots = append(p.screenshots, path)
	return data, nil
}

func (p *fakePage) Content(context.Context) (string, error) { return "<html></html>", nil }

func (p *fakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", schemas.ErrPageClosed
	}
	return p.url, nil
}

func (p *fakePage) Title(context.Context) (string, error)         { return "Fake", nil }
func (p *fakePage) WaitIdle(context.Context, time.Duration) error { return nil }
func (p *fakePage) Close(context.Context) error                   { p.setClosed(); return nil }

func (p *fakePage) setClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePage) navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

type fakeSession struct {
	page     *fakePage
	mu       sync.Mutex
	released int
}

func (s *fakeSession) ID() string                { return "fake-session" }
func (s *fakeSession) Page() schemas.BrowserPage { return s.page }

func (s *fakeSession) Release(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	return nil
}

func (s *fakeSession) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeProvider struct {
	session *fakeSession
	err     error
}

func (p *fakeProvider) NewSession(context.Context) (schemas.BrowserSession, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.session, nil
}

// -- Fake Capturer --

// fakeCapturer serves canned snapshots keyed by the page's current URL.
type fakeCapturer struct {
	mu    sync.Mutex
	pages map[string][]schemas.ElementDescriptor
	// errAt makes the n-th capture (1-based) fail with the error.
	errAt map[int]error
	calls int
}

func (c *fakeCapturer) Capture(ctx context.Context, page schemas.BrowserPage) (*schemas.PageSnapshot, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()

	if err, ok := c.errAt[call]; ok {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := page.URL(ctx)
	if err != nil {
		return nil, err
	}
	return &schemas.PageSnapshot{
		URL:                 u,
		Title:               "Fake",
		InteractiveElements: c.pages[u],
		Timestamp:           time.Now(),
	}, nil
}

// -- Scripted Oracle --

type scriptedOracle struct {
	mu        sync.Mutex
	decisions []schemas.Decision
	inputs    []DecisionInput
	onDecide  func(step int)
}

func (o *scriptedOracle) Decide(_ context.Context, in DecisionInput) schemas.Decision {
	o.mu.Lock()
	o.inputs = append(o.inputs, in)
	var d schemas.Decision
	if len(o.decisions) > 0 {
		d = o.decisions[0]
		o.decisions = o.decisions[1:]
	} else {
		d = schemas.Decision{Kind: schemas.KindAnalyze, Reasoning: "look again", Confidence: schemas.ConfidenceLow}
	}
	hook := o.onDecide
	o.mu.Unlock()
	if hook != nil {
		hook(in.Step)
	}
	return d
}

// -- Wiring --

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Report.OutputDir = t.TempDir()
	cfg.Explorer.StepDelay = 0
	cfg.Explorer.SettleDelay = 0
	cfg.Network.NavigationTimeout = time.Second
	cfg.Network.ActionTimeout = time.Second
	return cfg
}

type harness struct {
	cfg      *config.Config
	page     *fakePage
	session  *fakeSession
	capturer *fakeCapturer
	oracle   *scriptedOracle
	agent    *Agent
}

func newHarness(t *testing.T, decisions ...schemas.Decision) *harness {
	t.Helper()
	h := &harness{
		cfg:      testConfig(t),
		page:     newFakePage(),
		capturer: &fakeCapturer{pages: map[string][]schemas.ElementDescriptor{}, errAt: map[int]error{}},
		oracle:   &scriptedOracle{decisions: decisions},
	}
	h.session = &fakeSession{page: h.page}
	logger := zaptest.NewLogger(t)
	a, err := New(Dependencies{
		Config:   h.cfg,
		Browsers: &fakeProvider{session: h.session},
		Oracle:   h.oracle,
		Capturer: h.capturer,
		Builder:  reporting.NewBuilder(nil, nil, logger),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	h.agent = a
	return h
}

func newTestExecutor(t *testing.T, page *fakePage, maxPages int, seed string) (*Executor, *discovery.Frontier, *[]string) {
	t.Helper()
	scope, err := discovery.NewBasicScopeManager(seed, false)
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	frontier := discovery.NewFrontier(maxPages, scope, zaptest.NewLogger(t))
	frontier.MarkVisited(seed)
	visits := &[]string{}
	exec := NewExecutor(ExecutorConfig{
		Page:          page,
		Frontier:      frontier,
		Capturer:      &fakeCapturer{errAt: map[int]error{}},
		NavTimeout:    time.Second,
		ActionTimeout: time.Second,
		OnVisit:       func(_ context.Context, u string) { *visits = append(*visits, u) },
		Logger:        zaptest.NewLogger(t),
	})
	return exec, frontier, visits
}
