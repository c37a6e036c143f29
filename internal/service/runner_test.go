// File: internal/service/runner_test.go
package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/agent"
	"github.com/xkilldash9x/webprobe/internal/reporting"
)

type MockReportStore struct {
	mock.Mock
}

func (m *MockReportStore) SaveReport(ctx context.Context, report *schemas.SessionReport) error {
	return m.Called(ctx, report).Error(0)
}

// fakeSessions returns canned results and records how it was called.
type fakeSessions struct {
	dir     string
	state   schemas.TerminalState
	failFor map[string]error
	delay   time.Duration

	mu      sync.Mutex
	calls   []string
	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeSessions) result(mode string, opts agent.Options) (*agent.Result, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.calls = append(f.calls, mode+" "+opts.TargetURL)
	f.mu.Unlock()

	if err := f.failFor[opts.TargetURL]; err != nil {
		return nil, err
	}
	state := f.state
	if state == "" {
		state = schemas.StateComplete
	}
	return &agent.Result{
		Report: &schemas.SessionReport{
			SessionID:     "sess-" + filepath.Base(opts.TargetURL),
			TargetURL:     opts.TargetURL,
			Mode:          mode,
			TerminalState: state,
			VisitedPages:  []string{opts.TargetURL},
			ActionHistory: []schemas.ActionRecord{},
			Findings:      []schemas.Finding{},
		},
		Dir: filepath.Join(f.dir, filepath.Base(opts.TargetURL)),
	}, nil
}

func (f *fakeSessions) Run(_ context.Context, opts agent.Options) (*agent.Result, error) {
	return f.result(agent.ModeExplore, opts)
}

func (f *fakeSessions) Crawl(_ context.Context, opts agent.Options) (*agent.Result, error) {
	return f.result(agent.ModeCrawl, opts)
}

func TestRunner_ExecuteWritesAndStores(t *testing.T) {
	sessions := &fakeSessions{dir: t.TempDir()}
	st := new(MockReportStore)
	st.On("SaveReport", mock.Anything, mock.MatchedBy(func(r *schemas.SessionReport) bool {
		return r.TargetURL == "https://a.test/home"
	})).Return(nil).Once()

	r := NewRunner(sessions, reporting.NewWriter(zaptest.NewLogger(t)), st, zaptest.NewLogger(t))
	out, err := r.Execute(context.Background(), agent.ModeExplore, agent.Options{TargetURL: "https://a.test/home"})
	require.NoError(t, err)

	assert.True(t, out.Succeeded())
	assert.FileExists(t, out.Artifacts.JSON)
	assert.FileExists(t, out.Artifacts.Markdown)
	assert.Equal(t, []string{"explore https://a.test/home"}, sessions.calls)
	st.AssertExpectations(t)
}

func TestRunner_StoreFailureIsNotFatal(t *testing.T) {
	sessions := &fakeSessions{dir: t.TempDir()}
	st := new(MockReportStore)
	st.On("SaveReport", mock.Anything, mock.Anything).Return(errors.New("db down"))

	r := NewRunner(sessions, reporting.NewWriter(zaptest.NewLogger(t)), st, zaptest.NewLogger(t))
	out, err := r.Execute(context.Background(), agent.ModeCrawl, agent.Options{TargetURL: "https://a.test/"})
	require.NoError(t, err)
	assert.Equal(t, agent.ModeCrawl, out.Report.Mode)
}

func TestRunner_InitFailurePropagates(t *testing.T) {
	initErr := &agent.FatalInitError{Stage: "seed navigation", URL: "https://down.test/", Err: errors.New("refused")}
	sessions := &fakeSessions{dir: t.TempDir(), failFor: map[string]error{"https://down.test/": initErr}}
	r := NewRunner(sessions, reporting.NewWriter(zaptest.NewLogger(t)), nil, zaptest.NewLogger(t))

	out, err := r.Execute(context.Background(), "", agent.Options{TargetURL: "https://down.test/"})
	assert.Nil(t, out)
	var fatal *agent.FatalInitError
	assert.ErrorAs(t, err, &fatal)
}

func TestRunner_UnknownMode(t *testing.T) {
	r := NewRunner(&fakeSessions{}, reporting.NewWriter(nil), nil, zaptest.NewLogger(t))
	_, err := r.Execute(context.Background(), "fuzz", agent.Options{TargetURL: "https://a.test/"})
	assert.ErrorContains(t, err, "unknown mode")
}

func TestRunner_ReportDirUnwritable(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	sessions := &fakeSessions{dir: blocker}
	r := NewRunner(sessions, reporting.NewWriter(nil), nil, zaptest.NewLogger(t))
	out, err := r.Execute(context.Background(), agent.ModeExplore, agent.Options{TargetURL: "https://a.test/x"})
	assert.ErrorContains(t, err, "failed to write report")
	require.NotNil(t, out, "the session result is still returned")
	assert.NotNil(t, out.Report)
}

func TestRunner_BatchBoundsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	sessions := &fakeSessions{
		dir:     t.TempDir(),
		delay:   20 * time.Millisecond,
		failFor: map[string]error{"https://c.test/": &agent.FatalInitError{Stage: "browser", Err: errors.New("no chrome")}},
	}
	r := NewRunner(sessions, reporting.NewWriter(nil), nil, zaptest.NewLogger(t))

	targets := []string{"https://a.test/", "https://b.test/", "https://c.test/", "https://d.test/", "https://e.test/"}
	items := r.Batch(context.Background(), agent.ModeExplore, targets, agent.Options{MaxSteps: 3, KeepOpen: true}, 2)

	require.Len(t, items, len(targets))
	for i, item := range items {
		assert.Equal(t, targets[i], item.Target, "results keep target order")
	}
	assert.Error(t, items[2].Err)
	assert.Nil(t, items[2].Outcome)
	assert.True(t, items[4].Outcome.Succeeded(), "a failing target does not stop the others")
	assert.LessOrEqual(t, sessions.peak.Load(), int32(2))
	assert.Len(t, sessions.calls, 5)
}

func TestOutcome_Succeeded(t *testing.T) {
	var nilOutcome *Outcome
	assert.False(t, nilOutcome.Succeeded())
	fatal := &Outcome{Result: &agent.Result{Report: &schemas.SessionReport{TerminalState: schemas.StateFatalError}}}
	assert.False(t, fatal.Succeeded())
	maxed := &Outcome{Result: &agent.Result{Report: &schemas.SessionReport{TerminalState: schemas.StateMaxStepsReached}}}
	assert.True(t, maxed.Succeeded())
}
