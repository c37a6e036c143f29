// internal/reporting/reporter_test.go
package reporting_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/reporting"
)

// -- Fixtures --

type mockSummarizer struct {
	mock.Mock
}

func (m *mockSummarizer) Summarize(ctx context.Context, goal string, failures []schemas.ActionRecord) (string, error) {
	args := m.Called(ctx, goal, failures)
	return args.String(0), args.Error(1)
}

func record(step int, kind schemas.DecisionKind, ok bool, code string) schemas.ActionRecord {
	r := schemas.ActionRecord{Step: step, Action: kind, Success: ok, ErrorCode: code, Confidence: schemas.ConfidenceMedium}
	if !ok {
		r.Error = "boom"
	}
	return r
}

func sessionData(records ...schemas.ActionRecord) reporting.SessionData {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return reporting.SessionData{
		SessionID:  "5d1f0c5e-0000-4000-8000-000000000000",
		TargetURL:  "https://example.com/",
		Goal:       "find the contact form",
		Mode:       "explore",
		StartedAt:  start,
		FinishedAt: start.Add(42 * time.Second),
		State:      schemas.StateComplete,
		Records:    records,
		Visited:    []string{"https://example.com/", "https://example.com/contact"},
		Screenshots: map[string]string{
			"https://example.com/": "screenshots/example_com-1.png",
		},
	}
}

// -- Builder --

func TestSummarize_SuccessRate(t *testing.T) {
	tests := []struct {
		name    string
		records []schemas.ActionRecord
		want    *int
	}{
		{"no actions", nil, nil},
		{"all ok", []schemas.ActionRecord{record(1, schemas.KindAnalyze, true, "")}, intPtr(100)},
		{"rounds half up", []schemas.ActionRecord{
			record(1, schemas.KindClick, true, ""),
			record(2, schemas.KindClick, false, "ELEMENT_NOT_FOUND"),
		}, intPtr(50)},
		{"two thirds", []schemas.ActionRecord{
			record(1, schemas.KindClick, true, ""),
			record(2, schemas.KindClick, true, ""),
			record(3, schemas.KindClick, false, "ELEMENT_NOT_FOUND"),
		}, intPtr(67)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := reporting.Summarize(tt.records, 3)
			assert.Equal(t, tt.want, s.SuccessRate)
			assert.Equal(t, len(tt.records), s.TotalActions)
			assert.Equal(t, s.TotalActions, s.SuccessfulActions+s.FailedActions)
			assert.Equal(t, 3, s.PagesVisited)
		})
	}
}

func TestSummarize_NotApplicableText(t *testing.T) {
	assert.Equal(t, "N/A", reporting.Summarize(nil, 0).SuccessRateText())
}

func TestBuilder_Build(t *testing.T) {
	summarizer := new(mockSummarizer)
	summarizer.On("Summarize", mock.Anything, "find the contact form", mock.MatchedBy(func(f []schemas.ActionRecord) bool {
		return len(f) == 1 && f[0].Step == 2
	})).Return("Fix the contact link.", nil).Once()

	b := reporting.NewBuilder(nil, summarizer, zaptest.NewLogger(t))
	report := b.Build(context.Background(), sessionData(
		record(1, schemas.KindNavigate, true, ""),
		record(2, schemas.KindClick, false, "ELEMENT_NOT_FOUND"),
		record(3, schemas.KindComplete, true, ""),
	))

	assert.Equal(t, schemas.StateComplete, report.TerminalState)
	assert.Equal(t, 3, report.Summary.TotalActions)
	assert.Equal(t, 1, report.Summary.FailedActions)
	require.NotNil(t, report.Summary.SuccessRate)
	assert.Equal(t, 67, *report.Summary.SuccessRate)
	assert.Equal(t, 2, report.Summary.PagesVisited)
	assert.Equal(t, "Fix the contact link.", report.Recommendations)
	assert.NotEmpty(t, report.Findings)
	summarizer.AssertExpectations(t)
}

func TestBuilder_SummaryFailureLeavesRecommendationsEmpty(t *testing.T) {
	summarizer := new(mockSummarizer)
	summarizer.On("Summarize", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("quota exceeded"))

	b := reporting.NewBuilder(nil, summarizer, zaptest.NewLogger(t))
	report := b.Build(context.Background(), sessionData(record(1, schemas.KindClick, false, "UNRESOLVED_TARGET")))

	assert.Empty(t, report.Recommendations)
	assert.Equal(t, 1, report.Summary.FailedActions)
}

func TestBuilder_NoFailuresSkipsSummarizer(t *testing.T) {
	summarizer := new(mockSummarizer)
	b := reporting.NewBuilder(nil, summarizer, nil)
	report := b.Build(context.Background(), sessionData(record(1, schemas.KindAnalyze, true, "")))

	assert.Empty(t, report.Recommendations)
	summarizer.AssertNotCalled(t, "Summarize", mock.Anything, mock.Anything, mock.Anything)
}

func TestBuilder_EmptySessionHasNonNilCollections(t *testing.T) {
	data := sessionData()
	data.Visited = nil
	report := reporting.NewBuilder(nil, nil, nil).Build(context.Background(), data)

	assert.NotNil(t, report.ActionHistory)
	assert.NotNil(t, report.VisitedPages)
	assert.NotNil(t, report.Findings)
	assert.Nil(t, report.Summary.SuccessRate)
}

// -- Classifier --

func TestHeuristicClassifier(t *testing.T) {
	nav := record(1, schemas.KindNavigate, false, "NAVIGATION_ERROR")
	nav.Target = "https://example.com/broken"
	nav.Error = "navigation to https://example.com/broken failed: net::ERR_NAME_NOT_RESOLVED"

	observed := record(2, schemas.KindAnalyze, true, "")
	observed.Reasoning = "The pricing table looks broken on this page."
	observed.URL = "https://example.com/pricing"

	fallback := record(3, schemas.KindAnalyze, true, "")
	fallback.Reasoning = "<parse failure: invalid oracle reply: empty reply>"

	dup := nav
	dup.Step = 4

	report := &schemas.SessionReport{
		ActionHistory: []schemas.ActionRecord{nav, observed, fallback, dup},
		FatalError:    "browser page closed",
	}
	findings := reporting.NewHeuristicClassifier().Classify(report)
	require.Len(t, findings, 4)

	assert.Equal(t, schemas.CategoryNavigation, findings[0].Category)
	assert.Equal(t, schemas.SeverityHigh, findings[0].Severity)
	assert.Equal(t, "https://example.com/broken", findings[0].URL)
	assert.Equal(t, 1, findings[0].Step)

	assert.Equal(t, schemas.CategoryContent, findings[1].Category)
	assert.Contains(t, findings[1].Title, "broken")

	assert.Equal(t, schemas.CategoryOracle, findings[2].Category)

	assert.Equal(t, "Session aborted", findings[3].Title)
}

func TestHeuristicClassifier_UnknownCodeIgnored(t *testing.T) {
	report := &schemas.SessionReport{ActionHistory: []schemas.ActionRecord{
		record(1, schemas.KindClick, false, "VISIT_REFUSED"),
	}}
	assert.Empty(t, reporting.NewHeuristicClassifier().Classify(report))
}

// -- Writer --

func TestScreenshotName(t *testing.T) {
	a := reporting.ScreenshotName("https://example.com/products/42?color=red")
	b := reporting.ScreenshotName("https://example.com/products/42?color=blue")

	assert.True(t, strings.HasPrefix(a, "example_com_products_42-"))
	assert.True(t, strings.HasSuffix(a, ".png"))
	assert.NotEqual(t, a, b, "query strings must not collide")
	assert.Equal(t, a, reporting.ScreenshotName("https://example.com/products/42?color=red"))
	assert.NotContains(t, reporting.ScreenshotName("https://example.com/../../etc/passwd"), "/")
	assert.LessOrEqual(t, len(reporting.ScreenshotName("https://example.com/"+strings.Repeat("a", 500))), 100)
}

func TestSessionDir(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 4, 5, 123e6, time.UTC)
	dir := reporting.SessionDir("/tmp/out", start, "abcdef12-3456")
	assert.Equal(t, filepath.Join("/tmp/out", "20250301-100405.123-abcdef12"), dir)
}

func TestWriter_Persist(t *testing.T) {
	report := reporting.NewBuilder(nil, nil, nil).Build(context.Background(), sessionData(
		record(1, schemas.KindClick, false, "ELEMENT_NOT_FOUND"),
		record(2, schemas.KindComplete, true, ""),
	))
	dir := filepath.Join(t.TempDir(), "session")

	artifacts, err := reporting.NewWriter(zaptest.NewLogger(t)).Persist(report, dir)
	require.NoError(t, err)

	raw, err := os.ReadFile(artifacts.JSON)
	require.NoError(t, err)
	var decoded schemas.SessionReport
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, report.SessionID, decoded.SessionID)
	assert.Len(t, decoded.ActionHistory, 2)
	assert.Contains(t, string(raw), `"successRate": 50`)

	md, err := os.ReadFile(artifacts.Markdown)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Exploration report: https://example.com/")
	assert.Contains(t, string(md), "screenshots/example_com-1.png")
	assert.Contains(t, string(md), "failed (ELEMENT_NOT_FOUND)")
}

func TestRenderMarkdown_NotApplicableRate(t *testing.T) {
	report := reporting.NewBuilder(nil, nil, nil).Build(context.Background(), sessionData())
	assert.Contains(t, reporting.RenderMarkdown(report), "| 0 | 0 | 0 | N/A | 2 |")
}

// -- Reporter --

func TestNew_Formats(t *testing.T) {
	report := reporting.NewBuilder(nil, nil, nil).Build(context.Background(), sessionData(record(1, schemas.KindAnalyze, true, "")))

	for _, format := range []string{"text", "json", "markdown"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			r, err := reporting.NewWithWriter(format, &buf)
			require.NoError(t, err)
			require.NoError(t, r.Write(report))
			require.NoError(t, r.Close())
			assert.Contains(t, buf.String(), "https://example.com/")
		})
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	r, err := reporting.New("json", path)
	require.NoError(t, err)
	require.NoError(t, r.Write(&schemas.SessionReport{SessionID: "s1"}))
	require.NoError(t, r.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sessionId": "s1"`)
}

func TestNew_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.sarif")
	r, err := reporting.New("sarif", path)
	assert.Nil(t, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format: sarif")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no file is created for an unknown format")
}

func intPtr(i int) *int { return &i }
