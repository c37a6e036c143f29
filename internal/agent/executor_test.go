// internal/agent/executor_test.go
package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webprobe/api/schemas"
)

const execSeed = "https://app.example.com/"

func snapshotWith(elements ...schemas.ElementDescriptor) *schemas.PageSnapshot {
	return &schemas.PageSnapshot{URL: execSeed, InteractiveElements: elements}
}

func TestExecutor_ClickExactTextWins(t *testing.T) {
	page := newFakePage()
	page.url = execSeed
	page.evalFn = func(string) (bool, error) { return true, nil }
	exec, _, _ := newTestExecutor(t, page, 10, execSeed)

	d := schemas.NewClickDecision(schemas.ClickPayload{TargetText: "Sign in", TargetHref: "/login"}, "", schemas.ConfidenceHigh)
	rec, err := exec.Execute(context.Background(), 1, d, snapshotWith(schemas.ElementDescriptor{Tag: "button", Text: "Sign in"}))
	require.NoError(t, err)

	assert.True(t, rec.Success)
	assert.Equal(t, "exact_text", rec.Strategy)
	assert.Len(t, page.evals, 1, "later strategies are not attempted")
	assert.Empty(t, page.clicks)
	assert.Empty(t, page.navigations)
}

func TestExecutor_ClickFallsThroughToHrefNavigation(t *testing.T) {
	page := newFakePage()
	page.url = execSeed
	exec, frontier, visits := newTestExecutor(t, page, 10, execSeed)

	d := schemas.NewClickDecision(schemas.ClickPayload{TargetText: "Pricing", TargetHref: "/pricing"}, "", schemas.ConfidenceMedium)
	rec, err := exec.Execute(context.Background(), 1, d, snapshotWith())
	require.NoError(t, err)

	assert.True(t, rec.Success)
	assert.Equal(t, "href_navigation", rec.Strategy)
	assert.Equal(t, []string{"https://app.example.com/pricing"}, page.navigations)
	assert.True(t, frontier.IsVisited("https://app.example.com/pricing"))
	assert.Equal(t, []string{"https://app.example.com/pricing"}, *visits)
	assert.Equal(t, "https://app.example.com/pricing", rec.URL)
}

func TestExecutor_ClickUnresolved(t *testing.T) {
	page := newFakePage()
	page.url = execSeed
	exec, _, _ := newTestExecutor(t, page, 10, execSeed)

	d := schemas.NewClickDecision(schemas.ClickPayload{TargetText: "Ghost"}, "", schemas.ConfidenceLow)
	rec, err := exec.Execute(context.Background(), 3, d, snapshotWith())
	require.NoError(t, err)

	assert.False(t, rec.Success)
	assert.Equal(t, string(ErrCodeUnresolved), rec.ErrorCode)
	assert.Contains(t, rec.Error, "partial_text")
	assert.Equal(t, 3, rec.Step)
}

func TestExecutor_ClickDescriptorSelector(t *testing.T) {
	page := newFakePage()
	page.url = execSeed
	page.clickable[`[id="menu-toggle"]`] = ""
	exec, _, _ := newTestExecutor(t, page, 10, execSeed)

	d := schemas.NewClickDecision(schemas.ClickPayload{TargetElement: "menu-toggle"}, "", schemas.ConfidenceLow)
	rec, err := exec.Execute(context.Background(), 1, d,
		snapshotWith(schemas.ElementDescriptor{Tag: "button", ID: "menu-toggle"}))
	require.NoError(t, err)

	assert.True(t, rec.Success)
	assert.Equal(t, "descriptor_selector", rec.Strategy)
}

func TestExecutor_Fill(t *testing.T) {
	page := newFakePage()
	page.url = execSeed
	page.fillable[`[name="email"]`] = true
	page.fillable[`[placeholder*="Full name" i]`] = true
	exec, _, _ := newTestExecutor(t, page, 10, execSeed)

	d := schemas.NewFillDecision(map[string]string{
		"email":     "test@example.com",
		"Full name": "Test User",
		"phone":     "555-0100",
	}, "", schemas.ConfidenceHigh)
	rec, err := exec.Execute(context.Background(), 1, d, snapshotWith())
	require.NoError(t, err)

	assert.True(t, rec.Success, "one matched field is enough")
	assert.Equal(t, "filled 2/3 (unmatched: phone)", rec.Strategy)
	assert.Equal(t, "test@example.com", page.fills[`[name="email"]`])
	assert.Equal(t, "Test User", page.fills[`[placeholder*="Full name" i]`])

	// Fields go in sorted order and stop at the first selector that takes the value.
	assert.Equal(t, []string{
		`[name="Full name"]`, `[id="Full name"]`, `[placeholder*="Full name" i]`,
		`[name="email"]`,
		`[name="phone"]`, `[id="phone"]`, `[placeholder*="phone" i]`, `[aria-label*="phone" i]`,
	}, page.fillTries)
}

func TestExecutor_FillNothingMatched(t *testing.T) {
	page := newFakePage()
	page.url = execSeed
	exec, _, _ := newTestExecutor(t, page, 10, execSeed)

	rec, err := exec.Execute(context.Background(), 1,
		schemas.NewFillDecision(map[string]string{"q": "shoes"}, "", schemas.ConfidenceLow), snapshotWith())
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, string(ErrCodeUnresolved), rec.ErrorCode)
}

func TestExecutor_NavigateOutOfScope(t *testing.T) {
	page := newFakePage()
	page.url = execSeed
	exec, _, _ := newTestExecutor(t, page, 10, execSeed)

	rec, err := exec.Execute(context.Background(), 1,
		schemas.NewNavigateDecision("https://evil.example.net/", "", schemas.ConfidenceLow), snapshotWith())
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, string(ErrCodeOutOfScope), rec.ErrorCode)
	assert.Empty(t, page.navigations)
}

func TestExecutor_NavigateRedirectToVisitedIsRefused(t *testing.T) {
	page := newFakePage()
	page.url = execSeed
	page.redirects["https://app.example.com/home"] = execSeed
	exec, _, visits := newTestExecutor(t, page, 10, execSeed)

	rec, err := exec.Execute(context.Background(), 1,
		schemas.NewNavigateDecision("/home", "", schemas.ConfidenceLow), snapshotWith())
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, string(ErrCodeVisitRefused), rec.ErrorCode)
	assert.Empty(t, *visits)
}

func TestExecutor_InvalidDecision(t *testing.T) {
	page := newFakePage()
	exec, _, _ := newTestExecutor(t, page, 10, execSeed)

	rec, err := exec.Execute(context.Background(), 1, schemas.Decision{Kind: schemas.KindFill}, snapshotWith())
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, string(ErrCodeInvalidParameters), rec.ErrorCode)
}

func TestExecutor_PanicBecomesRecord(t *testing.T) {
	page := newFakePage()
	page.url = execSeed
	page.panicOn = "querySelectorAll"
	exec, _, _ := newTestExecutor(t, page, 10, execSeed)

	d := schemas.NewClickDecision(schemas.ClickPayload{TargetText: "Boom"}, "", schemas.ConfidenceLow)
	rec, err := exec.Execute(context.Background(), 1, d, snapshotWith())
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, string(ErrCodeExecutorPanic), rec.ErrorCode)
	assert.True(t, strings.HasPrefix(rec.Error, "panic:"))
}

func TestExecutor_PageClosedIsFatal(t *testing.T) {
	page := newFakePage()
	page.setClosed()
	exec, _, _ := newTestExecutor(t, page, 10, execSeed)

	d := schemas.NewClickDecision(schemas.ClickPayload{TargetText: "Anything"}, "", schemas.ConfidenceLow)
	rec, err := exec.Execute(context.Background(), 1, d, snapshotWith())
	require.ErrorIs(t, err, schemas.ErrPageClosed)
	assert.False(t, rec.Success)
	assert.Equal(t, string(ErrCodePageClosed), rec.ErrorCode)
}

func TestExecutor_Complete(t *testing.T) {
	page := newFakePage()
	page.url = execSeed
	exec, _, _ := newTestExecutor(t, page, 10, execSeed)

	rec, err := exec.Execute(context.Background(), 7, schemas.Decision{Kind: schemas.KindComplete}, nil)
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Equal(t, schemas.KindComplete, rec.Action)
}

func TestExecutor_TrackLocation(t *testing.T) {
	page := newFakePage()
	exec, frontier, visits := newTestExecutor(t, page, 2, execSeed)

	assert.False(t, exec.TrackLocation(context.Background(), execSeed), "already visited")
	assert.False(t, exec.TrackLocation(context.Background(), "about:blank"))
	assert.True(t, exec.TrackLocation(context.Background(), "https://app.example.com/next"))
	assert.False(t, exec.TrackLocation(context.Background(), "https://app.example.com/over"), "page budget spent")
	assert.Equal(t, []string{"https://app.example.com/next"}, *visits)
	assert.Len(t, frontier.Visited(), 2)
}
