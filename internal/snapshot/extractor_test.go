// internal/snapshot/extractor_test.go
package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const fixtureMarkup = `<!doctype html>
<html><head><title>Fixture</title>
<style>.a { color: red }</style>
<script>alert("boom")</script>
<link rel="stylesheet" href="/site.css">
<meta charset="utf-8">
</head>
<body>
  <!-- a comment -->
  <div style="color:red" onclick="go()" data-x="1">Card</div>
  <form action="/signup" method="post" data-tracking="t">
    <input name="email" placeholder="Email" style="width:10px" onfocus="track()">
    <input type="submit" value="Sign Up">
  </form>
  <button id="b1" class="btn primary" onmouseover="x()">Sign Up</button>
  <a href="/about">About</a>
  <a href="/about">About</a>
  <a href="javascript:void(0)">JS</a>
  <span role="button">Menu</span>
  <p class="lead" id="intro">Hello   world</p>
</body></html>`

// -- Test Doubles --

type fakePage struct {
	content  string
	url      string
	title    string
	idleFunc func(ctx context.Context) error
	mutated  bool
}

var _ schemas.BrowserPage = (*fakePage)(nil)

func (p *fakePage) Navigate(context.Context, string, time.Duration) (string, error) {
	p.mutated = true
	return p.url, nil
}
func (p *fakePage) Evaluate(context.Context, string, interface{}) error { p.mutated = true; return nil }
func (p *fakePage) Click(context.Context, string) error                 { p.mutated = true; return nil }
func (p *fakePage) Fill(context.Context, string, string) error          { p.mutated = true; return nil }
func (p *fakePage) Screenshot(context.Context, string) ([]byte, error)  { return nil, nil }
func (p *fakePage) Content(context.Context) (string, error)             { return p.content, nil }
func (p *fakePage) URL(context.Context) (string, error)                 { return p.url, nil }
func (p *fakePage) Title(context.Context) (string, error)               { return p.title, nil }
func (p *fakePage) Close(context.Context) error                         { return nil }
func (p *fakePage) WaitIdle(ctx context.Context, _ time.Duration) error {
	if p.idleFunc != nil {
		return p.idleFunc(ctx)
	}
	return nil
}

func newTestExtractor(t *testing.T, cfg config.SnapshotConfig) *Extractor {
	t.Helper()
	e := NewExtractor(cfg, config.ExplorerConfig{SettleTimeout: time.Second}, CharBudget{}, zaptest.NewLogger(t))
	e.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

// -- Extraction --

func TestExtract_EnumerationOrderAndDedup(t *testing.T) {
	e := newTestExtractor(t, config.SnapshotConfig{MaxElementText: 100})

	snap, stats, err := e.Extract("https://example.com/", "Fixture", fixtureMarkup)
	require.NoError(t, err)

	labels := make([]string, 0, len(snap.InteractiveElements))
	for _, el := range snap.InteractiveElements {
		labels = append(labels, el.Tag+":"+el.Label())
	}
	assert.Equal(t, []string{
		"input:Email",
		"input:Sign Up",
		"button:Sign Up",
		"a:About",
		"a:JS",
		"div:Card",
		"span:Menu",
	}, labels)
	assert.Equal(t, 1, stats.DroppedDuplicates)

	for i, el := range snap.InteractiveElements {
		assert.Equal(t, i, el.Index)
	}

	button := snap.InteractiveElements[2]
	assert.Equal(t, "b1", button.ID)
	assert.Equal(t, "btn primary", button.Class)
	assert.Empty(t, snap.InteractiveElements[4].Href, "javascript: hrefs are dropped")
	assert.Equal(t, "button", snap.InteractiveElements[6].Role)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), snap.Timestamp)
}

func TestExtract_Sanitization(t *testing.T) {
	e := newTestExtractor(t, config.SnapshotConfig{MaxElementText: 100})

	snap, _, err := e.Extract("https://example.com/", "Fixture", fixtureMarkup)
	require.NoError(t, err)
	markup := snap.CleanedMarkup

	for _, banned := range []string{"alert", "<script", "<style", "<meta", "site.css", "a comment", "style=", "onclick", "onfocus", "onmouseover", "data-x", "data-tracking", "javascript:"} {
		assert.NotContains(t, markup, banned)
	}
	assert.Contains(t, markup, `<input name="email" placeholder="Email"/>`)
	assert.Contains(t, markup, `<form action="/signup" method="post">`)
	assert.Contains(t, markup, `class="btn primary"`)
	assert.Contains(t, markup, `<p>Hello world</p>`, "non-interactive elements lose every attribute")
	assert.False(t, snap.Truncated)
}

func TestExtract_TextAndTokenBudgets(t *testing.T) {
	e := newTestExtractor(t, config.SnapshotConfig{MaxElementText: 5, MaxMarkupTokens: 4})

	snap, _, err := e.Extract("https://example.com/", "", `<body><button>Continue to checkout</button><p>`+
		"lorem ipsum dolor sit amet consectetur</p></body>")
	require.NoError(t, err)

	require.Len(t, snap.InteractiveElements, 1)
	assert.Equal(t, "Conti", snap.InteractiveElements[0].Text)
	assert.True(t, snap.Truncated)
	assert.Len(t, []rune(snap.CleanedMarkup), 4*charsPerToken)
}

func TestExtract_MaxElements(t *testing.T) {
	e := newTestExtractor(t, config.SnapshotConfig{MaxElementText: 50, MaxElements: 2})

	snap, stats, err := e.Extract("https://example.com/", "", `<a href="/1">1</a><a href="/2">2</a><a href="/3">3</a>`)
	require.NoError(t, err)
	assert.Len(t, snap.InteractiveElements, 2)
	assert.Equal(t, 1, stats.DroppedOverLimit)
	assert.True(t, snap.Truncated)
}

func TestExtractionTimeout_Error(t *testing.T) {
	var err error = &ExtractionTimeout{URL: "https://example.com/slow", Timeout: 3 * time.Second}
	var timeout *ExtractionTimeout
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "page https://example.com/slow did not settle within 3s", err.Error())
}

func TestCharBudget(t *testing.T) {
	out, cut := CharBudget{}.Truncate("abcdefghij", 2)
	assert.Equal(t, "abcdefgh", out)
	assert.True(t, cut)

	out, cut = CharBudget{}.Truncate("abc", 2)
	assert.Equal(t, "abc", out)
	assert.False(t, cut)

	_, cut = CharBudget{}.Truncate("abc", 0)
	assert.False(t, cut)
}

func TestNewBudget_EmptyEncodingFallsBack(t *testing.T) {
	assert.IsType(t, CharBudget{}, NewBudget("", nil))
}

// -- Capture --

func TestCapture(t *testing.T) {
	t.Run("settled page", func(t *testing.T) {
		e := newTestExtractor(t, config.SnapshotConfig{MaxElementText: 100})
		page := &fakePage{content: fixtureMarkup, url: "https://example.com/", title: " Fixture "}

		snap, err := e.Capture(context.Background(), page)
		require.NoError(t, err)
		assert.Equal(t, "Fixture", snap.Title)
		assert.Equal(t, "https://example.com/", snap.URL)
		assert.False(t, snap.Partial)
		assert.False(t, page.mutated, "capture never mutates the page")
	})

	t.Run("hung page yields a partial snapshot", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		e := NewExtractor(config.SnapshotConfig{MaxElementText: 100},
			config.ExplorerConfig{SettleTimeout: 20 * time.Millisecond}, nil, zap.New(core))
		page := &fakePage{content: fixtureMarkup, url: "https://example.com/", idleFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}

		start := time.Now()
		snap, err := e.Capture(context.Background(), page)
		require.NoError(t, err)
		assert.True(t, snap.Partial)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.NotEmpty(t, snap.InteractiveElements)

		entries := logs.FilterMessage("Continuing with partial snapshot.").All()
		require.Len(t, entries, 1)
		msg, ok := entries[0].ContextMap()["error"].(string)
		require.True(t, ok)
		assert.Equal(t, "page https://example.com/ did not settle within 20ms", msg)
	})

	t.Run("idle failure other than timeout is not partial", func(t *testing.T) {
		e := newTestExtractor(t, config.SnapshotConfig{MaxElementText: 100})
		page := &fakePage{content: "<body></body>", url: "https://example.com/", idleFunc: func(context.Context) error {
			return errors.New("network events unavailable")
		}}

		snap, err := e.Capture(context.Background(), page)
		require.NoError(t, err)
		assert.False(t, snap.Partial)
	})

	t.Run("cancelled context", func(t *testing.T) {
		e := NewExtractor(config.SnapshotConfig{}, config.ExplorerConfig{SettleDelay: time.Minute}, nil, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := e.Capture(ctx, &fakePage{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
