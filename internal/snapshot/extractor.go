// internal/snapshot/extractor.go
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/config"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Stats describes what an extraction discarded.
type Stats struct {
	DroppedDuplicates int
	DroppedOverLimit  int
}

// ExtractionTimeout reports a page that did not settle in time. The snapshot
// taken anyway is marked partial.
type ExtractionTimeout struct {
	URL     string
	Timeout time.Duration
}

func (e *ExtractionTimeout) Error() string {
	return fmt.Sprintf("page %s did not settle within %s", e.URL, e.Timeout)
}

// Extractor turns a live page into a bounded PageSnapshot.
type Extractor struct {
	cfg           config.SnapshotConfig
	settleDelay   time.Duration
	settleTimeout time.Duration
	budget        Budget
	logger        *zap.Logger
	now           func() time.Time
}

// NewExtractor creates an Extractor. A nil budget uses the character budget.
func NewExtractor(cfg config.SnapshotConfig, explorer config.ExplorerConfig, budget Budget, logger *zap.Logger) *Extractor {
	if budget == nil {
		budget = CharBudget{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		cfg:           cfg,
		settleDelay:   explorer.SettleDelay,
		settleTimeout: explorer.SettleTimeout,
		budget:        budget,
		logger:        logger.Named("snapshot"),
		now:           time.Now,
	}
}

// Capture waits for the page to settle and extracts a snapshot. A settle wait
// that runs out of time marks the snapshot partial instead of failing. Capture
// only reads from the page.
func (e *Extractor) Capture(ctx context.Context, page schemas.BrowserPage) (*schemas.PageSnapshot, error) {
	timeout := e.settle(ctx, page)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	markup, err := page.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	currentURL, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page url: %w", err)
	}
	title, err := page.Title(ctx)
	if err != nil {
		// The title is cosmetic.
		e.logger.Debug("Could not read page title.", zap.Error(err))
	}

	snap, stats, err := e.Extract(currentURL, title, markup)
	if err != nil {
		return nil, err
	}
	if timeout != nil {
		timeout.URL = currentURL
		snap.Partial = true
		e.logger.Info("Continuing with partial snapshot.", zap.Error(timeout))
	}
	if stats.DroppedDuplicates > 0 || stats.DroppedOverLimit > 0 {
		e.logger.Debug("Dropped interactive elements.",
			zap.String("url", currentURL),
			zap.Int("duplicates", stats.DroppedDuplicates),
			zap.Int("over_limit", stats.DroppedOverLimit))
	}
	return snap, nil
}

// settle waits the fixed delay and then for network idle, each under its own
// bound. It returns a non-nil ExtractionTimeout if the idle wait ran out of time.
func (e *Extractor) settle(ctx context.Context, page schemas.BrowserPage) *ExtractionTimeout {
	if e.settleDelay > 0 {
		timer := time.NewTimer(e.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	timeout := e.settleTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	idleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.WaitIdle(idleCtx, 500*time.Millisecond); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(idleCtx.Err(), context.DeadlineExceeded) {
			return &ExtractionTimeout{Timeout: timeout}
		}
		e.logger.Debug("Network idle wait failed.", zap.Error(err))
	}
	return nil
}

// Extract builds a snapshot from raw markup.
func (e *Extractor) Extract(pageURL, title, markup string) (*schemas.PageSnapshot, Stats, error) {
	var stats Stats
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, stats, fmt.Errorf("failed to parse markup: %w", err)
	}

	// Descriptors are read before sanitization strips onclick and friends.
	elements := e.enumerate(doc, &stats)
	sanitize(doc)

	cleaned, err := renderMarkup(doc)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to render markup: %w", err)
	}
	cleaned, truncated := e.budget.Truncate(cleaned, e.cfg.MaxMarkupTokens)

	return &schemas.PageSnapshot{
		URL:                 pageURL,
		Title:               strings.TrimSpace(title),
		CleanedMarkup:       cleaned,
		InteractiveElements: elements,
		Timestamp:           e.now().UTC(),
		Truncated:           truncated || stats.DroppedOverLimit > 0,
	}, stats, nil
}

func (e *Extractor) enumerate(doc *html.Node, stats *Stats) []schemas.ElementDescriptor {
	seenNodes := make(map[*html.Node]struct{})
	seenKeys := make(map[[3]string]struct{})
	elements := make([]schemas.ElementDescriptor, 0, 32)

	for _, sel := range interactiveSelectors {
		walk(doc, func(n *html.Node) {
			if !sel.match(n) {
				return
			}
			if _, done := seenNodes[n]; done {
				return
			}
			seenNodes[n] = struct{}{}

			desc := e.describe(n)
			key := desc.DedupKey()
			if _, dup := seenKeys[key]; dup {
				stats.DroppedDuplicates++
				return
			}
			if e.cfg.MaxElements > 0 && len(elements) >= e.cfg.MaxElements {
				stats.DroppedOverLimit++
				return
			}
			seenKeys[key] = struct{}{}
			desc.Index = len(elements)
			elements = append(elements, desc)
		})
	}
	return elements
}

func (e *Extractor) describe(n *html.Node) schemas.ElementDescriptor {
	get := func(k string) string {
		v, _ := attr(n, k)
		return strings.TrimSpace(v)
	}
	d := schemas.ElementDescriptor{
		Tag:         n.Data,
		ID:          get("id"),
		Class:       get("class"),
		Type:        strings.ToLower(get("type")),
		Name:        get("name"),
		Href:        get("href"),
		Placeholder: get("placeholder"),
		Value:       get("value"),
		Role:        get("role"),
		AriaLabel:   get("aria-label"),
	}
	if isScriptURL(d.Href) {
		d.Href = ""
	}

	text := innerText(n)
	if n.Data == "input" && text == "" {
		switch d.Type {
		case "submit", "button", "reset":
			text = d.Value
		}
	}
	d.Text = truncateRunes(text, e.cfg.MaxElementText)
	d.Value = truncateRunes(d.Value, e.cfg.MaxElementText)
	return d
}
