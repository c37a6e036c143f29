// internal/browser/chromedp_page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
)

// screenshotQuality 100 makes chromedp emit PNG rather than JPEG.
const screenshotQuality = 100

// ChromePage drives one chromedp tab in its own browser context.
type ChromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tracker *networkTracker
	logger  *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

var _ schemas.BrowserPage = (*ChromePage)(nil)

// newChromePage attaches to the tab behind tabCtx, which must come from
// chromedp.NewContext. The page owns cancel.
func newChromePage(tabCtx context.Context, cancel context.CancelFunc, headers map[string]string, logger *zap.Logger) (*ChromePage, error) {
	p := &ChromePage{
		ctx:     tabCtx,
		cancel:  cancel,
		tracker: newNetworkTracker(logger),
		logger:  logger,
		closed:  make(chan struct{}),
	}

	// The first Run creates the target.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	chromedp.ListenTarget(tabCtx, p.tracker.handle)

	actions := chromedp.Tasks{network.Enable()}
	if len(headers) > 0 {
		h := make(network.Headers, len(headers))
		for k, v := range headers {
			h[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(h))
	}
	if err := chromedp.Run(tabCtx, actions); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to prepare tab: %w", err)
	}
	return p, nil
}

// run executes actions on the tab, bounded by the caller's ctx.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	select {
	case <-p.closed:
		return schemas.ErrPageClosed
	default:
	}
	if p.tracker.isGone() {
		return schemas.ErrPageClosed
	}
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	return p.mapErr(ctx, chromedp.Run(runCtx, actions...))
}

// mapErr translates chromedp failures into the page-level sentinels.
func (p *ChromePage) mapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if p.ctx.Err() != nil || p.tracker.isGone() || isTargetGone(err) {
		return fmt.Errorf("%w: %v", schemas.ErrPageClosed, err)
	}
	// chromedp reports the combined context's cancellation; surface the caller's reason.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func isTargetGone(err error) bool {
	if errors.Is(err, chromedp.ErrInvalidContext) || errors.Is(err, chromedp.ErrChannelClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "no target with given id") ||
		strings.Contains(msg, "session with given id not found")
}

// -- Navigation --

func (p *ChromePage) Navigate(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var final string
	if err := p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&final),
	); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	return final, nil
}

func (p *ChromePage) WaitIdle(ctx context.Context, quiet time.Duration) error {
	if p.tracker.isGone() {
		return schemas.ErrPageClosed
	}
	return p.tracker.WaitIdle(ctx, quiet)
}

// -- Interaction --

func (p *ChromePage) Evaluate(ctx context.Context, script string, out interface{}) error {
	if out == nil {
		// Raw bytes accept any result, including undefined.
		var raw []byte
		out = &raw
	}
	return p.run(ctx, chromedp.Evaluate(script, out))
}

// firstNode returns the first node matching selector, or ErrElementNotFound.
func (p *ChromePage) firstNode(ctx context.Context, selector string) (*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
	}
	return nodes[0], nil
}

func (p *ChromePage) Click(ctx context.Context, selector string) error {
	node, err := p.firstNode(ctx, selector)
	if err != nil {
		return err
	}
	ids := []cdp.NodeID{node.NodeID}
	return p.run(ctx,
		chromedp.ScrollIntoView(ids, chromedp.ByNodeID),
		chromedp.WaitVisible(ids, chromedp.ByNodeID),
		chromedp.Click(ids, chromedp.ByNodeID),
	)
}

func (p *ChromePage) Fill(ctx context.Context, selector, value string) error {
	node, err := p.firstNode(ctx, selector)
	if err != nil {
		return err
	}
	ids := []cdp.NodeID{node.NodeID}
	if strings.EqualFold(node.NodeName, "select") {
		return p.run(ctx, chromedp.SetValue(ids, value, chromedp.ByNodeID))
	}
	return p.run(ctx,
		chromedp.ScrollIntoView(ids, chromedp.ByNodeID),
		chromedp.Clear(ids, chromedp.ByNodeID),
		chromedp.SendKeys(ids, value, chromedp.ByNodeID),
	)
}

// -- Inspection --

func (p *ChromePage) Screenshot(ctx context.Context, path string) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	if path != "" {
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			return buf, fmt.Errorf("write screenshot: %w", err)
		}
	}
	return buf, nil
}

func (p *ChromePage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *ChromePage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

func (p *ChromePage) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

// Close shuts the tab and disposes of its browser context.
func (p *ChromePage) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		if cerr := chromedp.Cancel(p.ctx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = cerr
			p.logger.Debug("Tab did not close cleanly.", zap.Error(cerr))
		}
		p.cancel()
	})
	return err
}
