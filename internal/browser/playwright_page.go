// internal/browser/playwright_page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/json-iterator/go"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/config"
)

const (
	playwrightInstallTimeout = 5 * time.Minute
	playwrightLaunchTimeout  = 60 * time.Second
	// playwright treats a zero timeout as "wait forever".
	minPlaywrightTimeout = time.Millisecond
)

// -- Driver --

type playwrightDriver struct {
	cfg    *config.Config
	logger *zap.Logger

	pw      *playwright.Playwright
	browser playwright.Browser
}

func newPlaywrightDriver(cfg *config.Config, logger *zap.Logger) *playwrightDriver {
	return &playwrightDriver{cfg: cfg, logger: logger.Named("playwright")}
}

func (d *playwrightDriver) Name() string { return config.DriverPlaywright }

func (d *playwrightDriver) Start(ctx context.Context) error {
	if d.cfg.Browser.InstallPlaywright {
		if err := d.ensureInstallation(ctx); err != nil {
			return err
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright driver: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.cfg.Browser.Headless),
		Args:     playwrightArgs(d.cfg.Browser),
		Timeout:  playwright.Float(float64(playwrightLaunchTimeout.Milliseconds())),
	})
	if err != nil {
		if stopErr := pw.Stop(); stopErr != nil {
			d.logger.Warn("Failed to stop playwright after launch failure.", zap.Error(stopErr))
		}
		return fmt.Errorf("failed to launch browser instance: %w", err)
	}

	d.pw, d.browser = pw, browser
	d.logger.Info("Browser launched.", zap.String("browser_version", browser.Version()))
	return nil
}

func (d *playwrightDriver) ensureInstallation(ctx context.Context) error {
	d.logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			errCh <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func (d *playwrightDriver) NewPage(ctx context.Context) (schemas.BrowserPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := viewport(d.cfg.Browser)
	opts := playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: w, Height: h},
		IgnoreHttpsErrors: playwright.Bool(d.cfg.Browser.IgnoreTLSErrors),
	}
	if len(d.cfg.Network.Headers) > 0 {
		opts.ExtraHttpHeaders = d.cfg.Network.Headers
	}

	bctx, err := d.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return newPlaywrightPage(bctx, page, d.logger), nil
}

func (d *playwrightDriver) Stop(context.Context) error {
	var errs []error
	if d.browser != nil {
		if err := d.browser.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
	}
	return errors.Join(errs...)
}

// -- Page --

// PlaywrightPage drives one playwright page in its own browser context.
type PlaywrightPage struct {
	bctx   playwright.BrowserContext
	page   playwright.Page
	logger *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

var _ schemas.BrowserPage = (*PlaywrightPage)(nil)

func newPlaywrightPage(bctx playwright.BrowserContext, page playwright.Page, logger *zap.Logger) *PlaywrightPage {
	p := &PlaywrightPage{bctx: bctx, page: page, logger: logger}
	page.OnClose(func(playwright.Page) { p.closed.Store(true) })
	page.OnCrash(func(playwright.Page) {
		logger.Warn("Page crashed.")
		p.closed.Store(true)
	})
	return p
}

// timeout converts the remaining budget of ctx, capped by limit, into playwright milliseconds.
func timeout(ctx context.Context, limit time.Duration) *float64 {
	d := limit
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); d <= 0 || remaining < d {
			d = remaining
		}
	}
	if d < minPlaywrightTimeout {
		d = minPlaywrightTimeout
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *PlaywrightPage) check(ctx context.Context) error {
	if p.closed.Load() {
		return schemas.ErrPageClosed
	}
	return ctx.Err()
}

func (p *PlaywrightPage) mapErr(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case p.closed.Load() || errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %v", schemas.ErrPageClosed, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (p *PlaywrightPage) Navigate(ctx context.Context, url string, limit time.Duration) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   timeout(ctx, limit),
	})
	if err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, p.mapErr(ctx, err))
	}
	return p.page.URL(), nil
}

// WaitIdle waits for playwright's own network idle heuristic; quiet only bounds
// how long a caller without a deadline is prepared to wait.
func (p *PlaywrightPage) WaitIdle(ctx context.Context, quiet time.Duration) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: timeout(ctx, 0),
	})
	return p.mapErr(ctx, err)
}

func (p *PlaywrightPage) Evaluate(ctx context.Context, script string, out interface{}) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	v, err := p.page.Evaluate(script)
	if err != nil {
		return p.mapErr(ctx, err)
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode evaluation result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode evaluation result: %w", err)
	}
	return nil
}

func (p *PlaywrightPage) first(ctx context.Context, selector string) (playwright.Locator, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	loc := p.page.Locator(selector)
	n, err := loc.Count()
	if err != nil {
		return nil, p.mapErr(ctx, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
	}
	return loc.First(), nil
}

func (p *PlaywrightPage) Click(ctx context.Context, selector string) error {
	loc, err := p.first(ctx, selector)
	if err != nil {
		return err
	}
	return p.mapErr(ctx, loc.Click(playwright.LocatorClickOptions{Timeout: timeout(ctx, 0)}))
}

func (p *PlaywrightPage) Fill(ctx context.Context, selector, value string) error {
	loc, err := p.first(ctx, selector)
	if err != nil {
		return err
	}
	tag, err := loc.Evaluate("el => el.tagName", nil)
	if err != nil {
		return p.mapErr(ctx, err)
	}
	if name, _ := tag.(string); strings.EqualFold(name, "select") {
		_, err = loc.SelectOption(playwright.SelectOptionValues{Values: &[]string{value}},
			playwright.LocatorSelectOptionOptions{Timeout: timeout(ctx, 0)})
		return p.mapErr(ctx, err)
	}
	return p.mapErr(ctx, loc.Fill(value, playwright.LocatorFillOptions{Timeout: timeout(ctx, 0)}))
}

func (p *PlaywrightPage) Screenshot(ctx context.Context, path string) ([]byte, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	opts := playwright.PageScreenshotOptions{FullPage: playwright.Bool(true), Timeout: timeout(ctx, 0)}
	if path != "" {
		opts.Path = playwright.String(path)
	}
	buf, err := p.page.Screenshot(opts)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", p.mapErr(ctx, err))
	}
	return buf, nil
}

func (p *PlaywrightPage) Content(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	html, err := p.page.Content()
	return html, p.mapErr(ctx, err)
}

func (p *PlaywrightPage) URL(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.page.URL(), nil
}

func (p *PlaywrightPage) Title(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	title, err := p.page.Title()
	return title, p.mapErr(ctx, err)
}

func (p *PlaywrightPage) Close(context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if perr := p.page.Close(); perr != nil && !errors.Is(perr, playwright.ErrTargetClosed) {
			err = perr
		}
		if cerr := p.bctx.Close(); cerr != nil && !errors.Is(cerr, playwright.ErrTargetClosed) {
			err = errors.Join(err, cerr)
		}
	})
	return err
}
