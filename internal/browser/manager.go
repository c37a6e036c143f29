// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/config"
)

const (
	chromeStartTimeout  = 60 * time.Second
	shutdownGracePeriod = 10 * time.Second
)

// ErrManagerClosed is returned by NewSession after Shutdown.
var ErrManagerClosed = errors.New("browser manager is shut down")

// driver launches one browser process and opens isolated pages on it.
type driver interface {
	Name() string
	Start(ctx context.Context) error
	NewPage(ctx context.Context) (schemas.BrowserPage, error)
	Stop(ctx context.Context) error
}

// Manager owns the browser process and hands out isolated sessions. It keeps
// track of live sessions only; a released session is forgotten.
type Manager struct {
	logger *zap.Logger
	driver driver

	initMu  sync.Mutex
	running bool
	initErr error

	mu       sync.Mutex
	sessions map[string]*Handle
	closed   bool
	wg       sync.WaitGroup
}

var _ schemas.SessionProvider = (*Manager)(nil)

// NewManager picks the driver named by cfg.Browser.Driver. The browser itself
// starts lazily on the first NewSession.
func NewManager(cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	logger = logger.Named("browser_manager")
	var d driver
	switch strings.ToLower(cfg.Browser.Driver) {
	case "", config.DriverChromedp:
		d = newChromeDriver(cfg, logger)
	case config.DriverPlaywright:
		d = newPlaywrightDriver(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Browser.Driver)
	}
	return newManager(d, logger), nil
}

func newManager(d driver, logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger,
		driver:   d,
		sessions: make(map[string]*Handle),
	}
}

// Driver reports which automation backend is in use.
func (m *Manager) Driver() string { return m.driver.Name() }

// initialize starts the browser once. A launch failure is kept for later
// sessions unless it came from the caller's context ending, in which case the
// next session tries again.
func (m *Manager) initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.running || m.initErr != nil {
		return m.initErr
	}

	m.logger.Info("Launching browser...", zap.String("driver", m.driver.Name()))
	if err := m.driver.Start(ctx); err != nil {
		err = fmt.Errorf("failed to start %s browser: %w", m.driver.Name(), err)
		if ctx.Err() != nil {
			m.logger.Warn("Browser launch abandoned by caller.", zap.Error(err))
			return err
		}
		m.initErr = err
		return err
	}
	m.running = true
	return nil
}

// NewSession opens a fresh browser context with a single page.
func (m *Manager) NewSession(ctx context.Context) (schemas.BrowserSession, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.initialize(ctx); err != nil {
		m.wg.Done()
		return nil, err
	}

	page, err := m.driver.NewPage(ctx)
	if err != nil {
		m.wg.Done()
		return nil, fmt.Errorf("failed to create browser session: %w", err)
	}

	h := &Handle{id: uuid.NewString(), page: page}
	h.onRelease = func() {
		m.mu.Lock()
		delete(m.sessions, h.id)
		m.mu.Unlock()
		m.wg.Done()
	}

	m.mu.Lock()
	m.sessions[h.id] = h
	m.mu.Unlock()

	m.logger.Debug("Browser session opened.", zap.String("session_id", h.id))
	return h, nil
}

// Active returns the number of sessions not yet released.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown releases any live sessions, waits for them within ctx and stops the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	live := make([]*Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		live = append(live, h)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down browser manager.", zap.Int("live_sessions", len(live)))
	for _, h := range live {
		go func(h *Handle) {
			if err := h.Release(ctx); err != nil {
				m.logger.Warn("Error releasing session during shutdown.", zap.String("session_id", h.ID()), zap.Error(err))
			}
		}(h)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	}

	if !m.isRunning() {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := m.driver.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop browser: %w", err)
	}
	m.logger.Info("Browser stopped.")
	return nil
}

func (m *Manager) isRunning() bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.running
}

// -- Session Handle --

// Handle is a live browser session. Release closes its page exactly once.
type Handle struct {
	id        string
	page      schemas.BrowserPage
	onRelease func()

	once sync.Once
	err  error
}

var _ schemas.BrowserSession = (*Handle)(nil)

func (h *Handle) ID() string                { return h.id }
func (h *Handle) Page() schemas.BrowserPage { return h.page }

func (h *Handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		h.err = h.page.Close(ctx)
		if h.onRelease != nil {
			h.onRelease()
		}
	})
	return h.err
}

// -- Chrome Driver --

type chromeDriver struct {
	cfg    *config.Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func newChromeDriver(cfg *config.Config, logger *zap.Logger) *chromeDriver {
	return &chromeDriver{cfg: cfg, logger: logger.Named("chromedp")}
}

func (d *chromeDriver) Name() string { return config.DriverChromedp }

// Start launches Chrome. The first Run on a browser context binds the process
// to that context, so it runs on browserCtx and ctx only bounds the wait.
func (d *chromeDriver) Start(ctx context.Context) error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(d.cfg.Browser)...)
	sugar := d.logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(browserCtx) }()

	waitCtx, cancel := context.WithTimeout(ctx, chromeStartTimeout)
	defer cancel()

	var err error
	select {
	case err = <-errCh:
	case <-waitCtx.Done():
		err = waitCtx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to launch chrome: %w", err)
	}

	d.allocCancel, d.browserCtx, d.browserCancel = allocCancel, browserCtx, browserCancel
	d.logger.Info("Browser launched.")
	return nil
}

func (d *chromeDriver) NewPage(ctx context.Context) (schemas.BrowserPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(d.browserCtx, chromedp.WithNewBrowserContext())
	page, err := newChromePage(tabCtx, tabCancel, d.cfg.Network.Headers, d.logger)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (d *chromeDriver) Stop(context.Context) error {
	if d.browserCancel == nil {
		return nil
	}
	err := chromedp.Cancel(d.browserCtx)
	d.browserCancel()
	d.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
