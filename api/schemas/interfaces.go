// api/schemas/interfaces.go
package schemas

import (
	"context"
	"errors"
	"time"
)

// -- Browser Capability --

var (
	// ErrPageClosed is returned by a BrowserPage once its underlying tab or
	// context is gone. A session cannot continue after seeing it.
	ErrPageClosed = errors.New("browser page closed")
	// ErrElementNotFound is returned when a selector matches nothing.
	ErrElementNotFound = errors.New("no element found for selector")
)

// BrowserPage is the browser automation capability a session drives. It is
// implemented by the chromedp and playwright drivers in internal/browser.
type BrowserPage interface {
	// Navigate loads url and returns the final URL after redirects.
	Navigate(ctx context.Context, url string, timeout time.Duration) (string, error)
	// Evaluate runs script in the page and decodes the result into out (which may be nil).
	Evaluate(ctx context.Context, script string, out interface{}) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	// Screenshot captures the page, writes it to path when non-empty, and returns the PNG bytes.
	Screenshot(ctx context.Context, path string) ([]byte, error)
	Content(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// WaitIdle blocks until the network has been quiet for quiet, or ctx expires.
	WaitIdle(ctx context.Context, quiet time.Duration) error
	Close(ctx context.Context) error
}

// -- Reasoning Oracle Capability --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions controls sampling and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
}

// GenerationRequest is a complete request to the oracle.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts an LLM provider behind a single completion call.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// -- Session Capability --

// BrowserSession is one isolated browser context with a single page. The
// holder owns it and must call Release exactly once.
type BrowserSession interface {
	ID() string
	Page() BrowserPage
	Release(ctx context.Context) error
}

// SessionProvider hands out isolated browser sessions.
type SessionProvider interface {
	NewSession(ctx context.Context) (BrowserSession, error)
}
