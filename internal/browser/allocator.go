// internal/browser/allocator.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/webprobe/internal/config"
)

const (
	defaultViewportWidth  = 1366
	defaultViewportHeight = 900
)

// flag is a single command line switch handed to Chrome.
type flag struct {
	Name  string
	Value interface{}
}

// launchFlags is the Chrome command line derived from cfg. Custom args from
// the config are appended last so they override the defaults.
func launchFlags(cfg config.BrowserConfig) []flag {
	w, h := viewport(cfg)
	flags := []flag{
		{"headless", cfg.Headless},
		{"disable-gpu", true},
		{"no-sandbox", true},
		{"disable-dev-shm-usage", true},
		{"enable-automation", true},
		{"no-first-run", true},
		{"no-default-browser-check", true},
		{"mute-audio", true},
		{"window-size", fmt.Sprintf("%d,%d", w, h)},
	}
	if cfg.DisableCache {
		flags = append(flags, flag{"disk-cache-size", "1"}, flag{"disable-application-cache", true})
	}
	if cfg.IgnoreTLSErrors {
		flags = append(flags, flag{"ignore-certificate-errors", true}, flag{"allow-insecure-localhost", true})
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags = append(flags, flag{key, value})
		} else {
			flags = append(flags, flag{key, true})
		}
	}
	return flags
}

// DefaultAllocatorOptions builds the chromedp exec allocator options for cfg.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	flags := launchFlags(cfg)
	opts := make([]chromedp.ExecAllocatorOption, 0, len(flags))
	for _, f := range flags {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	return opts
}

// playwrightArgs renders the same switches as command line arguments, minus
// the ones playwright manages itself.
func playwrightArgs(cfg config.BrowserConfig) []string {
	var args []string
	for _, f := range launchFlags(cfg) {
		switch f.Name {
		case "headless", "enable-automation", "window-size":
			continue
		}
		switch v := f.Value.(type) {
		case bool:
			if v {
				args = append(args, "--"+f.Name)
			}
		default:
			args = append(args, fmt.Sprintf("--%s=%v", f.Name, v))
		}
	}
	return args
}

func viewport(cfg config.BrowserConfig) (int, int) {
	w, h := cfg.Viewport["width"], cfg.Viewport["height"]
	if w <= 0 {
		w = defaultViewportWidth
	}
	if h <= 0 {
		h = defaultViewportHeight
	}
	return w, h
}
