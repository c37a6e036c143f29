// internal/agent/models.go
package agent

import (
	"time"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/config"
)

// Exploration modes.
const (
	ModeExplore = "explore"
	ModeCrawl   = "crawl"
)

// Options tune one session. Zero values take the configured defaults.
type Options struct {
	TargetURL string
	Goal      string
	MaxSteps  int
	MaxPages  int
	StepDelay time.Duration
	// StepDelaySet distinguishes an explicit zero delay from "use the default".
	StepDelaySet bool
	// KeepOpen hands the live browser session back in Result.Session instead of releasing it.
	KeepOpen bool
}

func (o Options) withDefaults(cfg config.ExplorerConfig) Options {
	if o.Goal == "" {
		o.Goal = cfg.Goal
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = cfg.MaxSteps
	}
	if o.MaxPages <= 0 {
		o.MaxPages = cfg.MaxPages
	}
	if !o.StepDelaySet && o.StepDelay == 0 {
		o.StepDelay = cfg.StepDelay
	}
	return o
}

// Result is what a finished session hands back.
type Result struct {
	Report *schemas.SessionReport
	// Dir is the per-session output directory holding screenshots.
	Dir string
	// Session is only set when Options.KeepOpen was requested. The caller owns Release.
	Session schemas.BrowserSession
}
