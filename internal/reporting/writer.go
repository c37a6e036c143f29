// internal/reporting/writer.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webprobe/api/schemas"
)

const (
	// ScreenshotDir is the screenshot folder inside a session directory.
	ScreenshotDir = "screenshots"
	JSONFile      = "report.json"
	MarkdownFile  = "report.md"

	sessionDirLayout = "20060102-150405.000"
	maxSlugLen       = 80
)

var slugSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// SessionDir is the per-session output directory, keyed by start time. The
// session ID prefix keeps concurrent sessions started in the same
// millisecond apart.
func SessionDir(outputDir string, startedAt time.Time, sessionID string) string {
	name := startedAt.UTC().Format(sessionDirLayout)
	if len(sessionID) >= 8 {
		name += "-" + sessionID[:8]
	}
	return filepath.Join(outputDir, name)
}

// ScreenshotName derives a stable, filesystem safe file name from a page URL.
func ScreenshotName(pageURL string) string {
	slug := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		slug = u.Host + u.Path
	}
	slug = strings.Trim(slugSanitizer.ReplaceAllString(slug, "_"), "_")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	if slug == "" {
		slug = "page"
	}
	sum := sha1.Sum([]byte(pageURL))
	return fmt.Sprintf("%s-%s.png", slug, hex.EncodeToString(sum[:])[:8])
}

// Artifacts are the files written for one report.
type Artifacts struct {
	Dir      string
	JSON     string
	Markdown string
}

// Writer persists reports as JSON and Markdown.
type Writer struct {
	logger *zap.Logger
}

func NewWriter(logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{logger: logger.Named("report_writer")}
}

// Persist writes report.json and report.md into dir, creating it if needed.
func (w *Writer) Persist(report *schemas.SessionReport, dir string) (Artifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}
	out := Artifacts{
		Dir:      dir,
		JSON:     filepath.Join(dir, JSONFile),
		Markdown: filepath.Join(dir, MarkdownFile),
	}

	var g errgroup.Group
	g.Go(func() error {
		data, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		return writeFile(out.JSON, data)
	})
	g.Go(func() error {
		return writeFile(out.Markdown, []byte(RenderMarkdown(report)))
	})
	if err := g.Wait(); err != nil {
		return Artifacts{}, err
	}

	w.logger.Info("Report written.", zap.String("session_id", report.SessionID), zap.String("dir", dir))
	return out, nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// -- Markdown --

// RenderMarkdown renders the human readable form of a report.
func RenderMarkdown(r *schemas.SessionReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Exploration report: %s\n\n", r.TargetURL)
	fmt.Fprintf(&b, "- Session: `%s`\n", r.SessionID)
	fmt.Fprintf(&b, "- Mode: %s\n", r.Mode)
	if r.Goal != "" {
		fmt.Fprintf(&b, "- Goal: %s\n", r.Goal)
	}
	fmt.Fprintf(&b, "- Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "- Outcome: **%s**\n", r.TerminalState)
	if r.FinalURL != "" {
		fmt.Fprintf(&b, "- Final URL: %s\n", r.FinalURL)
	}
	if r.FatalError != "" {
		fmt.Fprintf(&b, "- Fatal error: %s\n", r.FatalError)
	}

	s := r.Summary
	b.WriteString("\n## Summary\n\n| Actions | Successful | Failed | Success rate | Pages visited |\n|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %s | %d |\n", s.TotalActions, s.SuccessfulActions, s.FailedActions, s.SuccessRateText(), s.PagesVisited)

	if len(r.Findings) > 0 {
		b.WriteString("\n## Findings\n\n")
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "- **[%s] %s** (%s)", f.Severity, f.Title, f.Category)
			if f.URL != "" {
				fmt.Fprintf(&b, " at %s", f.URL)
			}
			if f.Step > 0 {
				fmt.Fprintf(&b, ", step %d", f.Step)
			}
			b.WriteString("\n")
			if f.Detail != "" {
				fmt.Fprintf(&b, "  - %s\n", oneLine(f.Detail))
			}
		}
	}

	if r.Recommendations != "" {
		fmt.Fprintf(&b, "\n## Recommendations\n\n%s\n", r.Recommendations)
	}

	b.WriteString("\n## Visited pages\n\n")
	for i, page := range r.VisitedPages {
		fmt.Fprintf(&b, "%d. %s", i+1, page)
		if shot, ok := r.Screenshots[page]; ok {
			fmt.Fprintf(&b, " ([screenshot](%s))", shot)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Actions\n\n| Step | Action | Target | Result | Strategy | Reasoning |\n|---|---|---|---|---|---|\n")
	for _, a := range r.ActionHistory {
		result := "ok"
		if !a.Success {
			result = "failed"
			if a.ErrorCode != "" {
				result += " (" + a.ErrorCode + ")"
			}
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
			a.Step, a.Action, cell(a.Target), result, cell(a.Strategy), cell(a.Reasoning))
	}

	var extra []string
	for key, shot := range r.Screenshots {
		if !slices.Contains(r.VisitedPages, key) {
			extra = append(extra, fmt.Sprintf("- %s: ![%s](%s)", key, key, shot))
		}
	}
	if len(extra) > 0 {
		slices.Sort(extra)
		b.WriteString("\n## Diagnostic screenshots\n\n")
		b.WriteString(strings.Join(extra, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cell(s string) string {
	s = oneLine(s)
	if len(s) > 160 {
		s = s[:157] + "..."
	}
	return strings.ReplaceAll(s, "|", `\|`)
}
