// internal/reporting/classifier.go
package reporting

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/webprobe/api/schemas"
)

// Classifier derives findings from a built report.
type Classifier interface {
	Classify(report *schemas.SessionReport) []schemas.Finding
}

// codeRule maps a recorded error code onto a finding.
type codeRule struct {
	category schemas.FindingCategory
	severity schemas.Severity
	title    string
}

// HeuristicClassifier turns failed records, oracle observations and fatal
// errors into findings using fixed rules and keyword matching.
type HeuristicClassifier struct {
	codes        map[string]codeRule
	observation  *regexp.Regexp
	httpFailure  *regexp.Regexp
	parseFailure string
}

var _ Classifier = (*HeuristicClassifier)(nil)

func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{
		codes: map[string]codeRule{
			"NAVIGATION_ERROR":  {schemas.CategoryNavigation, schemas.SeverityHigh, "Page failed to load"},
			"TIMEOUT_ERROR":     {schemas.CategoryError, schemas.SeverityMedium, "Page or element did not respond in time"},
			"ELEMENT_NOT_FOUND": {schemas.CategoryResolution, schemas.SeverityLow, "Element could not be located"},
			"UNRESOLVED_TARGET": {schemas.CategoryResolution, schemas.SeverityLow, "Action target could not be resolved"},
			"EXECUTOR_PANIC":    {schemas.CategoryError, schemas.SeverityHigh, "Action execution crashed"},
			"EXTRACTION_FAILED": {schemas.CategoryError, schemas.SeverityMedium, "Page content could not be read"},
			"PAGE_CLOSED":       {schemas.CategoryError, schemas.SeverityHigh, "Browser page closed unexpectedly"},
			"OUT_OF_SCOPE":      {schemas.CategoryNavigation, schemas.SeverityInfo, "Link leaves the site"},
		},
		observation:  regexp.MustCompile(`(?i)\b(broken|error|crash(ed|es)?|blank page|not found|doesn'?t work|does not work|unexpected|inconsistent|confusing|missing|dead link|unresponsive)\b`),
		httpFailure:  regexp.MustCompile(`(?i)\b(404|500|502|503)\b|net::err_[a-z_]+`),
		parseFailure: "<parse failure:",
	}
}

// Classify returns findings in step order with duplicates (same category,
// title and URL) folded together.
func (c *HeuristicClassifier) Classify(report *schemas.SessionReport) []schemas.Finding {
	var findings []schemas.Finding
	seen := make(map[string]int)
	add := func(f schemas.Finding) {
		key := string(f.Category) + "|" + f.Title + "|" + f.URL
		if i, ok := seen[key]; ok {
			if rank(f.Severity) > rank(findings[i].Severity) {
				findings[i].Severity = f.Severity
			}
			return
		}
		seen[key] = len(findings)
		findings = append(findings, f)
	}

	for _, r := range report.ActionHistory {
		if strings.HasPrefix(r.Reasoning, c.parseFailure) {
			add(schemas.Finding{
				Category: schemas.CategoryOracle,
				Severity: schemas.SeverityInfo,
				Title:    "Oracle reply was unusable",
				Detail:   r.Reasoning,
				Step:     r.Step,
			})
		}
		if !r.Success {
			rule, ok := c.codes[r.ErrorCode]
			if !ok {
				continue
			}
			severity := rule.severity
			if c.httpFailure.MatchString(r.Error) {
				severity = schemas.SeverityHigh
			}
			add(schemas.Finding{
				Category: rule.category,
				Severity: severity,
				Title:    rule.title,
				Detail:   fmt.Sprintf("%s %q: %s", r.Action, r.Target, r.Error),
				URL:      findingURL(r),
				Step:     r.Step,
			})
			continue
		}
		if m := c.observation.FindString(r.Reasoning); m != "" {
			add(schemas.Finding{
				Category: schemas.CategoryContent,
				Severity: schemas.SeverityLow,
				Title:    "Tester noted a possible problem (" + strings.ToLower(m) + ")",
				Detail:   r.Reasoning,
				URL:      r.URL,
				Step:     r.Step,
			})
		}
	}

	if report.FatalError != "" {
		add(schemas.Finding{
			Category: schemas.CategoryError,
			Severity: schemas.SeverityHigh,
			Title:    "Session aborted",
			Detail:   report.FatalError,
			URL:      report.FinalURL,
		})
	}
	return findings
}

func findingURL(r schemas.ActionRecord) string {
	if r.Action == schemas.KindNavigate && r.Target != "" {
		return r.Target
	}
	return r.URL
}

func rank(s schemas.Severity) int {
	switch s {
	case schemas.SeverityHigh:
		return 3
	case schemas.SeverityMedium:
		return 2
	case schemas.SeverityLow:
		return 1
	}
	return 0
}
