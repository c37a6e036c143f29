// api/schemas/records.go
package schemas

import (
	"strconv"
	"time"
)

// ActionRecord is an immutable log entry for one executed (or failed) action.
type ActionRecord struct {
	Timestamp  time.Time    `json:"timestamp"`
	Step       int          `json:"step"`
	Action     DecisionKind `json:"action"`
	Target     string       `json:"target,omitempty"`
	Reasoning  string       `json:"reasoning,omitempty"`
	Confidence Confidence   `json:"confidence"`
	Success    bool         `json:"success"`
	Error      string       `json:"error,omitempty"`
	ErrorCode  string       `json:"errorCode,omitempty"`
	// Strategy names the resolver strategy that produced the successful attempt.
	Strategy string `json:"strategy,omitempty"`
	// URL is the page URL observed after the action completed.
	URL string `json:"url,omitempty"`
}

// TerminalState is the state a session ends in.
type TerminalState string

const (
	StateComplete        TerminalState = "COMPLETE"
	StateMaxStepsReached TerminalState = "MAX_STEPS_REACHED"
	StateFatalError      TerminalState = "FATAL_ERROR"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityInfo   Severity = "info"
)

// FindingCategory groups findings produced by the heuristic classifier.
type FindingCategory string

const (
	CategoryError      FindingCategory = "error"
	CategoryNavigation FindingCategory = "navigation"
	CategoryResolution FindingCategory = "resolution"
	CategoryOracle     FindingCategory = "oracle"
	CategoryContent    FindingCategory = "content"
)

// Finding is an issue surfaced while exploring a site.
type Finding struct {
	Category FindingCategory `json:"category"`
	Severity Severity        `json:"severity"`
	Title    string          `json:"title"`
	Detail   string          `json:"detail,omitempty"`
	URL      string          `json:"url,omitempty"`
	Step     int             `json:"step,omitempty"`
}

// ReportSummary holds the aggregate counts of a session.
type ReportSummary struct {
	TotalActions      int `json:"totalActions"`
	SuccessfulActions int `json:"successfulActions"`
	FailedActions     int `json:"failedActions"`
	PagesVisited      int `json:"pagesVisited"`
	// SuccessRate is a percentage rounded to the nearest integer. Nil means not
	// applicable (no actions were recorded).
	SuccessRate *int `json:"successRate"`
}

// SessionReport is built once, when a session reaches a terminal state.
type SessionReport struct {
	SessionID       string            `json:"sessionId"`
	TargetURL       string            `json:"targetUrl"`
	Goal            string            `json:"goal,omitempty"`
	Mode            string            `json:"mode"`
	StartedAt       time.Time         `json:"startedAt"`
	FinishedAt      time.Time         `json:"finishedAt"`
	TerminalState   TerminalState     `json:"terminalState"`
	FinalURL        string            `json:"finalUrl,omitempty"`
	Summary         ReportSummary     `json:"summary"`
	VisitedPages    []string          `json:"visitedPages"`
	ActionHistory   []ActionRecord    `json:"actionHistory"`
	Findings        []Finding         `json:"findings"`
	Recommendations string            `json:"recommendations,omitempty"`
	Screenshots     map[string]string `json:"screenshots,omitempty"`
	Snapshots       []PageSnapshot    `json:"snapshots,omitempty"`
	FatalError      string            `json:"fatalError,omitempty"`
}

// SuccessRateText renders the success rate for human readable output.
func (s ReportSummary) SuccessRateText() string {
	if s.SuccessRate == nil {
		return "N/A"
	}
	return strconv.Itoa(*s.SuccessRate) + "%"
}
