// internal/reporting/builder.go
package reporting

import (
	"context"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
)

const summaryTimeout = 45 * time.Second

// SessionData is everything a finished session hands to the builder.
type SessionData struct {
	SessionID   string
	TargetURL   string
	Goal        string
	Mode        string
	StartedAt   time.Time
	FinishedAt  time.Time
	State       schemas.TerminalState
	FinalURL    string
	FatalError  string
	Records     []schemas.ActionRecord
	Visited     []string
	Screenshots map[string]string
	Snapshots   []schemas.PageSnapshot
}

// Summarizer writes free-text recommendations from the failed actions of a session.
type Summarizer interface {
	Summarize(ctx context.Context, goal string, failures []schemas.ActionRecord) (string, error)
}

// Builder assembles SessionReports.
type Builder struct {
	classifier Classifier
	summarizer Summarizer
	logger     *zap.Logger
}

// NewBuilder creates a builder. A nil classifier uses the heuristic one and a
// nil summarizer disables recommendations.
func NewBuilder(classifier Classifier, summarizer Summarizer, logger *zap.Logger) *Builder {
	if classifier == nil {
		classifier = NewHeuristicClassifier()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{classifier: classifier, summarizer: summarizer, logger: logger.Named("report_builder")}
}

// Build produces the report for a session. It never fails; a failed summary
// simply leaves the recommendations empty.
func (b *Builder) Build(ctx context.Context, data SessionData) *schemas.SessionReport {
	records := slices.Clone(data.Records)
	if records == nil {
		records = []schemas.ActionRecord{}
	}
	visited := slices.Clone(data.Visited)
	if visited == nil {
		visited = []string{}
	}

	report := &schemas.SessionReport{
		SessionID:     data.SessionID,
		TargetURL:     data.TargetURL,
		Goal:          data.Goal,
		Mode:          data.Mode,
		StartedAt:     data.StartedAt,
		FinishedAt:    data.FinishedAt,
		TerminalState: data.State,
		FinalURL:      data.FinalURL,
		Summary:       Summarize(records, len(visited)),
		VisitedPages:  visited,
		ActionHistory: records,
		Screenshots:   data.Screenshots,
		Snapshots:     data.Snapshots,
		FatalError:    data.FatalError,
	}
	report.Findings = b.classifier.Classify(report)
	if report.Findings == nil {
		report.Findings = []schemas.Finding{}
	}

	failures := failedRecords(records)
	if b.summarizer != nil && len(failures) > 0 {
		sumCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
		defer cancel()
		text, err := b.summarizer.Summarize(sumCtx, data.Goal, failures)
		if err != nil {
			b.logger.Warn("Could not generate recommendations.", zap.String("session_id", data.SessionID), zap.Error(err))
		} else {
			report.Recommendations = text
		}
	}
	return report
}

// Summarize computes the aggregate counts. The success rate is nil when no
// actions were recorded.
func Summarize(records []schemas.ActionRecord, pagesVisited int) schemas.ReportSummary {
	s := schemas.ReportSummary{TotalActions: len(records), PagesVisited: pagesVisited}
	for _, r := range records {
		if r.Success {
			s.SuccessfulActions++
		}
	}
	s.FailedActions = s.TotalActions - s.SuccessfulActions
	if s.TotalActions > 0 {
		rate := int(math.Round(float64(s.SuccessfulActions) / float64(s.TotalActions) * 100))
		s.SuccessRate = &rate
	}
	return s
}

func failedRecords(records []schemas.ActionRecord) []schemas.ActionRecord {
	var out []schemas.ActionRecord
	for _, r := range records {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}
