// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webprobe/api/schemas"
)

// Reporter writes finished session reports to a single output.
type Reporter interface {
	Write(report *schemas.SessionReport) error
	// Close releases the underlying output (e.g., the file handle).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("text", "json" or "markdown") writing to
// outputPath, or to stdout when outputPath is empty or "stdout".
func New(format, outputPath string) (Reporter, error) {
	var render func(io.Writer, *schemas.SessionReport) error
	switch format {
	case "text", "":
		render = renderText
	case "json":
		render = renderJSON
	case "markdown", "md":
		render = func(w io.Writer, r *schemas.SessionReport) error {
			_, err := io.WriteString(w, RenderMarkdown(r))
			return err
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return &streamReporter{w: writer, render: render}, nil
}

// NewWithWriter creates a reporter over an existing writer, which it does not close.
func NewWithWriter(format string, w io.Writer) (Reporter, error) {
	r, err := New(format, "stdout")
	if err != nil {
		return nil, err
	}
	r.(*streamReporter).w = &nopWriteCloser{w}
	return r, nil
}

type streamReporter struct {
	w      io.WriteCloser
	render func(io.Writer, *schemas.SessionReport) error
}

func (s *streamReporter) Write(report *schemas.SessionReport) error {
	if err := s.render(s.w, report); err != nil {
		return fmt.Errorf("failed to write report %s: %w", report.SessionID, err)
	}
	return nil
}

func (s *streamReporter) Close() error {
	return s.w.Close()
}

func renderJSON(w io.Writer, r *schemas.SessionReport) error {
	enc := json.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func renderText(w io.Writer, r *schemas.SessionReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\nSession %s (%s) ended in %s\n", r.SessionID, r.Mode, r.TerminalState)
	fmt.Fprintf(&b, "  Target:       %s\n", r.TargetURL)
	if r.FinalURL != "" {
		fmt.Fprintf(&b, "  Final URL:    %s\n", r.FinalURL)
	}
	fmt.Fprintf(&b, "  Pages:        %d\n", r.Summary.PagesVisited)
	fmt.Fprintf(&b, "  Actions:      %d (%d ok, %d failed)\n", r.Summary.TotalActions, r.Summary.SuccessfulActions, r.Summary.FailedActions)
	fmt.Fprintf(&b, "  Success rate: %s\n", r.Summary.SuccessRateText())
	fmt.Fprintf(&b, "  Findings:     %d\n", len(r.Findings))
	if r.FatalError != "" {
		fmt.Fprintf(&b, "  Fatal error:  %s\n", r.FatalError)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
