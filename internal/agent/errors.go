// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/discovery"
	"github.com/xkilldash9x/webprobe/internal/snapshot"
)

// errVisitRefused marks a navigation the frontier would not admit.
var errVisitRefused = errors.New("visit refused")

// ErrorCode is recorded on failed ActionRecords so reports and the oracle can
// reason about failures without parsing messages.
type ErrorCode string

const (
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeExecutorPanic     ErrorCode = "EXECUTOR_PANIC"

	ErrCodeElementNotFound  ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeTimeoutError     ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigationError  ErrorCode = "NAVIGATION_ERROR"
	ErrCodeUnresolved       ErrorCode = "UNRESOLVED_TARGET"
	ErrCodeVisitRefused     ErrorCode = "VISIT_REFUSED"
	ErrCodeOutOfScope       ErrorCode = "OUT_OF_SCOPE"
	ErrCodeExtractionFailed ErrorCode = "EXTRACTION_FAILED"
	ErrCodePageClosed       ErrorCode = "PAGE_CLOSED"
)

// FatalInitError aborts a session during INIT. It is the only error Run returns.
type FatalInitError struct {
	Stage string
	URL   string
	Err   error
}

func (e *FatalInitError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("session init failed at %s (%s): %v", e.Stage, e.URL, e.Err)
	}
	return fmt.Sprintf("session init failed at %s: %v", e.Stage, e.Err)
}

func (e *FatalInitError) Unwrap() error { return e.Err }

// NavigationError reports a navigation that did not complete.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ExtractionTimeout is raised by the snapshot extractor and never ends a step.
type ExtractionTimeout = snapshot.ExtractionTimeout

// OracleParseError reports an oracle reply that could not be turned into a Decision.
type OracleParseError struct {
	Raw string
	Err error
}

func (e *OracleParseError) Error() string {
	return fmt.Sprintf("invalid oracle reply: %v", e.Err)
}

func (e *OracleParseError) Unwrap() error { return e.Err }

// ActionResolutionError reports a decision whose target no strategy could act on.
type ActionResolutionError struct {
	Action schemas.DecisionKind
	Target string
	Tried  []string
}

func (e *ActionResolutionError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("no strategy applies to %s target %q", e.Action, e.Target)
	}
	return fmt.Sprintf("could not resolve %s target %q (tried %s)", e.Action, e.Target, strings.Join(e.Tried, ", "))
}

// ClassifyError maps an execution error onto an ErrorCode, falling back to
// message heuristics for driver errors that carry no sentinel.
func ClassifyError(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var (
		navErr     *NavigationError
		resolveErr *ActionResolutionError
	)
	switch {
	case errors.Is(err, schemas.ErrPageClosed):
		return ErrCodePageClosed
	case errors.Is(err, errVisitRefused):
		return ErrCodeVisitRefused
	case errors.Is(err, discovery.ErrOutOfScope):
		return ErrCodeOutOfScope
	case errors.Is(err, schemas.ErrElementNotFound):
		return ErrCodeElementNotFound
	case errors.As(err, &resolveErr):
		return ErrCodeUnresolved
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeoutError
	case errors.As(err, &navErr):
		return ErrCodeNavigationError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no element found") || strings.Contains(msg, "selector"):
		return ErrCodeElementNotFound
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ErrCodeTimeoutError
	case strings.Contains(msg, "net::err"):
		return ErrCodeNavigationError
	}
	return ErrCodeExecutionFailure
}

// isFatal reports whether err means the session cannot continue.
func isFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return err != nil && errors.Is(err, schemas.ErrPageClosed)
}
