// File: internal/server/types.go
package server

// TestOptions tune a session started over HTTP. Zero values take the configured defaults.
type TestOptions struct {
	MaxSteps int    `json:"maxSteps,omitempty"`
	MaxPages int    `json:"maxPages,omitempty"`
	Goal     string `json:"goal,omitempty"`
	// Mode is "explore" (default) or "crawl".
	Mode string `json:"mode,omitempty"`
	// KeepOpen keeps the browser session alive until DELETE /api/tests/{testId}.
	KeepOpen bool `json:"keepOpen,omitempty"`
}

// TestRequest is the body of POST /api/tests.
type TestRequest struct {
	TestID  string      `json:"testId"`
	URL     string      `json:"url"`
	Options TestOptions `json:"options"`
}

// TestResponse is returned for every POST /api/tests, including failures.
type TestResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	FinalURL      string `json:"finalUrl,omitempty"`
	TimeStamp     string `json:"timeStamp"`
	TestID        string `json:"testId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	TerminalState string `json:"terminalState,omitempty"`
	SuccessRate   string `json:"successRate,omitempty"`
	ReportPath    string `json:"reportPath,omitempty"`
	KeptOpen      bool   `json:"keptOpen,omitempty"`
}

// ErrorResponse is the body of non-test error replies.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
