// File: internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/agent"
	"github.com/xkilldash9x/webprobe/internal/store"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleRunTest runs one session synchronously and answers once its report is written.
func (s *Server) handleRunTest(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		s.respondWithError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.TestID == "" {
		req.TestID = uuid.NewString()
	}
	mode := strings.ToLower(req.Options.Mode)
	if mode != "" && mode != agent.ModeExplore && mode != agent.ModeCrawl {
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Options.Mode))
		return
	}
	if req.Options.KeepOpen {
		switch err := s.canHold(req.TestID); {
		case errors.Is(err, errTestHeld):
			s.respondWithError(w, http.StatusConflict, fmt.Sprintf("test %s already holds an open session", req.TestID))
			return
		case errors.Is(err, errHoldLimit):
			s.respondWithError(w, http.StatusTooManyRequests, "too many sessions held open, release one first")
			return
		}
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.respondWithError(w, http.StatusServiceUnavailable, "no free session slot")
		return
	}

	logger := s.logger.With(zap.String("test_id", req.TestID))
	logger.Info("Test started.", zap.String("url", req.URL), zap.String("mode", mode))

	out, err := s.runner.Execute(ctx, mode, agent.Options{
		TargetURL: req.URL,
		Goal:      req.Options.Goal,
		MaxSteps:  req.Options.MaxSteps,
		MaxPages:  req.Options.MaxPages,
		KeepOpen:  req.Options.KeepOpen,
	})

	resp := TestResponse{TestID: req.TestID, TimeStamp: time.Now().UTC().Format(time.RFC3339)}
	if out == nil || out.Result == nil || out.Report == nil {
		resp.Message = fmt.Sprintf("session failed to start: %v", err)
		logger.Warn("Test failed to start.", zap.Error(err))
		status := http.StatusBadGateway
		var fatal *agent.FatalInitError
		if errors.As(err, &fatal) && fatal.Stage == "options" {
			status = http.StatusBadRequest
		}
		s.respond(w, status, resp)
		return
	}

	report := out.Report
	resp.Success = out.Succeeded() && err == nil
	resp.FinalURL = report.FinalURL
	resp.SessionID = report.SessionID
	resp.TerminalState = string(report.TerminalState)
	resp.SuccessRate = report.Summary.SuccessRateText()
	resp.ReportPath = out.Artifacts.JSON
	resp.Message = fmt.Sprintf("session ended in %s after %d actions", report.TerminalState, report.Summary.TotalActions)
	if err != nil {
		resp.Message = fmt.Sprintf("%s; %v", resp.Message, err)
	}

	if out.Session != nil {
		if err := s.hold(req.TestID, out.Session); err == nil {
			resp.KeptOpen = true
		} else {
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			_ = out.Session.Release(relCtx)
			cancel()
			resp.Message += "; session released, " + err.Error()
		}
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *Server) handleReleaseTest(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testId")
	s.mu.Lock()
	sess, ok := s.held[testID]
	delete(s.held, testID)
	s.mu.Unlock()

	if !ok {
		s.respondWithError(w, http.StatusNotFound, fmt.Sprintf("no open session for test %s", testID))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), releaseTimeout)
	defer cancel()
	if err := sess.Release(ctx); err != nil {
		s.logger.Warn("Release reported an error.", zap.String("test_id", testID), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "report store is not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.reports.ListSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list sessions.", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if rows == nil {
		rows = []store.SessionRow{}
	}
	s.respond(w, http.StatusOK, rows)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "report store is not configured")
		return
	}
	report, err := s.reports.GetReport(r.Context(), chi.URLParam(r, "sessionId"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.respondWithError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("Failed to load report.", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "failed to load report")
	default:
		s.respond(w, http.StatusOK, report)
	}
}

// -- Held Sessions --

var (
	errTestHeld  = errors.New("test id already holds a session")
	errHoldLimit = errors.New("held session limit reached")
)

func (s *Server) canHold(testID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canHoldLocked(testID)
}

func (s *Server) canHoldLocked(testID string) error {
	if _, taken := s.held[testID]; taken {
		return errTestHeld
	}
	if len(s.held) >= s.maxHeld {
		return errHoldLimit
	}
	return nil
}

// hold parks a kept-open session under testID. Requests racing for the same
// id or the last free place are checked again here.
func (s *Server) hold(testID string, sess schemas.BrowserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.canHoldLocked(testID); err != nil {
		return err
	}
	s.held[testID] = sess
	s.logger.Info("Browser session kept open.", zap.String("test_id", testID), zap.String("browser_session", sess.ID()))
	return nil
}

// -- Responses --

func (s *Server) respondWithError(w http.ResponseWriter, status int, message string) {
	s.respond(w, status, ErrorResponse{Success: false, Message: message})
}

func (s *Server) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
