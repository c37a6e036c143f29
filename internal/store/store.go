package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
)

// ErrNotFound is returned when no session exists for an id.
var ErrNotFound = errors.New("session not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the tables the store writes to. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id                 TEXT PRIMARY KEY,
    target_url         TEXT NOT NULL,
    goal               TEXT NOT NULL DEFAULT '',
    mode               TEXT NOT NULL,
    started_at         TIMESTAMPTZ NOT NULL,
    finished_at        TIMESTAMPTZ NOT NULL,
    terminal_state     TEXT NOT NULL,
    final_url          TEXT NOT NULL DEFAULT '',
    total_actions      INTEGER NOT NULL,
    successful_actions INTEGER NOT NULL,
    pages_visited      INTEGER NOT NULL,
    success_rate       INTEGER,
    report             JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS session_actions (
    session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    step        INTEGER NOT NULL,
    action      TEXT NOT NULL,
    target      TEXT NOT NULL DEFAULT '',
    reasoning   TEXT NOT NULL DEFAULT '',
    confidence  TEXT NOT NULL DEFAULT '',
    success     BOOLEAN NOT NULL,
    error_code  TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    strategy    TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    observed_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS session_findings (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    category   TEXT NOT NULL,
    severity   TEXT NOT NULL,
    title      TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    url        TEXT NOT NULL DEFAULT '',
    step       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS session_actions_session_idx ON session_actions (session_id, step);
`

const (
	sqlUpsertSession = `
        INSERT INTO sessions (id, target_url, goal, mode, started_at, finished_at, terminal_state, final_url,
                              total_actions, successful_actions, pages_visited, success_rate, report)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (id) DO UPDATE SET
            finished_at = EXCLUDED.finished_at,
            terminal_state = EXCLUDED.terminal_state,
            final_url = EXCLUDED.final_url,
            total_actions = EXCLUDED.total_actions,
            successful_actions = EXCLUDED.successful_actions,
            pages_visited = EXCLUDED.pages_visited,
            success_rate = EXCLUDED.success_rate,
            report = EXCLUDED.report;
    `
	sqlDeleteActions  = `DELETE FROM session_actions WHERE session_id = $1;`
	sqlDeleteFindings = `DELETE FROM session_findings WHERE session_id = $1;`
	sqlSelectReport   = `SELECT report FROM sessions WHERE id = $1;`
	sqlListSessions   = `
        SELECT id, target_url, mode, terminal_state, started_at, finished_at, success_rate
        FROM sessions
        ORDER BY started_at DESC
        LIMIT $1;
    `
)

var (
	actionColumns  = []string{"session_id", "step", "action", "target", "reasoning", "confidence", "success", "error_code", "error", "strategy", "url", "observed_at"}
	findingColumns = []string{"session_id", "category", "severity", "title", "detail", "url", "step"}
)

// SessionRow is the listing view of a stored session.
type SessionRow struct {
	ID            string                `json:"sessionId"`
	TargetURL     string                `json:"targetUrl"`
	Mode          string                `json:"mode"`
	TerminalState schemas.TerminalState `json:"terminalState"`
	StartedAt     time.Time             `json:"startedAt"`
	FinishedAt    time.Time             `json:"finishedAt"`
	SuccessRate   *int                  `json:"successRate"`
}

// Store persists session reports to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the report tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveReport writes the session row, its action history and findings in one
// transaction. Saving the same session again replaces the earlier rows.
func (s *Store) SaveReport(ctx context.Context, report *schemas.SessionReport) error {
	if report == nil || report.SessionID == "" {
		return errors.New("report has no session id")
	}
	doc, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	sum := report.Summary
	if _, err := tx.Exec(ctx, sqlUpsertSession,
		report.SessionID, report.TargetURL, report.Goal, report.Mode,
		report.StartedAt.UTC(), report.FinishedAt.UTC(), string(report.TerminalState), report.FinalURL,
		sum.TotalActions, sum.SuccessfulActions, sum.PagesVisited, sum.SuccessRate,
		string(doc),
	); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	for _, q := range []string{sqlDeleteActions, sqlDeleteFindings} {
		if _, err := tx.Exec(ctx, q, report.SessionID); err != nil {
			return fmt.Errorf("failed to clear previous rows: %w", err)
		}
	}

	if err := s.copyActions(ctx, tx, report.SessionID, report.ActionHistory); err != nil {
		return err
	}
	if err := s.copyFindings(ctx, tx, report.SessionID, report.Findings); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Session report stored.",
		zap.String("session_id", report.SessionID),
		zap.Int("actions", len(report.ActionHistory)),
		zap.Int("findings", len(report.Findings)))
	return nil
}

func (s *Store) copyActions(ctx context.Context, tx pgx.Tx, sessionID string, records []schemas.ActionRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(records))
	for i, r := range records {
		rows[i] = []interface{}{
			sessionID, r.Step, string(r.Action), r.Target, r.Reasoning, string(r.Confidence),
			r.Success, r.ErrorCode, r.Error, r.Strategy, r.URL, r.Timestamp.UTC(),
		}
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"session_actions"}, actionColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy actions: %w", err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("mismatch in copied actions count: expected %d, got %d", len(records), n)
	}
	return nil
}

func (s *Store) copyFindings(ctx context.Context, tx pgx.Tx, sessionID string, findings []schemas.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		rows[i] = []interface{}{sessionID, string(f.Category), string(f.Severity), f.Title, f.Detail, f.URL, f.Step}
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"session_findings"}, findingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(n) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), n)
	}
	return nil
}

// GetReport loads the full report stored for sessionID.
func (s *Store) GetReport(ctx context.Context, sessionID string) (*schemas.SessionReport, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx, sqlSelectReport, sessionID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	var report schemas.SessionReport
	if err := json.Unmarshal(doc, &report); err != nil {
		return nil, fmt.Errorf("failed to decode stored report: %w", err)
	}
	return &report, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, sqlListSessions, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var state string
		if err := rows.Scan(&r.ID, &r.TargetURL, &r.Mode, &state, &r.StartedAt, &r.FinishedAt, &r.SuccessRate); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		r.TerminalState = schemas.TerminalState(state)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
