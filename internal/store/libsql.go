package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/graphflow/pkg/schema"
)

// MemoryDSN keeps the libSQL database inside the process.
const MemoryDSN = "file::memory:"

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
// Run states round-trip through JSON, so numbers come back as float64.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at dsn, e.g. "file:/path/to/db.db"
// or MemoryDSN. Call Migrate before use.
func NewLibSQLStore(dsn string) (*LibSQLStore, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	// One connection: an in-memory database exists per connection, and
	// libSQL serializes writers anyway.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Runs ---

func (s *LibSQLStore) PutRun(ctx context.Context, r *schema.RunResult) error {
	if r == nil || r.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run result has no run id")
	}

	state, err := marshalMapOrDefault(r.FinalState)
	if err != nil {
		return storeErr("marshal final_state", err)
	}
	trace := []byte("[]")
	if len(r.Trace) > 0 {
		if trace, err = json.Marshal(r.Trace); err != nil {
			return storeErr("marshal trace", err)
		}
	}
	var runErr any
	if r.Error != nil {
		b, err := json.Marshal(r.Error)
		if err != nil {
			return storeErr("marshal error", err)
		}
		runErr = string(b)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, graph_id, status, current_node, final_state, trace, error, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   status=excluded.status, current_node=excluded.current_node, final_state=excluded.final_state,
		   trace=excluded.trace, error=excluded.error, started_at=excluded.started_at,
		   completed_at=excluded.completed_at, updated_at=excluded.updated_at`,
		r.RunID, r.GraphID, string(r.Status), nullStr(r.CurrentNode), string(state), string(trace), runErr,
		timeOrNow(r.StartedAt), nullTime(r.CompletedAt), time.Now().UTC(),
	)
	if err != nil {
		return storeErr("put run", err)
	}
	return nil
}

const runColumns = `run_id, graph_id, status, current_node, final_state, trace, error, started_at, completed_at`

func (s *LibSQLStore) GetRun(ctx context.Context, runID string) (*schema.RunResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("run", runID)
	}
	if err != nil {
		return nil, storeErr("get run", err)
	}
	return r, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.RunResult, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var (
		where []string
		args  []any
	)
	if filter.GraphID != "" {
		where = append(where, "graph_id = ?")
		args = append(args, filter.GraphID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list runs", err)
	}
	defer rows.Close()

	out := []*schema.RunResult{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, storeErr("scan run", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*schema.RunResult, error) {
	var (
		r                    schema.RunResult
		status               string
		currentNode, errJSON sql.NullString
		stateJSON, traceJSON string
		completedAt          sql.NullTime
	)
	if err := row.Scan(&r.RunID, &r.GraphID, &status, &currentNode, &stateJSON, &traceJSON, &errJSON, &r.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	r.Status = schema.RunStatus(status)
	r.CurrentNode = currentNode.String
	if err := json.Unmarshal([]byte(stateJSON), &r.FinalState); err != nil {
		return nil, fmt.Errorf("unmarshal final_state: %w", err)
	}
	if err := json.Unmarshal([]byte(traceJSON), &r.Trace); err != nil {
		return nil, fmt.Errorf("unmarshal trace: %w", err)
	}
	if errJSON.Valid {
		r.Error = &schema.Error{}
		if err := json.Unmarshal([]byte(errJSON.String), r.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

// --- Events ---

// AppendEvent appends an event with the next per-run sequence. The single
// connection serializes writers, so the read-then-insert is race free.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin event tx", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq); err != nil {
		return storeErr("next event sequence", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (run_id, graph_id, node, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.GraphID), nullStr(event.Node), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return storeErr("insert event", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit event", err)
	}

	event.Sequence = seq
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence.
func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, graph_id, node, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`, runID, since)
	if err != nil {
		return nil, storeErr("get events", err)
	}
	defer rows.Close()

	out := []*Event{}
	for rows.Next() {
		var (
			e                      Event
			graphID, node, payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &graphID, &node, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, storeErr("scan event", err)
		}
		e.GraphID = graphID.String
		e.Node = node.String
		e.Payload = rawOrNil(payload)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	state, err := marshalMapOrDefault(job.InitialState)
	if err != nil {
		return storeErr("marshal initial_state", err)
	}
	tools, err := json.Marshal(nonNilStrings(job.Tools))
	if err != nil {
		return storeErr("marshal tools", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, graph_id, cron_expression, initial_state, tools, enabled, last_run_at, next_run_at, last_run_status, last_run_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.GraphID, job.CronExpression, string(state), string(tools), job.Enabled,
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), nullStr(job.LastRunID),
		timeOrNow(job.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID).WithCause(err)
		}
		return storeErr("create scheduled job", err)
	}
	return nil
}

const jobColumns = `id, graph_id, cron_expression, initial_state, tools, enabled, last_run_at, next_run_at, last_run_status, last_run_id, created_at`

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("scheduled job", id)
	}
	if err != nil {
		return nil, storeErr("get scheduled job", err)
	}
	return j, nil
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var (
		sets []string
		args []any
	)
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if update.LastRunID != "" {
		sets = append(sets, "last_run_id = ?")
		args = append(args, update.LastRunID)
	}
	if len(sets) == 0 {
		_, err := s.GetScheduledJob(ctx, id)
		return err
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return storeErr("update scheduled job", err)
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	var (
		where []string
		args  []any
	)
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.GraphID != "" {
		where = append(where, "graph_id = ?")
		args = append(args, filter.GraphID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list scheduled jobs", err)
	}
	defer rows.Close()

	out := []*ScheduledJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, storeErr("scan scheduled job", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete scheduled job", err)
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func scanJob(row rowScanner) (*ScheduledJob, error) {
	var (
		j                     ScheduledJob
		stateJSON, toolsJSON  string
		lastRunAt, nextRunAt  sql.NullTime
		lastStatus, lastRunID sql.NullString
	)
	if err := row.Scan(&j.ID, &j.GraphID, &j.CronExpression, &stateJSON, &toolsJSON, &j.Enabled,
		&lastRunAt, &nextRunAt, &lastStatus, &lastRunID, &j.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &j.InitialState); err != nil {
		return nil, fmt.Errorf("unmarshal initial_state: %w", err)
	}
	if err := json.Unmarshal([]byte(toolsJSON), &j.Tools); err != nil {
		return nil, fmt.Errorf("unmarshal tools: %w", err)
	}
	if len(j.Tools) == 0 {
		j.Tools = nil
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		j.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		j.NextRunAt = &t
	}
	j.LastRunStatus = lastStatus.String
	j.LastRunID = lastRunID.String
	return &j, nil
}

// --- helpers ---

func storeErr(op string, err error) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*LibSQLStore)(nil)
