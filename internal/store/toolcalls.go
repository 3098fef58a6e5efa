// ABOUTME: Tool-call ledger append and query methods
// ABOUTME: Records each dispatched tool call and lists them newest first

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// tsLayout is fixed width so stored timestamps order lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// RecordToolCall appends a record. ID and CreatedAt are generated when unset.
func (s *SQLiteStore) RecordToolCall(ctx context.Context, rec *ToolCallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tool_calls (id, call_id, user_key, tool, arguments, success, lead_id, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.CallID,
		rec.UserKey,
		rec.Tool,
		rec.Arguments,
		rec.Success,
		nullable(rec.LeadID),
		nullable(rec.Error),
		rec.Duration.Milliseconds(),
		rec.CreatedAt.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting tool call: %w", err)
	}

	s.logger.Debug("recorded tool call", "id", rec.ID, "tool", rec.Tool, "user", rec.UserKey, "success", rec.Success)
	return nil
}

// GetToolCall returns a record by id.
func (s *SQLiteStore) GetToolCall(ctx context.Context, id string) (*ToolCallRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, call_id, user_key, tool, arguments, success, lead_id, error, duration_ms, created_at
		FROM tool_calls WHERE id = ?
	`, id)
	rec, err := scanToolCall(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

const toolCallsQuery = `
	SELECT id, call_id, user_key, tool, arguments, success, lead_id, error, duration_ms, created_at
	FROM tool_calls
	WHERE (? IS NULL OR user_key = ?)
	  AND (? IS NULL OR tool = ?)
	  AND (? IS NULL OR created_at >= ?)
	  AND (? = 0 OR success = 1)
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?
`

// ListToolCalls returns records matching the filter, newest first.
func (s *SQLiteStore) ListToolCalls(ctx context.Context, f ToolCallFilter) ([]*ToolCallRecord, error) {
	var since *string
	if f.Since != nil {
		v := f.Since.UTC().Format(tsLayout)
		since = &v
	}

	rows, err := s.db.QueryContext(ctx, toolCallsQuery,
		f.UserKey, f.UserKey,
		f.Tool, f.Tool,
		since, since,
		f.SuccessOnly,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying tool calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	recs := []*ToolCallRecord{}
	for rows.Next() {
		rec, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool calls: %w", err)
	}
	return recs, nil
}

// normalizeLimit applies default (100) and cap (1000).
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

func scanToolCall(scanner interface{ Scan(dest ...any) error }) (*ToolCallRecord, error) {
	var (
		rec        ToolCallRecord
		leadID     sql.NullString
		errText    sql.NullString
		durationMS int64
		createdAt  string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.CallID,
		&rec.UserKey,
		&rec.Tool,
		&rec.Arguments,
		&rec.Success,
		&leadID,
		&errText,
		&durationMS,
		&createdAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning tool call: %w", err)
	}

	rec.LeadID = leadID.String
	rec.Error = errText.String
	rec.Duration = time.Duration(durationMS) * time.Millisecond

	var err error
	rec.CreatedAt, err = time.Parse(tsLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetToolCallStats counts tool calls, optionally since a point in time.
func (s *SQLiteStore) GetToolCallStats(ctx context.Context, since *time.Time) (*ToolCallStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(success), 0) as succeeded,
			COUNT(lead_id) as leads
		FROM tool_calls
		WHERE 1=1
	`
	args := []any{}
	if since != nil {
		query += " AND created_at >= ?"
		args = append(args, since.UTC().Format(tsLayout))
	}

	var stats ToolCallStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.Succeeded, &stats.Leads)
	if err != nil {
		return nil, fmt.Errorf("querying tool call stats: %w", err)
	}
	return &stats, nil
}
