package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"maestro/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const sessionColumns = `id,user_id,agent_id,initial_query,final_output,status,start_time,end_time,duration_seconds,cost_cents,meta_json`

func (r Repo) InsertSession(ctx context.Context, s domain.Session) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions(`+sessionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, nullableStringPtr(s.UserID), s.AgentID, s.InitialQuery, nullableStringPtr(s.FinalOutput),
		s.Status, s.StartTime, nullableStringPtr(s.EndTime), nullableIntPtr(s.DurationSeconds),
		nullableIntPtr(s.CostCents), marshalMeta(s.Meta))
	return err
}

// UpdateSessionStatus moves a session to a non-terminal status.
func (r Repo) UpdateSessionStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE sessions SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteSession records the terminal state of a session. EndTime and
// status move together so the terminal invariant holds in the store.
func (r Repo) CompleteSession(ctx context.Context, id, status string, finalOutput *string, endTime string, durationSeconds int, costCents *int) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET status=?, final_output=?, end_time=?, duration_seconds=?, cost_cents=? WHERE id=?`,
		status, nullableStringPtr(finalOutput), endTime, durationSeconds, nullableIntPtr(costCents), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSessionMeta replaces the meta map, used to flag degraded persistence.
func (r Repo) SetSessionMeta(ctx context.Context, id string, meta map[string]string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE sessions SET meta_json=? WHERE id=?`, marshalMeta(meta), id)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
}

type SessionFilters struct {
	AgentID string
	Status  string
	Limit   int
}

// ListSessions returns sessions newest first.
func (r Repo) ListSessions(ctx context.Context, f SessionFilters) ([]domain.Session, error) {
	var clauses []string
	var args []any
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions ` + where + ` ORDER BY start_time DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (domain.Session, error) {
	s, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func scanSessionRow(row rowScanner) (domain.Session, error) {
	var s domain.Session
	var userID, finalOutput, endTime, metaJSON sql.NullString
	var duration, cost sql.NullInt64
	err := row.Scan(&s.ID, &userID, &s.AgentID, &s.InitialQuery, &finalOutput, &s.Status,
		&s.StartTime, &endTime, &duration, &cost, &metaJSON)
	if err != nil {
		return s, err
	}
	if userID.Valid {
		s.UserID = &userID.String
	}
	if finalOutput.Valid {
		s.FinalOutput = &finalOutput.String
	}
	if endTime.Valid {
		s.EndTime = &endTime.String
	}
	if duration.Valid {
		d := int(duration.Int64)
		s.DurationSeconds = &d
	}
	if cost.Valid {
		c := int(cost.Int64)
		s.CostCents = &c
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &s.Meta)
	}
	return s, nil
}

func marshalMeta(meta map[string]string) any {
	if len(meta) == 0 {
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return string(data)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
