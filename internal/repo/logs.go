package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"maestro/internal/domain"
)

const logColumns = `id,session_id,sequence,ts,event_type,content_json,token_count,cost_cents,meta_json`

func (r Repo) InsertInteractionLog(ctx context.Context, l domain.InteractionLog) error {
	content, err := json.Marshal(l.Content)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO interaction_logs(`+logColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.ID, l.SessionID, l.Sequence, l.Timestamp, l.EventType, string(content),
		nullableIntPtr(l.TokenCount), nullableIntPtr(l.CostCents), marshalMeta(l.Meta))
	return err
}

// ListInteractionLogs returns a session's log ordered by sequence.
func (r Repo) ListInteractionLogs(ctx context.Context, sessionID string) ([]domain.InteractionLog, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+logColumns+` FROM interaction_logs WHERE session_id=? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InteractionLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// CountInteractionLogs returns the number of entries for a session.
func (r Repo) CountInteractionLogs(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM interaction_logs WHERE session_id=?`, sessionID).Scan(&n)
	return n, err
}

func scanLog(row rowScanner) (domain.InteractionLog, error) {
	var l domain.InteractionLog
	var contentJSON string
	var tokenCount, costCents sql.NullInt64
	var metaJSON sql.NullString
	err := row.Scan(&l.ID, &l.SessionID, &l.Sequence, &l.Timestamp, &l.EventType,
		&contentJSON, &tokenCount, &costCents, &metaJSON)
	if err != nil {
		return l, err
	}
	if contentJSON != "" {
		_ = json.Unmarshal([]byte(contentJSON), &l.Content)
	}
	if tokenCount.Valid {
		v := int(tokenCount.Int64)
		l.TokenCount = &v
	}
	if costCents.Valid {
		v := int(costCents.Int64)
		l.CostCents = &v
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &l.Meta)
	}
	return l, nil
}
