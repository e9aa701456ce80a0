package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"maestro/internal/domain"
)

const agentColumns = `id,name,type,specialization,status,capabilities_json,created_at`

// UpsertAgent seeds or refreshes one registry entry.
func (r Repo) UpsertAgent(ctx context.Context, a domain.Agent) error {
	var caps any
	if len(a.Capabilities) > 0 {
		data, err := json.Marshal(a.Capabilities)
		if err != nil {
			return err
		}
		caps = string(data)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agents(`+agentColumns+`) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, specialization=excluded.specialization, capabilities_json=excluded.capabilities_json`,
		a.ID, a.Name, a.Type, a.Specialization, a.Status, caps, a.CreatedAt)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	a, err := scanAgent(r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY type ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var a domain.Agent
	var capsJSON sql.NullString
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Specialization, &a.Status, &capsJSON, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	if capsJSON.Valid && capsJSON.String != "" {
		_ = json.Unmarshal([]byte(capsJSON.String), &a.Capabilities)
	}
	return a, nil
}
