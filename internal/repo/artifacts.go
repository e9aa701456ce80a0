package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"maestro/internal/domain"
)

const artifactColumns = `id,session_id,artifact_type,title,content,file_path,ts,tags_json,meta_json`

func (r Repo) InsertArtifact(ctx context.Context, a domain.Artifact) error {
	var tags any
	if len(a.Tags) > 0 {
		data, err := json.Marshal(a.Tags)
		if err != nil {
			return err
		}
		tags = string(data)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO artifacts(`+artifactColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.SessionID, a.ArtifactType, a.Title, nullable(a.Content),
		nullableStringPtr(a.FilePath), a.Timestamp, tags, marshalMeta(a.Meta))
	return err
}

func (r Repo) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	a, err := scanArtifact(r.DB.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// ListArtifacts returns a session's artifacts oldest first.
func (r Repo) ListArtifacts(ctx context.Context, sessionID string) ([]domain.Artifact, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE session_id=? ORDER BY ts ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func scanArtifact(row rowScanner) (domain.Artifact, error) {
	var a domain.Artifact
	var content, filePath, tagsJSON, metaJSON sql.NullString
	err := row.Scan(&a.ID, &a.SessionID, &a.ArtifactType, &a.Title, &content,
		&filePath, &a.Timestamp, &tagsJSON, &metaJSON)
	if err != nil {
		return a, err
	}
	if content.Valid {
		a.Content = content.String
	}
	if filePath.Valid {
		a.FilePath = &filePath.String
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &a.Tags)
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &a.Meta)
	}
	return a, nil
}
