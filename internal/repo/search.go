package repo

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"maestro/internal/domain"
)

// Archive search bounds. Queries outside this range are rejected before any
// SQL runs.
const (
	SearchMinQueryLen = 3
	SearchMaxQueryLen = 500
)

var ErrSearchQueryLength = fmt.Errorf("search query length must be between %d and %d characters", SearchMinQueryLen, SearchMaxQueryLen)

// ArchiveResult groups full-text matches over finished sessions and their
// artifacts.
type ArchiveResult struct {
	Sessions  []domain.Session  `json:"sessions"`
	Artifacts []domain.Artifact `json:"artifacts"`
}

// escapeLike neutralizes SQL LIKE metacharacters so user input is always
// matched literally, never as a wildcard pattern.
func escapeLike(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(q)
}

// SearchArchive matches the query against session queries/outputs and
// artifact titles/contents.
func (r Repo) SearchArchive(ctx context.Context, query string, limit int) (ArchiveResult, error) {
	// Bounds are in characters, not bytes, so multibyte queries count fairly.
	if n := utf8.RuneCountInString(query); n < SearchMinQueryLen || n > SearchMaxQueryLen {
		return ArchiveResult{}, ErrSearchQueryLength
	}
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"

	var res ArchiveResult
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
WHERE initial_query LIKE ? ESCAPE '\' OR final_output LIKE ? ESCAPE '\'
ORDER BY start_time DESC, id DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return res, err
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return res, err
		}
		res.Sessions = append(res.Sessions, s)
	}
	if err := rows.Err(); err != nil {
		return res, err
	}

	arows, err := r.DB.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts
WHERE title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\'
ORDER BY ts DESC, id DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return res, err
	}
	defer arows.Close()
	for arows.Next() {
		a, err := scanArtifact(arows)
		if err != nil {
			return res, err
		}
		res.Artifacts = append(res.Artifacts, a)
	}
	return res, arows.Err()
}
