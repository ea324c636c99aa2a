package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// taskVector must stay identical to the expression of nodes_task_fts_idx.
const taskVector = `to_tsvector('simple',
		coalesce(value->>'title', '') || ' ' ||
		coalesce(value->>'description', '') || ' ' ||
		coalesce(value->>'instructions', '') || ' ' ||
		coalesce(value->>'themes', ''))`

// PgFTS searches task rows of the nodes table with PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := fmt.Sprintf("parent = 'tasks' AND %s @@ plainto_tsquery('simple', $1)", taskVector)
	args := []any{q.Text}
	if q.OwnerID != "" {
		where += " AND value->>'ownerId' = $2"
		args = append(args, q.OwnerID)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM nodes WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT substr(path, length('tasks/') + 1),
			coalesce(value->>'title', ''),
			ts_headline('simple', coalesce(value->>'description', ''), plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30'),
			coalesce(value->>'dueDate', ''),
			coalesce(value->>'ownerId', '')
		FROM nodes
		WHERE %s
		ORDER BY ts_rank(%s, plainto_tsquery('simple', $1)) DESC
		LIMIT %d OFFSET %d`, where, taskVector, normalizeLimit(q.Limit), offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.DueDate, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
