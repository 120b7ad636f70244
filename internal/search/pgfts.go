package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches the generated tsvector column on documents. It is the
// fallback whenever Meilisearch is missing or unhealthy.
type PgFTS struct {
	db *sql.DB
}

// searchSQL ranks the caller's matches and carries the full match count on
// every row, so a page past the end reports a zero total.
const searchSQL = `
	WITH q AS (SELECT plainto_tsquery('english', $1) AS query)
	SELECT d.id, d.title,
		ts_headline('english', d.content_text, q.query,
			'StartSel=<mark>,StopSel=</mark>,MaxFragments=1,MaxWords=30'),
		EXTRACT(EPOCH FROM d.updated_at)::bigint,
		count(*) OVER ()
	FROM documents d, q
	WHERE d.user_id = $2 AND d.fts @@ q.query
	ORDER BY ts_rank(d.fts, q.query) DESC, d.updated_at DESC
	LIMIT $3 OFFSET $4
`

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.UserID == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := p.db.QueryContext(ctx, searchSQL, q.Text, q.UserID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		total   int
	)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.UpdatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every document for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, title, content_text, EXTRACT(EPOCH FROM updated_at)::bigint
		FROM documents
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &d.Body, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}
