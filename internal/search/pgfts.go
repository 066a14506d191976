package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across items and item_history using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultItem {
		itemWhere := "i.fts @@ " + tsQuery + " AND NOT i.is_deleted"
		if q.FilterProjectID != "" {
			itemWhere += fmt.Sprintf(" AND i.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'item'::text AS type, i.id::text, i.title,
				ts_headline('english', coalesce(i.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				i.full_id AS item_full_id, i.project_id,
				0 AS version,
				ts_rank(i.fts, %s) AS rank
			FROM items i
			WHERE %s`, tsQuery, tsQuery, itemWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultHistory {
		historyWhere := "h.fts @@ " + tsQuery
		if q.FilterProjectID != "" {
			historyWhere += fmt.Sprintf(" AND h.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'history'::text AS type, h.id::text, h.item_title AS title,
				ts_headline('english', coalesce(h.submit_reason, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				h.item_full_id, h.project_id,
				h.version,
				ts_rank(h.fts, %s) AS rank
			FROM item_history h
			WHERE %s`, tsQuery, tsQuery, historyWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, item_full_id, project_id, version
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ItemFullID, &r.ProjectID, &r.Version); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ItemRecord, []HistoryRecord, error) {
	itemRows, err := p.db.QueryContext(ctx, `
		SELECT id, full_id, title, content, project_id, is_deleted
		FROM items
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load items: %w", err)
	}
	defer itemRows.Close()

	items := make([]ItemRecord, 0)
	for itemRows.Next() {
		var item ItemRecord
		var id int64
		if err := itemRows.Scan(&id, &item.FullID, &item.Title, &item.Content, &item.ProjectID, &item.IsDeleted); err != nil {
			return nil, nil, fmt.Errorf("scan item: %w", err)
		}
		item.ID = ItemDocID(id)
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate items: %w", err)
	}

	historyRows, err := p.db.QueryContext(ctx, `
		SELECT id, item_full_id, item_title, submit_reason, review_note, change_type, version, project_id
		FROM item_history
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	defer historyRows.Close()

	entries := make([]HistoryRecord, 0)
	for historyRows.Next() {
		var h HistoryRecord
		var id int64
		if err := historyRows.Scan(&id, &h.ItemFullID, &h.ItemTitle, &h.SubmitReason, &h.ReviewNote, &h.ChangeType, &h.Version, &h.ProjectID); err != nil {
			return nil, nil, fmt.Errorf("scan history: %w", err)
		}
		h.ID = HistoryDocID(id)
		entries = append(entries, h)
	}
	if err := historyRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate history: %w", err)
	}

	return items, entries, nil
}
