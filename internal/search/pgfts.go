package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Engine over the generated entries.fts column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

func (p *PgFTS) Name() string {
	return "postgres"
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const entryTagsJSON = `
	COALESCE((
		SELECT json_agg(t.name ORDER BY t.name)
		FROM entries_tags et
		JOIN tags t ON t.id = et.tag_id
		WHERE et.entry_id = e.id
	), '[]'::json)`

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.UserID == "" {
		return nil, 0, nil
	}

	tsQuery := "plainto_tsquery('english', $2)"
	where := "e.user_id = $1 AND e.fts @@ " + tsQuery
	args := []any{q.UserID, q.Text}
	if q.Tag != "" {
		where += ` AND EXISTS (
			SELECT 1 FROM entries_tags et
			JOIN tags t ON t.id = et.tag_id
			WHERE et.entry_id = e.id AND t.name = $3)`
		args = append(args, q.Tag)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM entries e WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT e.id, e.title,
			ts_headline('english', e.content, %s, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>'),
			e.created_at,
			%s
		FROM entries e
		WHERE %s
		ORDER BY ts_rank(e.fts, %s) DESC, e.created_at DESC
		LIMIT %d OFFSET %d`,
		tsQuery, entryTagsJSON, where, tsQuery, q.Limit, q.Offset,
	), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r       Result
			rawTags []byte
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.CreatedAt, &rawTags); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if err := json.Unmarshal(rawTags, &r.Tags); err != nil {
			return nil, 0, fmt.Errorf("pgfts decode tags: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every entry with its tags for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]EntryRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT e.id, e.user_id, e.title, e.content, e.created_at, `+entryTagsJSON+`
		FROM entries e
		ORDER BY e.user_id, e.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	records := make([]EntryRecord, 0)
	for rows.Next() {
		var (
			rec       EntryRecord
			createdAt time.Time
			rawTags   []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Content, &createdAt, &rawTags); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal(rawTags, &rec.Tags); err != nil {
			return nil, fmt.Errorf("decode entry tags: %w", err)
		}
		rec.CreatedAt = createdAt.Unix()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return records, nil
}
