package store

import (
	"context"
	"database/sql"
	"fmt"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the entry, tag and link accessors. The same methods run
// against the pool or inside a transaction depending on what it wraps.
type Queries struct {
	q queryer
}

const entryColumns = `id, user_id, title, content, created_at`

const tagColumns = `id, user_id, name, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var item Entry
	if err := row.Scan(&item.ID, &item.UserID, &item.Title, &item.Content, &item.CreatedAt); err != nil {
		return Entry{}, err
	}
	return item, nil
}

func scanTag(row scanner) (Tag, error) {
	var item Tag
	if err := row.Scan(&item.ID, &item.UserID, &item.Name, &item.CreatedAt); err != nil {
		return Tag{}, err
	}
	return item, nil
}

func (q *Queries) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	row := q.q.QueryRowContext(ctx, `
		INSERT INTO entries (user_id, title, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+entryColumns,
		entry.UserID, entry.Title, entry.Content, entry.CreatedAt,
	)
	created, err := scanEntry(row)
	if err != nil {
		return Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return created, nil
}

// UpdateEntry returns sql.ErrNoRows (wrapped) when no row matches both the
// entry id and the owner.
func (q *Queries) UpdateEntry(ctx context.Context, userID, entryID string, patch EntryPatch) (Entry, error) {
	var title, content any
	if patch.Title != nil {
		title = *patch.Title
	}
	if patch.Content != nil {
		content = *patch.Content
	}
	row := q.q.QueryRowContext(ctx, `
		UPDATE entries
		SET title=COALESCE($3, title), content=COALESCE($4, content)
		WHERE id=$1 AND user_id=$2
		RETURNING `+entryColumns,
		entryID, userID, title, content,
	)
	updated, err := scanEntry(row)
	if err != nil {
		return Entry{}, fmt.Errorf("update entry: %w", err)
	}
	return updated, nil
}

func (q *Queries) GetEntry(ctx context.Context, userID, entryID string) (Entry, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE id=$1 AND user_id=$2
	`, entryID, userID)
	item, err := scanEntry(row)
	if err != nil {
		return Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return item, nil
}

func (q *Queries) ListEntries(ctx context.Context, userID string) ([]Entry, error) {
	return q.listEntries(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
}

func (q *Queries) RecentEntries(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}
	return q.listEntries(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
}

func (q *Queries) listEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		item, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return items, nil
}

func (q *Queries) DeleteEntry(ctx context.Context, userID, entryID string) (bool, error) {
	result, err := q.q.ExecContext(ctx, `DELETE FROM entries WHERE id=$1 AND user_id=$2`, entryID, userID)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete entry rows: %w", err)
	}
	return affected > 0, nil
}

func (q *Queries) ListTagsByNames(ctx context.Context, userID string, names []string) ([]Tag, error) {
	return q.listTags(ctx, `
		SELECT `+tagColumns+`
		FROM tags
		WHERE user_id=$1 AND name = ANY($2)
		ORDER BY name ASC
	`, userID, names)
}

// InsertTags creates all names in one statement. Names that already exist
// for the user are skipped by the unique constraint and are absent from the
// returned rows.
func (q *Queries) InsertTags(ctx context.Context, userID string, names []string) ([]Tag, error) {
	return q.listTags(ctx, `
		INSERT INTO tags (user_id, name)
		SELECT $1, name FROM unnest($2::text[]) AS name
		ON CONFLICT (user_id, name) DO NOTHING
		RETURNING `+tagColumns,
		userID, names,
	)
}

func (q *Queries) ListTags(ctx context.Context, userID string) ([]Tag, error) {
	return q.listTags(ctx, `
		SELECT `+tagColumns+`
		FROM tags
		WHERE user_id=$1
		ORDER BY name ASC
	`, userID)
}

func (q *Queries) listTags(ctx context.Context, query string, args ...any) ([]Tag, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		item, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

func (q *Queries) LinkExists(ctx context.Context, entryID, tagID string) (bool, error) {
	var exists bool
	err := q.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM entries_tags WHERE entry_id=$1 AND tag_id=$2)
	`, entryID, tagID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check entry tag link: %w", err)
	}
	return exists, nil
}

func (q *Queries) InsertLink(ctx context.Context, entryID, tagID string) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO entries_tags (entry_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT (entry_id, tag_id) DO NOTHING
	`, entryID, tagID)
	if err != nil {
		return fmt.Errorf("insert entry tag link: %w", err)
	}
	return nil
}

func (q *Queries) DeleteLinksForEntry(ctx context.Context, entryID string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM entries_tags WHERE entry_id=$1`, entryID); err != nil {
		return fmt.Errorf("delete entry tag links: %w", err)
	}
	return nil
}

// ListTagsForEntries resolves tags for a batch of entries with one join.
// Entries without tags are absent from the map.
func (q *Queries) ListTagsForEntries(ctx context.Context, userID string, entryIDs []string) (map[string][]Tag, error) {
	result := make(map[string][]Tag, len(entryIDs))
	if len(entryIDs) == 0 {
		return result, nil
	}

	rows, err := q.q.QueryContext(ctx, `
		SELECT et.entry_id, t.id, t.user_id, t.name, t.created_at
		FROM entries_tags et
		JOIN tags t ON t.id = et.tag_id
		WHERE t.user_id=$1 AND et.entry_id = ANY($2)
		ORDER BY t.name ASC
	`, userID, entryIDs)
	if err != nil {
		return nil, fmt.Errorf("list entry tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entryID string
		var tag Tag
		if err := rows.Scan(&entryID, &tag.ID, &tag.UserID, &tag.Name, &tag.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry tag: %w", err)
		}
		result[entryID] = append(result[entryID], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry tags: %w", err)
	}
	return result, nil
}
