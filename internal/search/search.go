// Package search finds journal entries by text. Meilisearch is the primary
// engine; PostgreSQL full-text search answers when it is absent or down.
// Every query is restricted to one owner.
package search

import (
	"context"
	"time"

	"journal/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
}

// Query describes a search request. UserID is mandatory.
type Query struct {
	UserID string
	Text   string
	Tag    string // exact tag name, empty = any
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Engine can execute a full-text search.
type Engine interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is an Engine that also accepts writes.
type Index interface {
	Engine
	IndexEntries(records []EntryRecord) error
	DeleteEntry(id string) error
}

// EntryRecord is the data we index for an entry.
type EntryRecord struct {
	ID        string   `json:"id"`
	UserID    string   `json:"userId"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	CreatedAt int64    `json:"createdAt"`
}

func RecordFromEntry(entry store.Entry) EntryRecord {
	return EntryRecord{
		ID:        entry.ID,
		UserID:    entry.UserID,
		Title:     entry.Title,
		Content:   entry.Content,
		Tags:      store.TagNames(entry.Tags),
		CreatedAt: entry.CreatedAt.Unix(),
	}
}
