package journal

import (
	"context"

	"journal/api/internal/store"
)

type (
	Entry = store.Entry
	Tag   = store.Tag
)

type TagStore interface {
	ListTagsByNames(ctx context.Context, userID string, names []string) ([]Tag, error)
	InsertTags(ctx context.Context, userID string, names []string) ([]Tag, error)
	ListTags(ctx context.Context, userID string) ([]Tag, error)
}

type EntryStore interface {
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	UpdateEntry(ctx context.Context, userID, entryID string, patch store.EntryPatch) (Entry, error)
	GetEntry(ctx context.Context, userID, entryID string) (Entry, error)
	ListEntries(ctx context.Context, userID string) ([]Entry, error)
	DeleteEntry(ctx context.Context, userID, entryID string) (bool, error)
}

type LinkStore interface {
	LinkExists(ctx context.Context, entryID, tagID string) (bool, error)
	InsertLink(ctx context.Context, entryID, tagID string) error
	DeleteLinksForEntry(ctx context.Context, entryID string) error
	ListTagsForEntries(ctx context.Context, userID string, entryIDs []string) (map[string][]Tag, error)
}

type Store interface {
	TagStore
	EntryStore
	LinkStore
}

// Atomic is a Store that can run a sequence of calls as one unit. fn sees a
// Store bound to the transaction; a non-nil return discards every write.
type Atomic interface {
	Store
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// PostgresAdapter exposes a *store.PostgresStore as an Atomic.
type PostgresAdapter struct {
	*store.PostgresStore
}

func NewPostgres(pg *store.PostgresStore) *PostgresAdapter {
	return &PostgresAdapter{PostgresStore: pg}
}

func (a *PostgresAdapter) InTx(ctx context.Context, fn func(tx Store) error) error {
	return a.PostgresStore.InTx(ctx, func(q *store.Queries) error {
		return fn(q)
	})
}
