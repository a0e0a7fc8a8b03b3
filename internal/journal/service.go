// Package journal composes entries with their tags. Every operation is
// scoped to the calling user; an entry owned by someone else is
// indistinguishable from one that does not exist.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"journal/api/internal/store"
)

type NewEntry struct {
	Title   string
	Content string
	Tags    []string
}

// EntryPatch carries a partial update. A nil Tags leaves links alone; a
// non-nil Tags, even an empty one, replaces every link of the entry.
type EntryPatch struct {
	Title   *string
	Content *string
	Tags    *[]string
}

type Service struct {
	store Atomic
	now   func() time.Time
}

func NewService(s Atomic) *Service {
	return &Service{store: s, now: time.Now}
}

// WithClock swaps the time source used for created_at.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) CreateEntryWithTags(ctx context.Context, userID string, input NewEntry) (Entry, error) {
	if userID == "" {
		return Entry{}, ErrNotAuthenticated
	}
	if strings.TrimSpace(input.Title) == "" {
		return Entry{}, invalidField("title", "required")
	}

	var out Entry
	err := s.store.InTx(ctx, func(tx Store) error {
		created, err := tx.InsertEntry(ctx, Entry{
			UserID:    userID,
			Title:     input.Title,
			Content:   input.Content,
			CreatedAt: s.now().UTC(),
		})
		if err != nil {
			return err
		}

		if len(input.Tags) > 0 {
			tags, err := ReconcileTags(ctx, tx, input.Tags, userID)
			if err != nil {
				return err
			}
			if err := linkTags(ctx, tx, created.ID, tags); err != nil {
				return err
			}
		}

		out, err = withTags(ctx, tx, userID, created)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}

func (s *Service) UpdateEntryWithTags(ctx context.Context, userID, entryID string, patch EntryPatch) (Entry, error) {
	if userID == "" {
		return Entry{}, ErrNotAuthenticated
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return Entry{}, invalidField("title", "must not be blank")
	}

	fields := store.EntryPatch{Title: patch.Title, Content: patch.Content}

	var out Entry
	err := s.store.InTx(ctx, func(tx Store) error {
		var (
			updated Entry
			err     error
		)
		if fields.Empty() {
			updated, err = tx.GetEntry(ctx, userID, entryID)
		} else {
			updated, err = tx.UpdateEntry(ctx, userID, entryID, fields)
		}
		if err != nil {
			return notFound(err)
		}

		if patch.Tags != nil {
			if err := tx.DeleteLinksForEntry(ctx, updated.ID); err != nil {
				return err
			}
			tags, err := ReconcileTags(ctx, tx, *patch.Tags, userID)
			if err != nil {
				return err
			}
			if err := linkTags(ctx, tx, updated.ID, tags); err != nil {
				return err
			}
		}

		out, err = withTags(ctx, tx, userID, updated)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}

// GetEntries returns the user's entries newest first, tags resolved in one
// query for the whole list.
func (s *Service) GetEntries(ctx context.Context, userID string) ([]Entry, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	entries, err := s.store.ListEntries(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	byEntry, err := s.store.ListTagsForEntries(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Tags = nonNil(byEntry[entries[i].ID])
	}
	return entries, nil
}

func (s *Service) GetEntryByID(ctx context.Context, userID, entryID string) (Entry, error) {
	if userID == "" {
		return Entry{}, ErrNotAuthenticated
	}
	entry, err := s.store.GetEntry(ctx, userID, entryID)
	if err != nil {
		return Entry{}, notFound(err)
	}
	return withTags(ctx, s.store, userID, entry)
}

// DeleteEntry removes the entry and, through the foreign key, its links.
// Tag rows are kept.
func (s *Service) DeleteEntry(ctx context.Context, userID, entryID string) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	deleted, err := s.store.DeleteEntry(ctx, userID, entryID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ListTags(ctx context.Context, userID string) ([]Tag, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	return s.store.ListTags(ctx, userID)
}

func linkTags(ctx context.Context, links LinkStore, entryID string, tags []Tag) error {
	for _, tag := range tags {
		exists, err := links.LinkExists(ctx, entryID, tag.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := links.InsertLink(ctx, entryID, tag.ID); err != nil {
			return err
		}
	}
	return nil
}

func withTags(ctx context.Context, links LinkStore, userID string, entry Entry) (Entry, error) {
	byEntry, err := links.ListTagsForEntries(ctx, userID, []string{entry.ID})
	if err != nil {
		return Entry{}, err
	}
	entry.Tags = nonNil(byEntry[entry.ID])
	return entry, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nonNil(tags []Tag) []Tag {
	if tags == nil {
		return []Tag{}
	}
	return tags
}
