// Package journaltest provides an in-memory journal.Atomic for tests.
package journaltest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"journal/api/internal/journal"
	"journal/api/internal/store"
)

type link struct {
	entryID string
	tagID   string
}

// MemStore mirrors the PostgreSQL accessors: owner scoping, the unique
// (user, name) tag constraint, cascade of links on entry delete, and
// all-or-nothing InTx.
type MemStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	entries map[string]store.Entry
	tags    map[string]store.Tag
	links   map[link]struct{}
	seq     int

	// FailOn makes the named method return the given error.
	FailOn map[string]error
	// Calls counts invocations per method name.
	Calls map[string]int
	// BeforeInsertTags runs before InsertTags takes effect.
	BeforeInsertTags func(userID string, names []string)
}

var _ journal.Atomic = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		entries: map[string]store.Entry{},
		tags:    map[string]store.Tag{},
		links:   map[link]struct{}{},
		FailOn:  map[string]error{},
		Calls:   map[string]int{},
	}
}

func (m *MemStore) InTx(ctx context.Context, fn func(tx journal.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	entries, tags, links, seq := m.snapshot()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.entries, m.tags, m.links, m.seq = entries, tags, links, seq
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemStore) snapshot() (map[string]store.Entry, map[string]store.Tag, map[link]struct{}, int) {
	entries := make(map[string]store.Entry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = v
	}
	tags := make(map[string]store.Tag, len(m.tags))
	for k, v := range m.tags {
		tags[k] = v
	}
	links := make(map[link]struct{}, len(m.links))
	for k := range m.links {
		links[k] = struct{}{}
	}
	return entries, tags, links, m.seq
}

func (m *MemStore) call(name string) error {
	m.Calls[name]++
	return m.FailOn[name]
}

func (m *MemStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// SeedTag inserts a tag directly, bypassing counters and faults.
func (m *MemStore) SeedTag(userID, name string) store.Tag {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tag := range m.tags {
		if tag.UserID == userID && tag.Name == name {
			return tag
		}
	}
	tag := store.Tag{ID: m.nextID("tag"), UserID: userID, Name: name, CreatedAt: time.Now().UTC()}
	m.tags[tag.ID] = tag
	return tag
}

// LinkCount reports how many links point at tagID.
func (m *MemStore) LinkCount(tagID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for l := range m.links {
		if l.tagID == tagID {
			n++
		}
	}
	return n
}

// TagCount reports how many tags the user owns.
func (m *MemStore) TagCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tag := range m.tags {
		if tag.UserID == userID {
			n++
		}
	}
	return n
}

// Writes sums the calls of every mutating method.
func (m *MemStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls["InsertTags"] + m.Calls["InsertEntry"] + m.Calls["UpdateEntry"] +
		m.Calls["DeleteEntry"] + m.Calls["InsertLink"] + m.Calls["DeleteLinksForEntry"]
}

func (m *MemStore) InsertEntry(_ context.Context, entry store.Entry) (store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("InsertEntry"); err != nil {
		return store.Entry{}, err
	}
	entry.ID = m.nextID("entry")
	entry.Tags = nil
	m.entries[entry.ID] = entry
	return entry, nil
}

func (m *MemStore) UpdateEntry(_ context.Context, userID, entryID string, patch store.EntryPatch) (store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpdateEntry"); err != nil {
		return store.Entry{}, err
	}
	entry, ok := m.entries[entryID]
	if !ok || entry.UserID != userID {
		return store.Entry{}, fmt.Errorf("update entry: %w", sql.ErrNoRows)
	}
	if patch.Title != nil {
		entry.Title = *patch.Title
	}
	if patch.Content != nil {
		entry.Content = *patch.Content
	}
	m.entries[entryID] = entry
	return entry, nil
}

func (m *MemStore) GetEntry(_ context.Context, userID, entryID string) (store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetEntry"); err != nil {
		return store.Entry{}, err
	}
	entry, ok := m.entries[entryID]
	if !ok || entry.UserID != userID {
		return store.Entry{}, fmt.Errorf("get entry: %w", sql.ErrNoRows)
	}
	return entry, nil
}

func (m *MemStore) ListEntries(_ context.Context, userID string) ([]store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListEntries"); err != nil {
		return nil, err
	}
	return m.userEntries(userID, 0), nil
}

func (m *MemStore) RecentEntries(_ context.Context, userID string, limit int) ([]store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("RecentEntries"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	return m.userEntries(userID, limit), nil
}

func (m *MemStore) userEntries(userID string, limit int) []store.Entry {
	out := make([]store.Entry, 0)
	for _, entry := range m.entries {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemStore) DeleteEntry(_ context.Context, userID, entryID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteEntry"); err != nil {
		return false, err
	}
	entry, ok := m.entries[entryID]
	if !ok || entry.UserID != userID {
		return false, nil
	}
	delete(m.entries, entryID)
	for l := range m.links {
		if l.entryID == entryID {
			delete(m.links, l)
		}
	}
	return true, nil
}

func (m *MemStore) ListTagsByNames(_ context.Context, userID string, names []string) ([]store.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListTagsByNames"); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}
	out := make([]store.Tag, 0)
	for _, tag := range m.tags {
		if _, ok := wanted[tag.Name]; ok && tag.UserID == userID {
			out = append(out, tag)
		}
	}
	sortTags(out)
	return out, nil
}

func (m *MemStore) InsertTags(_ context.Context, userID string, names []string) ([]store.Tag, error) {
	if m.BeforeInsertTags != nil {
		m.BeforeInsertTags(userID, names)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("InsertTags"); err != nil {
		return nil, err
	}
	taken := map[string]struct{}{}
	for _, tag := range m.tags {
		if tag.UserID == userID {
			taken[tag.Name] = struct{}{}
		}
	}
	out := make([]store.Tag, 0, len(names))
	for _, name := range names {
		if _, ok := taken[name]; ok {
			continue
		}
		tag := store.Tag{ID: m.nextID("tag"), UserID: userID, Name: name, CreatedAt: time.Now().UTC()}
		m.tags[tag.ID] = tag
		taken[name] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}

func (m *MemStore) ListTags(_ context.Context, userID string) ([]store.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListTags"); err != nil {
		return nil, err
	}
	out := make([]store.Tag, 0)
	for _, tag := range m.tags {
		if tag.UserID == userID {
			out = append(out, tag)
		}
	}
	sortTags(out)
	return out, nil
}

func (m *MemStore) LinkExists(_ context.Context, entryID, tagID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("LinkExists"); err != nil {
		return false, err
	}
	_, ok := m.links[link{entryID: entryID, tagID: tagID}]
	return ok, nil
}

func (m *MemStore) InsertLink(_ context.Context, entryID, tagID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("InsertLink"); err != nil {
		return err
	}
	if _, ok := m.entries[entryID]; !ok {
		return fmt.Errorf("insert entry tag link: entry %s does not exist", entryID)
	}
	if _, ok := m.tags[tagID]; !ok {
		return fmt.Errorf("insert entry tag link: tag %s does not exist", tagID)
	}
	m.links[link{entryID: entryID, tagID: tagID}] = struct{}{}
	return nil
}

func (m *MemStore) DeleteLinksForEntry(_ context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteLinksForEntry"); err != nil {
		return err
	}
	for l := range m.links {
		if l.entryID == entryID {
			delete(m.links, l)
		}
	}
	return nil
}

func (m *MemStore) ListTagsForEntries(_ context.Context, userID string, entryIDs []string) (map[string][]store.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListTagsForEntries"); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(entryIDs))
	for _, id := range entryIDs {
		wanted[id] = struct{}{}
	}
	out := make(map[string][]store.Tag, len(entryIDs))
	for l := range m.links {
		if _, ok := wanted[l.entryID]; !ok {
			continue
		}
		tag := m.tags[l.tagID]
		if tag.UserID != userID {
			continue
		}
		out[l.entryID] = append(out[l.entryID], tag)
	}
	for id := range out {
		sortTags(out[id])
	}
	return out, nil
}

func sortTags(tags []store.Tag) {
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
}
