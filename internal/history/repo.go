// Package history keeps a git repository per journal entry so every saved
// version of its title, content and tags can be listed and read back.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const snapshotFile = "entry.json"

var (
	// ErrNoHistory is returned for an entry that has never been recorded.
	ErrNoHistory = errors.New("entry has no recorded history")
	// ErrRevisionNotFound is returned when a hash names no commit of the entry.
	ErrRevisionNotFound = errors.New("revision not found")
)

type Snapshot struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// FieldChange describes one field that differs between two snapshots.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Repo stores entry repositories under baseDir/<userID>/<entryID>.
type Repo struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*entryLock
	now     func() time.Time
}

func New(baseDir string) *Repo {
	return &Repo{
		baseDir: baseDir,
		locks:   make(map[string]*entryLock),
		now:     time.Now,
	}
}

// Record commits snap as the newest revision of the entry, creating the
// repository on first use. An unchanged snapshot returns the head revision
// without a new commit.
func (r *Repo) Record(userID, entryID string, snap Snapshot, author, message string) (Revision, error) {
	unlock := r.lockEntry(userID, entryID)
	defer unlock()

	snap = normalize(snap)
	repo, err := r.openOrInit(userID, entryID)
	if err != nil {
		return Revision{}, err
	}

	if head, err := repo.Head(); err == nil {
		commitObj, err := repo.CommitObject(head.Hash())
		if err != nil {
			return Revision{}, fmt.Errorf("load head commit: %w", err)
		}
		current, err := readSnapshot(commitObj)
		if err != nil {
			return Revision{}, err
		}
		if !HasChanges(current, snap) {
			return toRevision(commitObj), nil
		}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Revision{}, fmt.Errorf("resolve head: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Revision{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Revision{}, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@users.journal.local", sanitizeEmail(author)),
			When:  r.now(),
		},
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// History lists revisions newest first. limit <= 0 returns all of them.
func (r *Repo) History(userID, entryID string, limit int) ([]Revision, error) {
	unlock := r.lockEntry(userID, entryID)
	defer unlock()

	repo, err := r.open(userID, entryID)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, ErrNoHistory
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Snapshot returns the entry as it was at hash, plus what changed relative
// to the revision before it.
func (r *Repo) Snapshot(userID, entryID, hash string) (Snapshot, Revision, []FieldChange, error) {
	unlock := r.lockEntry(userID, entryID)
	defer unlock()

	repo, err := r.open(userID, entryID)
	if err != nil {
		return Snapshot{}, Revision{}, nil, err
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return Snapshot{}, Revision{}, nil, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return Snapshot{}, Revision{}, nil, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, Revision{}, nil, err
	}

	previous := Snapshot{Tags: []string{}}
	if commitObj.NumParents() > 0 {
		parent, err := commitObj.Parent(0)
		if err != nil {
			return Snapshot{}, Revision{}, nil, fmt.Errorf("read parent commit: %w", err)
		}
		if previous, err = readSnapshot(parent); err != nil {
			return Snapshot{}, Revision{}, nil, err
		}
	}
	return snap, toRevision(commitObj), DiffFields(previous, snap), nil
}

// Remove deletes the entry's repository. Removing a missing one is a no-op.
func (r *Repo) Remove(userID, entryID string) error {
	unlock := r.lockEntry(userID, entryID)
	defer unlock()

	if err := os.RemoveAll(r.repoPath(userID, entryID)); err != nil {
		return fmt.Errorf("remove history: %w", err)
	}
	return nil
}

func (r *Repo) open(userID, entryID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(r.repoPath(userID, entryID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (r *Repo) openOrInit(userID, entryID string) (*git.Repository, error) {
	repo, err := r.open(userID, entryID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNoHistory) {
		return nil, err
	}

	path := r.repoPath(userID, entryID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (r *Repo) repoPath(userID, entryID string) string {
	return filepath.Join(r.baseDir, filepath.Base(userID), filepath.Base(entryID))
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// lockEntry serializes work on one entry. The lock leaves the map once its
// last holder or waiter releases it.
func (r *Repo) lockEntry(userID, entryID string) func() {
	key := userID + "/" + entryID
	r.lockMu.Lock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &entryLock{}
		r.locks[key] = lock
	}
	lock.refs++
	r.lockMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		r.lockMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, key)
		}
		r.lockMu.Unlock()
	}
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return normalize(snap), nil
}

func normalize(snap Snapshot) Snapshot {
	tags := slices.Clone(snap.Tags)
	if tags == nil {
		tags = []string{}
	}
	slices.Sort(tags)
	snap.Tags = tags
	return snap
}

func DiffFields(from, to Snapshot) []FieldChange {
	from, to = normalize(from), normalize(to)
	changes := make([]FieldChange, 0, 3)
	if from.Content != to.Content {
		changes = append(changes, FieldChange{Field: "content", Before: from.Content, After: to.Content})
	}
	if !slices.Equal(from.Tags, to.Tags) {
		before, _ := json.Marshal(from.Tags)
		after, _ := json.Marshal(to.Tags)
		changes = append(changes, FieldChange{Field: "tags", Before: string(before), After: string(after)})
	}
	if from.Title != to.Title {
		changes = append(changes, FieldChange{Field: "title", Before: from.Title, After: to.Title})
	}
	return changes
}

func HasChanges(from, to Snapshot) bool {
	return len(DiffFields(from, to)) > 0
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
