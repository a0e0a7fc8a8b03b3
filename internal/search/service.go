package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"journal/api/internal/metrics"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// writeQueueSize bounds index writes waiting for the worker. Producers block
// once it is full.
const writeQueueSize = 256

// Service is the facade that tries the index first and falls back to PG FTS.
// Index writes go through one worker in submission order, so a delete is
// never overtaken by an earlier index of the same entry.
type Service struct {
	index    Index
	fallback Engine
	logger   *slog.Logger

	writes  chan indexWrite
	pending sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

type indexWrite struct {
	record   *EntryRecord
	deleteID string
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *slog.Logger) *Service {
	var index Index
	if meili != nil {
		index = meili
	}
	var fallback Engine
	if pgfts != nil {
		fallback = pgfts
	}
	return newService(index, fallback, logger)
}

func newService(index Index, fallback Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{index: index, fallback: fallback, logger: logger}
	if index != nil {
		s.writes = make(chan indexWrite, writeQueueSize)
		go s.runWrites()
	}
	return s
}

// Search never fails: engine errors are logged and yield an empty page.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = clamp(q)
	empty := Response{Results: []Result{}, Query: q.Text}
	if q.UserID == "" || q.Text == "" {
		return empty
	}

	if s.index != nil {
		if s.index.Healthy() {
			results, total, err := s.index.Search(ctx, q)
			if err == nil {
				return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: s.index.Name()}
			}
			s.logger.Warn("search index failed, falling back", "engine", s.index.Name(), "error", err)
		}
		metrics.SearchFallbacks.Inc()
	}

	if s.fallback == nil {
		return empty
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", "engine", s.fallback.Name(), "error", err)
		return empty
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: s.fallback.Name()}
}

// IndexEntry queues one entry for the index.
func (s *Service) IndexEntry(rec EntryRecord) {
	s.enqueue(indexWrite{record: &rec})
}

// DeleteEntry queues removal of an entry from the index.
func (s *Service) DeleteEntry(id string) {
	s.enqueue(indexWrite{deleteID: id})
}

func (s *Service) enqueue(w indexWrite) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.pending.Add(1)
	s.writes <- w
}

func (s *Service) runWrites() {
	for w := range s.writes {
		if w.record != nil {
			if err := s.index.IndexEntries([]EntryRecord{*w.record}); err != nil {
				s.logger.Warn("index entry", "entry_id", w.record.ID, "error", err)
			}
		} else if err := s.index.DeleteEntry(w.deleteID); err != nil {
			s.logger.Warn("delete entry from index", "entry_id", w.deleteID, "error", err)
		}
		s.pending.Done()
	}
}

// Wait blocks until every queued index write has been applied.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Close drains queued writes and stops the worker. Later writes are dropped.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.writes != nil {
		close(s.writes)
	}
	s.mu.Unlock()
	s.pending.Wait()
}

// ReindexAll loads every entry from PostgreSQL and pushes it to the index.
// It returns the number of records sent.
func (s *Service) ReindexAll(ctx context.Context, pgfts *PgFTS) (int, error) {
	if s.index == nil || !s.index.Healthy() || pgfts == nil {
		return 0, nil
	}
	records, err := pgfts.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.index.IndexEntries(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func clamp(q Query) Query {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
