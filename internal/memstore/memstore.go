// Package memstore keeps ratings and summaries in process memory. Rating rows
// live in a table addressed by a stable row id, with a unique index on the
// packed (rater, target) key and a non-unique index on target.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
	"github.com/Clark-Hu/bp-ratings/internal/ratings"
)

var _ ratings.Store = (*Store)(nil)

// Store is an in-memory ratings.Store. Transactions are serialized by a
// single mutex; none of the mutations can fail once started, so an operation
// that validates before mutating never leaves partial writes behind.
type Store struct {
	mu  sync.Mutex
	now func() time.Time
	seq uint64

	rows      map[uint64]*domain.Rating
	byKey     map[domain.UniqueKey]uint64
	byTarget  map[domain.Name]map[uint64]struct{}
	summaries map[domain.Name]domain.Summary
}

// New returns an empty store.
func New() *Store {
	s := &Store{now: func() time.Time { return time.Now().UTC() }}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.rows = make(map[uint64]*domain.Rating)
	s.byKey = make(map[domain.UniqueKey]uint64)
	s.byTarget = make(map[domain.Name]map[uint64]struct{})
	s.summaries = make(map[domain.Name]domain.Summary)
}

// WithinTx implements ratings.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ratings.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &tx{s: s})
}

// HealthCheck always succeeds; it lets the store stand in for a database.
func (s *Store) HealthCheck(context.Context) error { return nil }

// Len reports the number of rating rows and summaries.
func (s *Store) Len() (rows, summaries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), len(s.summaries)
}

type tx struct {
	s *Store
}

func (t *tx) RatingByKey(_ context.Context, key domain.UniqueKey) (domain.Rating, error) {
	id, ok := t.s.byKey[key]
	if !ok {
		return domain.Rating{}, domain.ErrNotFound
	}
	return *t.s.rows[id], nil
}

func (t *tx) InsertRating(_ context.Context, rating domain.Rating) (domain.Rating, error) {
	rating.Key = domain.NewUniqueKey(rating.Rater, rating.Target)
	if _, exists := t.s.byKey[rating.Key]; exists {
		return domain.Rating{}, fmt.Errorf("memstore: duplicate rating key %s", rating.Key)
	}

	rating.ID = t.nextID()
	now := t.s.now()
	rating.CreatedAt = now
	rating.UpdatedAt = now

	row := rating
	t.s.rows[row.ID] = &row
	t.index(&row)
	return row, nil
}

func (t *tx) UpdateRating(_ context.Context, rating domain.Rating) (domain.Rating, error) {
	row, ok := t.s.rows[rating.ID]
	if !ok {
		return domain.Rating{}, domain.ErrNotFound
	}
	key := domain.NewUniqueKey(rating.Rater, rating.Target)
	if owner, exists := t.s.byKey[key]; exists && owner != row.ID {
		return domain.Rating{}, fmt.Errorf("memstore: duplicate rating key %s", key)
	}

	t.unindex(row)
	row.Rater = rating.Rater
	row.Target = rating.Target
	row.Key = key
	row.Scores = rating.Scores
	row.UpdatedAt = t.s.now()
	t.index(row)
	return *row, nil
}

func (t *tx) DeleteRatings(_ context.Context, ids []uint64) error {
	for _, id := range ids {
		row, ok := t.s.rows[id]
		if !ok {
			continue
		}
		t.unindex(row)
		delete(t.s.rows, id)
	}
	return nil
}

func (t *tx) RatingsByTarget(_ context.Context, target domain.Name) ([]domain.Rating, error) {
	ids := t.s.byTarget[target]
	out := make([]domain.Rating, 0, len(ids))
	for id := range ids {
		out = append(out, *t.s.rows[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) DeleteAllRatings(context.Context) error {
	t.s.rows = make(map[uint64]*domain.Rating)
	t.s.byKey = make(map[domain.UniqueKey]uint64)
	t.s.byTarget = make(map[domain.Name]map[uint64]struct{})
	return nil
}

func (t *tx) Summary(_ context.Context, target domain.Name) (domain.Summary, error) {
	summary, ok := t.s.summaries[target]
	if !ok {
		return domain.Summary{}, domain.ErrNotFound
	}
	return summary, nil
}

func (t *tx) SaveSummary(_ context.Context, summary domain.Summary) error {
	if !summary.HasValues() {
		return fmt.Errorf("memstore: refusing to save empty summary for %s", summary.Target)
	}
	summary.UpdatedAt = t.s.now()
	t.s.summaries[summary.Target] = summary
	return nil
}

func (t *tx) DeleteSummary(_ context.Context, target domain.Name) error {
	delete(t.s.summaries, target)
	return nil
}

func (t *tx) SummaryTargets(context.Context) ([]domain.Name, error) {
	out := make([]domain.Name, 0, len(t.s.summaries))
	for target := range t.s.summaries {
		out = append(out, target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *tx) DeleteAllSummaries(context.Context) error {
	t.s.summaries = make(map[domain.Name]domain.Summary)
	return nil
}

// nextID hands out ids from a sequence that, like a database serial, is
// never rewound by deletes.
func (t *tx) nextID() uint64 {
	t.s.seq++
	return t.s.seq
}

func (t *tx) index(row *domain.Rating) {
	t.s.byKey[row.Key] = row.ID
	ids := t.s.byTarget[row.Target]
	if ids == nil {
		ids = make(map[uint64]struct{})
		t.s.byTarget[row.Target] = ids
	}
	ids[row.ID] = struct{}{}
}

func (t *tx) unindex(row *domain.Rating) {
	delete(t.s.byKey, row.Key)
	if ids := t.s.byTarget[row.Target]; ids != nil {
		delete(ids, row.ID)
		if len(ids) == 0 {
			delete(t.s.byTarget, row.Target)
		}
	}
}
