package eligibility

import (
	"context"
	"sort"
	"sync"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
)

// MemoryRegistry is an in-process producer registry used when the service
// runs without Postgres.
type MemoryRegistry struct {
	mu        sync.RWMutex
	producers map[domain.Name]domain.Producer
}

// NewMemoryRegistry returns a registry seeded with producers.
func NewMemoryRegistry(producers ...domain.Producer) *MemoryRegistry {
	r := &MemoryRegistry{producers: make(map[domain.Name]domain.Producer, len(producers))}
	for _, p := range producers {
		r.producers[p.Owner] = p
	}
	return r
}

// Producer implements ProducerDirectory.
func (r *MemoryRegistry) Producer(_ context.Context, owner domain.Name) (domain.Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[owner]
	if !ok {
		return domain.Producer{}, domain.ErrNotFound
	}
	return p, nil
}

// UpsertProducers replaces the stored record of every given producer.
func (r *MemoryRegistry) UpsertProducers(_ context.Context, producers []domain.Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range producers {
		r.producers[p.Owner] = p
	}
	return nil
}

// List returns every producer in the order the Postgres registry uses. Owners
// compare as signed values, like the BIGINT column.
func (r *MemoryRegistry) List(context.Context) ([]domain.Producer, error) {
	r.mu.RLock()
	out := make([]domain.Producer, 0, len(r.producers))
	for _, p := range r.producers {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Active != b.Active {
			return a.Active
		}
		if a.TotalVotes != b.TotalVotes {
			return a.TotalVotes > b.TotalVotes
		}
		return int64(a.Owner) < int64(b.Owner)
	})
	return out, nil
}

// StaticVoters is a fixed VoterDirectory.
type StaticVoters map[domain.Name]domain.Voter

// Voter implements VoterDirectory.
func (s StaticVoters) Voter(_ context.Context, owner domain.Name) (domain.Voter, error) {
	v, ok := s[owner]
	if !ok {
		return domain.Voter{}, domain.ErrNotFound
	}
	return v, nil
}
