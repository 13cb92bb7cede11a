package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
)

// ProducersRepository is the registry of producers synced from the chain.
type ProducersRepository struct {
	db querier
}

// Producer returns the registry entry for owner.
func (r *ProducersRepository) Producer(ctx context.Context, owner domain.Name) (domain.Producer, error) {
	const query = `
        SELECT owner, url, total_votes, is_active, synced_at
        FROM producers
        WHERE owner = $1
    `
	p, err := scanProducer(r.db.QueryRow(ctx, query, nameArg(owner)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Producer{}, ErrNotFound
		}
		return domain.Producer{}, fmt.Errorf("get producer %s: %w", owner, err)
	}
	return p, nil
}

// List returns every registered producer: active first, then by votes, then
// by owner.
func (r *ProducersRepository) List(ctx context.Context) ([]domain.Producer, error) {
	const query = `
        SELECT owner, url, total_votes, is_active, synced_at
        FROM producers
        ORDER BY is_active DESC, total_votes DESC, owner
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list producers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Producer, 0)
	for rows.Next() {
		p, err := scanProducer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan producer: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate producers: %w", err)
	}
	return out, nil
}

// UpsertProducers writes every producer in a single batch.
func (r *ProducersRepository) UpsertProducers(ctx context.Context, producers []domain.Producer) error {
	if len(producers) == 0 {
		return nil
	}

	const query = `
        INSERT INTO producers (owner, owner_name, url, total_votes, is_active, synced_at)
        VALUES ($1,$2,$3,$4,$5,now())
        ON CONFLICT (owner)
        DO UPDATE SET url = EXCLUDED.url,
                      total_votes = EXCLUDED.total_votes,
                      is_active = EXCLUDED.is_active,
                      synced_at = now()
    `
	batch := &pgx.Batch{}
	for _, p := range producers {
		batch.Queue(query, nameArg(p.Owner), p.Owner.String(), p.URL, p.TotalVotes, p.Active)
	}

	results := r.db.SendBatch(ctx, batch)
	for _, p := range producers {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("upsert producer %s: %w", p.Owner, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("upsert producers: %w", err)
	}
	return nil
}

func scanProducer(row rowScanner) (domain.Producer, error) {
	var (
		owner int64
		p     domain.Producer
	)
	if err := row.Scan(&owner, &p.URL, &p.TotalVotes, &p.Active, &p.SyncedAt); err != nil {
		return domain.Producer{}, err
	}
	p.Owner = nameFromDB(owner)
	return p, nil
}
