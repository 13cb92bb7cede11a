package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
	"github.com/Clark-Hu/bp-ratings/internal/ratings"
	"github.com/Clark-Hu/bp-ratings/internal/store"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = domain.ErrNotFound

var _ ratings.Store = (*Repository)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every repository
// can run standalone or inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Ratings   *RatingsRepository
	Summaries *SummariesRepository
	Producers *ProducersRepository

	pool *pgxpool.Pool
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		Ratings:   &RatingsRepository{db: pool},
		Summaries: &SummariesRepository{db: pool},
		Producers: &ProducersRepository{db: pool},
		pool:      pool,
	}
}

// WithinTx implements ratings.Store with a serializable transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ratings.Tx) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(ctx, txStore{
			RatingsRepository:   &RatingsRepository{db: tx},
			SummariesRepository: &SummariesRepository{db: tx},
		})
	})
}

// HealthCheck pings the pool.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

type txStore struct {
	*RatingsRepository
	*SummariesRepository
}

// Names are 64-bit values; Postgres has no unsigned integers, so they are
// stored with the same bits as BIGINT.
func nameArg(n domain.Name) int64 { return int64(n) }

func nameFromDB(v int64) domain.Name { return domain.Name(uint64(v)) }

type rowScanner interface {
	Scan(dest ...any) error
}
