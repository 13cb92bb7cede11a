package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
	"github.com/Clark-Hu/bp-ratings/internal/ratings"
)

var _ ratings.RatingStore = (*RatingsRepository)(nil)

const uniqueViolation = "23505"

// RatingsRepository stores raw ratings, one row per (rater, target).
type RatingsRepository struct {
	db querier
}

const ratingColumns = `
    id,
    rater,
    target,
    uniq_rating,
    transparency,
    infrastructure,
    trust,
    community,
    development,
    created_at,
    updated_at
`

// RatingByKey looks up a rating by its packed (rater, target) key.
func (r *RatingsRepository) RatingByKey(ctx context.Context, key domain.UniqueKey) (domain.Rating, error) {
	query := fmt.Sprintf(`SELECT %s FROM ratings WHERE uniq_rating = $1`, ratingColumns)
	rating, err := scanRating(r.db.QueryRow(ctx, query, key.Bytes()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Rating{}, ErrNotFound
		}
		return domain.Rating{}, fmt.Errorf("get rating %s: %w", key, err)
	}
	return rating, nil
}

// InsertRating creates a new row. The key is derived from rater and target.
func (r *RatingsRepository) InsertRating(ctx context.Context, rating domain.Rating) (domain.Rating, error) {
	const query = `
        INSERT INTO ratings (rater, target, uniq_rating, transparency, infrastructure, trust, community, development)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at
    `

	rating.Key = domain.NewUniqueKey(rating.Rater, rating.Target)
	args := append([]any{nameArg(rating.Rater), nameArg(rating.Target), rating.Key.Bytes()}, scoreArgs(rating.Scores)...)

	var id int64
	err := r.db.QueryRow(ctx, query, args...).Scan(&id, &rating.CreatedAt, &rating.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Rating{}, fmt.Errorf("duplicate rating key %s: %w", rating.Key, err)
		}
		return domain.Rating{}, fmt.Errorf("insert rating: %w", err)
	}
	rating.ID = uint64(id)
	return rating, nil
}

// UpdateRating overwrites the row with rating.ID in place.
func (r *RatingsRepository) UpdateRating(ctx context.Context, rating domain.Rating) (domain.Rating, error) {
	query := fmt.Sprintf(`
        UPDATE ratings
        SET rater = $2,
            target = $3,
            uniq_rating = $4,
            transparency = $5,
            infrastructure = $6,
            trust = $7,
            community = $8,
            development = $9,
            updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, ratingColumns)

	key := domain.NewUniqueKey(rating.Rater, rating.Target)
	args := append([]any{int64(rating.ID), nameArg(rating.Rater), nameArg(rating.Target), key.Bytes()}, scoreArgs(rating.Scores)...)

	updated, err := scanRating(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Rating{}, ErrNotFound
		}
		return domain.Rating{}, fmt.Errorf("update rating %d: %w", rating.ID, err)
	}
	return updated, nil
}

// DeleteRatings removes rows by id. Unknown ids are ignored.
func (r *RatingsRepository) DeleteRatings(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]int64, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM ratings WHERE id = ANY($1)`, args); err != nil {
		return fmt.Errorf("delete ratings: %w", err)
	}
	return nil
}

// RatingsByTarget lists every rating of target ordered by id.
func (r *RatingsRepository) RatingsByTarget(ctx context.Context, target domain.Name) ([]domain.Rating, error) {
	query := fmt.Sprintf(`SELECT %s FROM ratings WHERE target = $1 ORDER BY id`, ratingColumns)
	rows, err := r.db.Query(ctx, query, nameArg(target))
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Rating, 0)
	for rows.Next() {
		rating, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ratings: %w", err)
	}
	return out, nil
}

// DeleteAllRatings empties the table.
func (r *RatingsRepository) DeleteAllRatings(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM ratings`); err != nil {
		return fmt.Errorf("delete all ratings: %w", err)
	}
	return nil
}

func scoreArgs(s domain.Scores) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = int16(v)
	}
	return out
}

func scanRating(row rowScanner) (domain.Rating, error) {
	var (
		id            int64
		rater, target int64
		key           []byte
		scores        [domain.NumCategories]int16
		rating        domain.Rating
	)
	err := row.Scan(
		&id,
		&rater,
		&target,
		&key,
		&scores[domain.Transparency],
		&scores[domain.Infrastructure],
		&scores[domain.Trust],
		&scores[domain.Community],
		&scores[domain.Development],
		&rating.CreatedAt,
		&rating.UpdatedAt,
	)
	if err != nil {
		return domain.Rating{}, err
	}

	rating.ID = uint64(id)
	rating.Rater = nameFromDB(rater)
	rating.Target = nameFromDB(target)
	rating.Key, err = domain.UniqueKeyFromBytes(key)
	if err != nil {
		return domain.Rating{}, err
	}
	for c, v := range scores {
		rating.Scores[c] = int(v)
	}
	return rating, nil
}
