package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
	"github.com/Clark-Hu/bp-ratings/internal/ratings"
)

var _ ratings.SummaryStore = (*SummariesRepository)(nil)

// SummariesRepository stores the cached per-producer summaries.
type SummariesRepository struct {
	db querier
}

// Summary returns the cached summary for target.
func (r *SummariesRepository) Summary(ctx context.Context, target domain.Name) (domain.Summary, error) {
	const query = `
        SELECT transparency, infrastructure, trust, community, development,
               ratings_cntr, average, updated_at
        FROM producer_stats
        WHERE target = $1
    `

	summary := domain.Summary{Target: target}
	var count int32
	err := r.db.QueryRow(ctx, query, nameArg(target)).Scan(
		&summary.Means[domain.Transparency],
		&summary.Means[domain.Infrastructure],
		&summary.Means[domain.Trust],
		&summary.Means[domain.Community],
		&summary.Means[domain.Development],
		&count,
		&summary.OverallAverage,
		&summary.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Summary{}, ErrNotFound
		}
		return domain.Summary{}, fmt.Errorf("get summary %s: %w", target, err)
	}
	summary.RatingCount = uint32(count)
	return summary, nil
}

// SaveSummary inserts or replaces the summary for summary.Target.
func (r *SummariesRepository) SaveSummary(ctx context.Context, summary domain.Summary) error {
	if !summary.HasValues() {
		return fmt.Errorf("refusing to save empty summary for %s", summary.Target)
	}

	const query = `
        INSERT INTO producer_stats (target, transparency, infrastructure, trust, community, development, ratings_cntr, average)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (target)
        DO UPDATE SET transparency = EXCLUDED.transparency,
                      infrastructure = EXCLUDED.infrastructure,
                      trust = EXCLUDED.trust,
                      community = EXCLUDED.community,
                      development = EXCLUDED.development,
                      ratings_cntr = EXCLUDED.ratings_cntr,
                      average = EXCLUDED.average,
                      updated_at = now()
    `
	_, err := r.db.Exec(ctx, query,
		nameArg(summary.Target),
		summary.Means[domain.Transparency],
		summary.Means[domain.Infrastructure],
		summary.Means[domain.Trust],
		summary.Means[domain.Community],
		summary.Means[domain.Development],
		int64(summary.RatingCount),
		summary.OverallAverage,
	)
	if err != nil {
		return fmt.Errorf("save summary %s: %w", summary.Target, err)
	}
	return nil
}

// DeleteSummary removes the summary for target if present.
func (r *SummariesRepository) DeleteSummary(ctx context.Context, target domain.Name) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM producer_stats WHERE target = $1`, nameArg(target)); err != nil {
		return fmt.Errorf("delete summary %s: %w", target, err)
	}
	return nil
}

// SummaryTargets lists every target that has a summary.
func (r *SummariesRepository) SummaryTargets(ctx context.Context) ([]domain.Name, error) {
	rows, err := r.db.Query(ctx, `SELECT target FROM producer_stats ORDER BY target`)
	if err != nil {
		return nil, fmt.Errorf("list summary targets: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Name, 0)
	for rows.Next() {
		var target int64
		if err := rows.Scan(&target); err != nil {
			return nil, fmt.Errorf("scan summary target: %w", err)
		}
		out = append(out, nameFromDB(target))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary targets: %w", err)
	}
	return out, nil
}

// DeleteAllSummaries empties the table.
func (r *SummariesRepository) DeleteAllSummaries(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM producer_stats`); err != nil {
		return fmt.Errorf("delete all summaries: %w", err)
	}
	return nil
}
