package ratings

import (
	"context"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
)

// RatingStore holds raw ratings, unique per (rater, target) key with a
// secondary lookup by target. Lookups return domain.ErrNotFound when absent.
type RatingStore interface {
	RatingByKey(ctx context.Context, key domain.UniqueKey) (domain.Rating, error)
	// InsertRating assigns the row id and timestamps; the key is derived from
	// rater and target.
	InsertRating(ctx context.Context, rating domain.Rating) (domain.Rating, error)
	// UpdateRating overwrites the row addressed by rating.ID in place.
	UpdateRating(ctx context.Context, rating domain.Rating) (domain.Rating, error)
	DeleteRatings(ctx context.Context, ids []uint64) error
	RatingsByTarget(ctx context.Context, target domain.Name) ([]domain.Rating, error)
	DeleteAllRatings(ctx context.Context) error
}

// SummaryStore holds one cached summary per target.
type SummaryStore interface {
	Summary(ctx context.Context, target domain.Name) (domain.Summary, error)
	SaveSummary(ctx context.Context, summary domain.Summary) error
	// DeleteSummary is a no-op when no summary exists.
	DeleteSummary(ctx context.Context, target domain.Name) error
	SummaryTargets(ctx context.Context) ([]domain.Name, error)
	DeleteAllSummaries(ctx context.Context) error
}

// Tx is a consistent view of both stores for the duration of one operation.
type Tx interface {
	RatingStore
	SummaryStore
}

// Store runs fn atomically: either every mutation made through tx is kept or
// none is.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Gate answers eligibility questions about targets and raters.
type Gate interface {
	IsValidTarget(ctx context.Context, target domain.Name) (bool, error)
	// ResolveDelegate returns the proxy rater votes through, if any.
	ResolveDelegate(ctx context.Context, rater domain.Name) (domain.Name, bool, error)
	IsActiveDelegate(ctx context.Context, proxy domain.Name) (bool, error)
	VoterCount(ctx context.Context, account domain.Name) (uint32, error)
}

// Recorder receives operational measurements from the engine.
type Recorder interface {
	ObserveOperation(op, outcome string, seconds float64)
	SummaryWrite(strategy string)
	Purged(targets int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, float64) {}
func (nopRecorder) SummaryWrite(string)                      {}
func (nopRecorder) Purged(int)                               {}
