package ratings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
)

const (
	opSubmit     = "submit_rating"
	opRemove     = "remove_rating"
	opRemoveAll  = "remove_all_for_target"
	opPurge      = "purge_inactive_targets"
	opWipe       = "wipe_all"
	opGetSummary = "get_summary"
	opGetRating  = "get_rating"
	opList       = "list_ratings"
)

// Summary maintenance strategies reported to the Recorder.
const (
	StrategyBlend     = "blend"
	StrategyRecompute = "recompute"
	StrategyDelete    = "delete"
)

// Limits bounds category scores and the voter threshold a rater (or its
// proxy) must meet.
type Limits struct {
	MinScore  int
	MaxScore  int
	MinVoters uint32
}

// DefaultLimits mirrors the deployed contract: scores 1..10, 21 producers.
func DefaultLimits() Limits {
	return Limits{MinScore: 1, MaxScore: 10, MinVoters: 21}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLimits overrides DefaultLimits.
func WithLimits(l Limits) Option { return func(e *Engine) { e.limits = l } }

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// Engine maintains raw ratings and the per-target summaries derived from them.
// It owns both stores: nothing else may write them.
type Engine struct {
	store    Store
	gate     Gate
	admin    domain.Name
	limits   Limits
	logger   *log.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// New constructs an engine. admin is the only account allowed to run the
// privileged operations.
func New(store Store, gate Gate, admin domain.Name, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		gate:     gate,
		admin:    admin,
		limits:   DefaultLimits(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer("bp-ratings/ratings"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	return e
}

// Admin returns the privileged account.
func (e *Engine) Admin() domain.Name { return e.admin }

// SubmitRating stores rater's scores for target. A first rating for the pair
// is blended into the cached summary; a changed rating triggers a full
// recompute so the two strategies never mix within one call.
func (e *Engine) SubmitRating(ctx context.Context, caller, rater, target domain.Name, scores domain.Scores) (rating domain.Rating, inserted bool, err error) {
	ctx, finish := e.begin(ctx, opSubmit,
		attribute.String("rater", rater.String()),
		attribute.String("target", target.String()),
	)
	defer func() { finish(err) }()

	if caller != rater {
		return domain.Rating{}, false, ErrUnauthorized
	}
	if err := e.validateScores(scores); err != nil {
		return domain.Rating{}, false, err
	}
	// Eligibility reads the registry and the chain; those calls stay outside
	// the store transaction.
	if err := e.checkEligibility(ctx, rater, target); err != nil {
		return domain.Rating{}, false, err
	}

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		key := domain.NewUniqueKey(rater, target)
		existing, err := tx.RatingByKey(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			rating, err = tx.InsertRating(ctx, domain.Rating{
				Rater:  rater,
				Target: target,
				Key:    key,
				Scores: scores,
			})
			if err != nil {
				return fmt.Errorf("insert rating: %w", err)
			}
			inserted = true
			return e.blendSummary(ctx, tx, target, scores)
		}
		if err != nil {
			return fmt.Errorf("lookup rating: %w", err)
		}

		existing.Scores = scores
		rating, err = tx.UpdateRating(ctx, existing)
		if err != nil {
			return fmt.Errorf("update rating: %w", err)
		}
		return e.recomputeSummary(ctx, tx, target)
	})
	if err != nil {
		return domain.Rating{}, false, err
	}
	return rating, inserted, nil
}

// RemoveRating deletes rater's rating of target and recomputes the summary.
// Removing a rating that does not exist succeeds.
func (e *Engine) RemoveRating(ctx context.Context, caller, rater, target domain.Name) (err error) {
	ctx, finish := e.begin(ctx, opRemove,
		attribute.String("rater", rater.String()),
		attribute.String("target", target.String()),
	)
	defer func() { finish(err) }()

	if caller != rater {
		return ErrUnauthorized
	}

	return e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.RatingByKey(ctx, domain.NewUniqueKey(rater, target))
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup rating: %w", err)
		}
		if err := tx.DeleteRatings(ctx, []uint64{existing.ID}); err != nil {
			return fmt.Errorf("delete rating: %w", err)
		}
		return e.recomputeSummary(ctx, tx, target)
	})
}

// RemoveAllForTarget deletes every rating of target and its summary. It
// returns the number of ratings removed.
func (e *Engine) RemoveAllForTarget(ctx context.Context, caller, target domain.Name) (removed int, err error) {
	ctx, finish := e.begin(ctx, opRemoveAll, attribute.String("target", target.String()))
	defer func() { finish(err) }()

	if caller != e.admin {
		return 0, ErrUnauthorized
	}

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		removed, err = removeTarget(ctx, tx, target)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.logger.Printf("ratings: removed %d ratings for %s", removed, target)
	return removed, nil
}

// PurgeInactiveTargets removes all data for summarized targets that are no
// longer valid rating recipients and returns how many were purged.
func (e *Engine) PurgeInactiveTargets(ctx context.Context, caller domain.Name) (purged int, err error) {
	ctx, finish := e.begin(ctx, opPurge)
	defer func() { finish(err) }()

	if caller != e.admin {
		return 0, ErrUnauthorized
	}

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		targets, err := tx.SummaryTargets(ctx)
		if err != nil {
			return fmt.Errorf("list summary targets: %w", err)
		}

		var inactive []domain.Name
		for _, target := range targets {
			valid, err := e.gate.IsValidTarget(ctx, target)
			if err != nil {
				return fmt.Errorf("check target %s: %w", target, err)
			}
			if !valid {
				inactive = append(inactive, target)
			}
		}

		for _, target := range inactive {
			if _, err := removeTarget(ctx, tx, target); err != nil {
				return err
			}
		}
		purged = len(inactive)
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.recorder.Purged(purged)
	e.logger.Printf("ratings: purged %d inactive targets", purged)
	return purged, nil
}

// WipeAll empties both stores. It cannot be undone.
func (e *Engine) WipeAll(ctx context.Context, caller domain.Name) (err error) {
	ctx, finish := e.begin(ctx, opWipe)
	defer func() { finish(err) }()

	if caller != e.admin {
		return ErrUnauthorized
	}

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.DeleteAllRatings(ctx); err != nil {
			return fmt.Errorf("wipe ratings: %w", err)
		}
		if err := tx.DeleteAllSummaries(ctx); err != nil {
			return fmt.Errorf("wipe summaries: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Println("ratings: wiped all ratings and summaries")
	return nil
}

// Summary returns the cached summary for target.
func (e *Engine) Summary(ctx context.Context, target domain.Name) (summary domain.Summary, err error) {
	ctx, finish := e.begin(ctx, opGetSummary, attribute.String("target", target.String()))
	defer func() { finish(err) }()

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		summary, err = tx.Summary(ctx, target)
		return err
	})
	return summary, err
}

// Rating returns rater's current rating of target.
func (e *Engine) Rating(ctx context.Context, rater, target domain.Name) (rating domain.Rating, err error) {
	ctx, finish := e.begin(ctx, opGetRating,
		attribute.String("rater", rater.String()),
		attribute.String("target", target.String()),
	)
	defer func() { finish(err) }()

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		rating, err = tx.RatingByKey(ctx, domain.NewUniqueKey(rater, target))
		return err
	})
	return rating, err
}

// Ratings lists every current rating of target.
func (e *Engine) Ratings(ctx context.Context, target domain.Name) (rows []domain.Rating, err error) {
	ctx, finish := e.begin(ctx, opList, attribute.String("target", target.String()))
	defer func() { finish(err) }()

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		rows, err = tx.RatingsByTarget(ctx, target)
		return err
	})
	return rows, err
}

func (e *Engine) validateScores(scores domain.Scores) error {
	if scores.IsEmpty() {
		return ErrEmptySubmission
	}
	for c, v := range scores {
		if v == 0 {
			continue
		}
		if v < e.limits.MinScore || v > e.limits.MaxScore {
			return &ScoreRangeError{
				Category: domain.Category(c),
				Value:    v,
				Min:      e.limits.MinScore,
				Max:      e.limits.MaxScore,
			}
		}
	}
	return nil
}

func (e *Engine) checkEligibility(ctx context.Context, rater, target domain.Name) error {
	valid, err := e.gate.IsValidTarget(ctx, target)
	if err != nil {
		return fmt.Errorf("check target: %w", err)
	}
	if !valid {
		return ErrInvalidTarget
	}

	proxy, delegated, err := e.gate.ResolveDelegate(ctx, rater)
	if err != nil {
		return fmt.Errorf("resolve delegate: %w", err)
	}
	if delegated {
		active, err := e.gate.IsActiveDelegate(ctx, proxy)
		if err != nil {
			return fmt.Errorf("check proxy: %w", err)
		}
		if !active {
			return ErrInactiveProxy
		}
		count, err := e.gate.VoterCount(ctx, proxy)
		if err != nil {
			return fmt.Errorf("count proxy voters: %w", err)
		}
		if count < e.limits.MinVoters {
			return ErrInsufficientVotersForProxy
		}
		return nil
	}

	count, err := e.gate.VoterCount(ctx, rater)
	if err != nil {
		return fmt.Errorf("count voters: %w", err)
	}
	if count < e.limits.MinVoters {
		return ErrInsufficientVoters
	}
	return nil
}

func (e *Engine) blendSummary(ctx context.Context, tx Tx, target domain.Name, scores domain.Scores) error {
	var prev *domain.Summary
	current, err := tx.Summary(ctx, target)
	switch {
	case err == nil:
		prev = &current
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("load summary: %w", err)
	}

	if err := tx.SaveSummary(ctx, Blend(target, prev, scores)); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	e.recorder.SummaryWrite(StrategyBlend)
	return nil
}

func (e *Engine) recomputeSummary(ctx context.Context, tx Tx, target domain.Name) error {
	rows, err := tx.RatingsByTarget(ctx, target)
	if err != nil {
		return fmt.Errorf("scan ratings: %w", err)
	}

	summary, ok := Recompute(target, rows)
	if !ok {
		if err := tx.DeleteSummary(ctx, target); err != nil {
			return fmt.Errorf("delete summary: %w", err)
		}
		e.recorder.SummaryWrite(StrategyDelete)
		return nil
	}
	if err := tx.SaveSummary(ctx, summary); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	e.recorder.SummaryWrite(StrategyRecompute)
	return nil
}

// removeTarget collects the target's row ids before deleting any of them.
func removeTarget(ctx context.Context, tx Tx, target domain.Name) (int, error) {
	rows, err := tx.RatingsByTarget(ctx, target)
	if err != nil {
		return 0, fmt.Errorf("scan ratings: %w", err)
	}
	ids := make([]uint64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	if len(ids) > 0 {
		if err := tx.DeleteRatings(ctx, ids); err != nil {
			return 0, fmt.Errorf("delete ratings: %w", err)
		}
	}
	if err := tx.DeleteSummary(ctx, target); err != nil {
		return 0, fmt.Errorf("delete summary: %w", err)
	}
	return len(ids), nil
}

func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "ratings."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		outcome := "ok"
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
			outcome = "not_found"
		case IsRejection(err):
			outcome = "rejected"
			span.SetAttributes(attribute.String("rejection", err.Error()))
		default:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.recorder.ObserveOperation(op, outcome, time.Since(start).Seconds())
	}
}
