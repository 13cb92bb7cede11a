package ratings

import (
	"errors"
	"fmt"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
)

// Rejections reported by the engine. Each aborts the whole operation before
// any store mutation.
var (
	ErrEmptySubmission            = errors.New("ratings: rating must score at least one category")
	ErrScoreOutOfRange            = errors.New("ratings: score out of range")
	ErrInvalidTarget              = errors.New("ratings: target is not a registered producer")
	ErrInactiveProxy              = errors.New("ratings: delegated proxy is not active")
	ErrInsufficientVotersForProxy = errors.New("ratings: delegated proxy does not vote for enough producers")
	ErrInsufficientVoters         = errors.New("ratings: account does not vote for enough producers")
	ErrUnauthorized               = errors.New("ratings: caller is not authorized")
)

// ScoreRangeError reports the first category whose score is outside the
// configured bounds.
type ScoreRangeError struct {
	Category domain.Category
	Value    int
	Min      int
	Max      int
}

func (e *ScoreRangeError) Error() string {
	return fmt.Sprintf("ratings: %s score %d outside [%d, %d]", e.Category, e.Value, e.Min, e.Max)
}

// Unwrap lets callers match ErrScoreOutOfRange with errors.Is.
func (e *ScoreRangeError) Unwrap() error { return ErrScoreOutOfRange }

// IsRejection reports whether err is one of the engine's validation,
// eligibility or authorization rejections rather than an infrastructure failure.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrEmptySubmission,
		ErrScoreOutOfRange,
		ErrInvalidTarget,
		ErrInactiveProxy,
		ErrInsufficientVotersForProxy,
		ErrInsufficientVoters,
		ErrUnauthorized,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
