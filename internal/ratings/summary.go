package ratings

import "github.com/Clark-Hu/bp-ratings/internal/domain"

// Blend folds a newly inserted rating into the previous summary in O(1).
//
// Each scored category moves halfway toward the new value and the overall
// average is blended with the new rating's own mean. This is an exponential
// blend, not a true mean: recent ratings weigh more until the next full
// Recompute replaces the cached values. With no previous summary the new
// rating's values are taken as-is.
func Blend(target domain.Name, prev *domain.Summary, scores domain.Scores) domain.Summary {
	next := domain.Summary{Target: target}
	if prev != nil {
		next = *prev
		next.Target = target
	}

	var sum float64
	var scored int
	for c := domain.Category(0); c < domain.NumCategories; c++ {
		if scores[c] == 0 {
			continue
		}
		v := float64(scores[c])
		sum += v
		scored++
		if prev != nil && next.Means[c] != 0 {
			next.Means[c] = (v + next.Means[c]) / 2
		} else {
			next.Means[c] = v
		}
	}
	if scored == 0 {
		return next
	}

	if prev == nil {
		next.RatingCount = 1
		next.OverallAverage = sum / float64(scored)
		return next
	}
	next.RatingCount++
	next.OverallAverage = (sum/float64(scored) + prev.OverallAverage) / 2
	return next
}

// Recompute derives the exact summary for target from its raw ratings. Each
// category is averaged over the ratings that scored it. ok is false when no
// rating scores any category, in which case no summary should exist.
func Recompute(target domain.Name, rows []domain.Rating) (summary domain.Summary, ok bool) {
	var totals [domain.NumCategories]float64
	var counts [domain.NumCategories]int
	var raters uint32

	for _, row := range rows {
		if row.Target != target {
			continue
		}
		for c, v := range row.Scores {
			if v == 0 {
				continue
			}
			totals[c] += float64(v)
			counts[c]++
		}
		raters++
	}

	summary = domain.Summary{Target: target, RatingCount: raters}
	var sum float64
	var categories int
	for c := range totals {
		if counts[c] == 0 {
			continue
		}
		summary.Means[c] = totals[c] / float64(counts[c])
		sum += summary.Means[c]
		categories++
	}
	if categories == 0 {
		return domain.Summary{Target: target}, false
	}
	summary.OverallAverage = sum / float64(categories)
	return summary, true
}
