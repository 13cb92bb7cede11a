package ratings_test

import (
	"math/rand"
	"testing"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
	"github.com/Clark-Hu/bp-ratings/internal/ratings"
)

func TestBlend(t *testing.T) {
	target := domain.MustParseName("bpa")

	first := ratings.Blend(target, nil, scores(8, 0, 4, 0, 0))
	if first.RatingCount != 1 || first.OverallAverage != 6 {
		t.Fatalf("first blend = %+v, want count 1 average 6", first)
	}
	if first.Means[domain.Transparency] != 8 || first.Means[domain.Trust] != 4 {
		t.Fatalf("first blend means = %v", first.Means)
	}

	second := ratings.Blend(target, &first, scores(2, 6, 0, 0, 0))
	if second.Means[domain.Transparency] != 5 {
		t.Fatalf("transparency = %v, want (2+8)/2", second.Means[domain.Transparency])
	}
	if second.Means[domain.Infrastructure] != 6 {
		t.Fatalf("infrastructure = %v, want new value when previous mean is zero", second.Means[domain.Infrastructure])
	}
	if second.Means[domain.Trust] != 4 {
		t.Fatalf("unscored trust changed to %v", second.Means[domain.Trust])
	}
	if second.RatingCount != 2 || second.OverallAverage != 5 {
		t.Fatalf("second blend = %+v, want count 2 average (4+6)/2", second)
	}
	if first.RatingCount != 1 {
		t.Fatalf("Blend mutated its input")
	}
}

func TestRecompute(t *testing.T) {
	target := domain.MustParseName("bpa")
	other := domain.MustParseName("bpb")

	rows := []domain.Rating{
		{Target: target, Scores: scores(10, 0, 0, 0, 3)},
		{Target: target, Scores: scores(5, 0, 0, 0, 0)},
		{Target: target, Scores: scores(0, 0, 0, 9, 0)},
		{Target: other, Scores: scores(1, 1, 1, 1, 1)},
	}
	summary, ok := ratings.Recompute(target, rows)
	if !ok {
		t.Fatalf("Recompute reported no values")
	}
	if summary.RatingCount != 3 {
		t.Fatalf("count = %d, want 3", summary.RatingCount)
	}
	want := [domain.NumCategories]float64{7.5, 0, 0, 9, 3}
	if summary.Means != want {
		t.Fatalf("means = %v, want %v", summary.Means, want)
	}
	if summary.OverallAverage != 6.5 {
		t.Fatalf("overall = %v, want (7.5+9+3)/3", summary.OverallAverage)
	}

	if _, ok := ratings.Recompute(target, nil); ok {
		t.Fatalf("Recompute of no rows should report ok=false")
	}
	if _, ok := ratings.Recompute(target, rows[3:]); ok {
		t.Fatalf("Recompute should ignore other targets")
	}
}

func TestRecomputeIsOrderIndependent(t *testing.T) {
	target := domain.MustParseName("bpa")
	rng := rand.New(rand.NewSource(7))

	rows := make([]domain.Rating, 40)
	for i := range rows {
		var s domain.Scores
		for c := range s {
			if rng.Intn(3) > 0 {
				s[c] = 1 + rng.Intn(10)
			}
		}
		rows[i] = domain.Rating{Target: target, Scores: s}
	}

	want, _ := ratings.Recompute(target, rows)
	for round := 0; round < 10; round++ {
		shuffled := append([]domain.Rating(nil), rows...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, _ := ratings.Recompute(target, shuffled)
		if got.RatingCount != want.RatingCount {
			t.Fatalf("round %d count = %d, want %d", round, got.RatingCount, want.RatingCount)
		}
		for c := range want.Means {
			if diff := got.Means[c] - want.Means[c]; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("round %d category %d = %v, want %v", round, c, got.Means[c], want.Means[c])
			}
		}
	}
}

func BenchmarkRecompute(b *testing.B) {
	target := domain.MustParseName("bpa")
	rows := make([]domain.Rating, 1000)
	for i := range rows {
		rows[i] = domain.Rating{Target: target, Scores: scores(1+i%10, 0, 1+i%7, 0, 2)}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ratings.Recompute(target, rows)
	}
}
