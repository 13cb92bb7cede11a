package chain

import (
	"math"
	"testing"
)

func FuzzConvertProducer(f *testing.F) {
	f.Add("eoscostarica", "123456.789", "https://eoscostarica.io", 1)
	f.Add("bpa", "0.5", "", 1)
	f.Add("bpb", "NaN", "x", 0)
	f.Add("", "-1", "", 1)

	f.Fuzz(func(t *testing.T, owner, votes, url string, active int) {
		p, err := convertProducer(producerRow{Owner: owner, TotalVotes: votes, URL: url, IsActive: active})
		if err != nil {
			return
		}
		if p.Owner.String() != owner {
			t.Fatalf("owner %q decoded as %q", owner, p.Owner)
		}
		if p.TotalVotes < 0 || math.IsNaN(p.TotalVotes) || math.IsInf(p.TotalVotes, 0) {
			t.Fatalf("total votes = %v, want finite non-negative", p.TotalVotes)
		}
		if p.Active && (active != 1 || p.TotalVotes < 1) {
			t.Fatalf("producer %+v active with is_active=%d", p, active)
		}
	})
}
