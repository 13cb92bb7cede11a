// Package eligibility decides who may rate whom: targets must be active
// registered producers, and raters (or the proxy they delegate to) must vote
// for enough producers.
package eligibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
	"github.com/Clark-Hu/bp-ratings/internal/ratings"
)

var _ ratings.Gate = (*Gate)(nil)

// ProducerDirectory looks up registered producers.
type ProducerDirectory interface {
	Producer(ctx context.Context, owner domain.Name) (domain.Producer, error)
}

// VoterDirectory looks up voting records.
type VoterDirectory interface {
	Voter(ctx context.Context, owner domain.Name) (domain.Voter, error)
}

// Gate implements ratings.Gate. Unknown producers are invalid targets and
// unknown voters count as voting for nobody.
type Gate struct {
	producers ProducerDirectory
	voters    VoterDirectory
}

// New constructs a Gate.
func New(producers ProducerDirectory, voters VoterDirectory) *Gate {
	return &Gate{producers: producers, voters: voters}
}

// IsValidTarget reports whether target is a registered, active producer.
func (g *Gate) IsValidTarget(ctx context.Context, target domain.Name) (bool, error) {
	p, err := g.producers.Producer(ctx, target)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup producer %s: %w", target, err)
	}
	return p.Active, nil
}

// ResolveDelegate returns the proxy rater votes through.
func (g *Gate) ResolveDelegate(ctx context.Context, rater domain.Name) (domain.Name, bool, error) {
	v, found, err := g.voter(ctx, rater)
	if err != nil || !found || v.Proxy.IsEmpty() {
		return 0, false, err
	}
	return v.Proxy, true, nil
}

// IsActiveDelegate reports whether proxy is registered as a proxy.
func (g *Gate) IsActiveDelegate(ctx context.Context, proxy domain.Name) (bool, error) {
	v, found, err := g.voter(ctx, proxy)
	if err != nil || !found {
		return false, err
	}
	return v.IsProxy, nil
}

// VoterCount returns how many producers account votes for.
func (g *Gate) VoterCount(ctx context.Context, account domain.Name) (uint32, error) {
	v, found, err := g.voter(ctx, account)
	if err != nil || !found {
		return 0, err
	}
	return v.VoterCount(), nil
}

func (g *Gate) voter(ctx context.Context, owner domain.Name) (domain.Voter, bool, error) {
	v, err := g.voters.Voter(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Voter{}, false, nil
	}
	if err != nil {
		return domain.Voter{}, false, fmt.Errorf("lookup voter %s: %w", owner, err)
	}
	return v, true, nil
}
