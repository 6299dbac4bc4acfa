// Package ranking orders candidate contractors for a maintenance job.
package ranking

import (
	"context"
	"fmt"
	"sort"

	"tenantops/pkg/config"
	"tenantops/pkg/persistence"
)

// Request describes the job being staffed.
type Request struct {
	Category  string
	Urgency   string
	Emergency bool
}

// Strategy orders candidates best first. It must not drop or add candidates.
type Strategy interface {
	Name() string
	Rank(ctx context.Context, req Request, candidates []*persistence.Contractor) ([]*persistence.Contractor, error)
}

// New builds the strategy named in cfg.
func New(cfg config.RankingConfig) (Strategy, error) {
	switch cfg.Strategy {
	case "", config.RankingFirst:
		return FirstMatch{}, nil
	case config.RankingWeighted:
		return DefaultWeighted(), nil
	case config.RankingCEL:
		return NewCEL(cfg.Expression)
	default:
		return nil, fmt.Errorf("unknown ranking strategy %q", cfg.Strategy)
	}
}

// Candidates applies the emergency preference: for emergencies the emergency-available
// subset is used when it is non-empty, otherwise every candidate.
func Candidates(all []*persistence.Contractor, emergency bool) []*persistence.Contractor {
	if !emergency {
		return all
	}
	var available []*persistence.Contractor
	for _, c := range all {
		if c.EmergencyAvailable {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return all
	}
	return available
}

// Select picks the best contractor, or nil when there are none.
func Select(ctx context.Context, s Strategy, req Request, all []*persistence.Contractor) (*persistence.Contractor, error) {
	candidates := Candidates(all, req.Emergency)
	if len(candidates) == 0 {
		return nil, nil //nolint:nilnil // no contractor is a valid outcome
	}
	ranked, err := s.Rank(ctx, req, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to rank contractors with %s: %w", s.Name(), err)
	}
	if len(ranked) == 0 {
		return nil, nil //nolint:nilnil // no contractor is a valid outcome
	}
	return ranked[0], nil
}

// FirstMatch keeps store order.
type FirstMatch struct{}

func (FirstMatch) Name() string { return config.RankingFirst }

func (FirstMatch) Rank(_ context.Context, _ Request, candidates []*persistence.Contractor) ([]*persistence.Contractor, error) {
	return candidates, nil
}

// Weighted scores rating, response time and emergency availability.
type Weighted struct {
	RatingWeight    float64
	ResponseWeight  float64
	EmergencyWeight float64
}

// DefaultWeighted favours rating, then responsiveness.
func DefaultWeighted() Weighted {
	return Weighted{RatingWeight: 0.5, ResponseWeight: 0.35, EmergencyWeight: 0.15}
}

func (Weighted) Name() string { return config.RankingWeighted }

// Score maps a contractor into [0, 1] under w.
func (w Weighted) Score(c *persistence.Contractor) float64 {
	rating := c.Rating / 5
	if rating > 1 {
		rating = 1
	}
	response := 0.0
	if c.AvgResponseHours > 0 {
		response = 1 / (1 + c.AvgResponseHours/24)
	}
	emergency := 0.0
	if c.EmergencyAvailable {
		emergency = 1
	}
	return w.RatingWeight*rating + w.ResponseWeight*response + w.EmergencyWeight*emergency
}

func (w Weighted) Rank(_ context.Context, _ Request, candidates []*persistence.Contractor) ([]*persistence.Contractor, error) {
	return sortByScore(candidates, w.Score), nil
}

func sortByScore(candidates []*persistence.Contractor, score func(*persistence.Contractor) float64) []*persistence.Contractor {
	type scored struct {
		c     *persistence.Contractor
		score float64
	}
	items := make([]scored, len(candidates))
	for i, c := range candidates {
		items[i] = scored{c: c, score: score(c)}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })

	out := make([]*persistence.Contractor, len(items))
	for i := range items {
		out[i] = items[i].c
	}
	return out
}
