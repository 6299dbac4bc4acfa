package ranking

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"tenantops/pkg/config"
	"tenantops/pkg/persistence"
)

// CEL scores each contractor with a landlord-supplied expression, for example
//
//	contractor.rating * 2.0 - contractor.avg_response_hours / 24.0 + (request.emergency && contractor.emergency_available ? 5.0 : 0.0)
//
// The expression must evaluate to a number; higher ranks first.
type CEL struct {
	expr string
	prg  cel.Program
}

// NewCEL compiles expr once.
func NewCEL(expr string) (*CEL, error) {
	env, err := cel.NewEnv(
		cel.Variable("contractor", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile ranking expression: %w", issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build ranking program: %w", err)
	}
	return &CEL{expr: expr, prg: prg}, nil
}

func (c *CEL) Name() string { return config.RankingCEL }

func (c *CEL) Rank(ctx context.Context, req Request, candidates []*persistence.Contractor) ([]*persistence.Contractor, error) {
	request := map[string]any{
		"category":  req.Category,
		"urgency":   req.Urgency,
		"emergency": req.Emergency,
	}

	scores := make(map[*persistence.Contractor]float64, len(candidates))
	for _, contractor := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ranking cancelled: %w", err)
		}
		score, err := c.score(ctx, contractor, request)
		if err != nil {
			return nil, err
		}
		scores[contractor] = score
	}
	return sortByScore(candidates, func(x *persistence.Contractor) float64 { return scores[x] }), nil
}

func (c *CEL) score(ctx context.Context, contractor *persistence.Contractor, request map[string]any) (float64, error) {
	trades := make([]any, len(contractor.Trades))
	for i, t := range contractor.Trades {
		trades[i] = t
	}
	out, _, err := c.prg.ContextEval(ctx, map[string]any{
		"contractor": map[string]any{
			"id":                  contractor.ID,
			"name":                contractor.Name,
			"rating":              contractor.Rating,
			"avg_response_hours":  contractor.AvgResponseHours,
			"emergency_available": contractor.EmergencyAvailable,
			"trades":              trades,
		},
		"request": request,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate ranking expression for %s: %w", contractor.ID, err)
	}

	switch v := out.(type) {
	case types.Double:
		return float64(v), nil
	case types.Int:
		return float64(v), nil
	case types.Uint:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("ranking expression returned %s, want a number", out.Type())
	}
}
