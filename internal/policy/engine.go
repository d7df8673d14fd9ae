package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// Admission decisions.
const (
	DecisionAllow      = "allow"
	DecisionAtCapacity = "at_capacity"
	DecisionSlotBusy   = "slot_busy"
)

// Engine is the OPA policy engine for session admission.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.session_admission.decision"),
		rego.Module("session_admission.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Admission is the advisory answer to "may a new session start in market?".
// It is for display only; the session-creation service enforces limits.
type Admission struct {
	Market   domain.MarketType `json:"market"`
	Decision string            `json:"decision"`
	Allowed  bool              `json:"allowed"`
	Capacity domain.Capacity   `json:"capacity"`
}

// Evaluate checks whether a new session for market fits. counts is the
// number of active sessions per market.
func (e *Engine) Evaluate(ctx context.Context, market domain.MarketType, counts map[domain.MarketType]int, capacity domain.Capacity) (Admission, error) {
	byMarket := make(map[string]interface{}, len(counts))
	for m, n := range counts {
		byMarket[string(m)] = n
	}
	input := map[string]interface{}{
		"market":           string(market),
		"multi_slot":       market.MultiSlot(),
		"active_total":     capacity.Active,
		"active_by_market": byMarket,
		"ceiling":          capacity.Ceiling,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Admission{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	decision := DecisionAllow
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if s, ok := results[0].Expressions[0].Value.(string); ok {
			decision = s
		}
	}
	return Admission{
		Market:   market,
		Decision: decision,
		Allowed:  decision == DecisionAllow,
		Capacity: capacity,
	}, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package session_admission

default decision = "allow"

decision = "at_capacity" {
	input.active_total >= input.ceiling
}

# Starting another stock/coin session would replace the running one.
decision = "slot_busy" {
	input.active_total < input.ceiling
	not input.multi_slot
	input.active_by_market[input.market] > 0
}
`
