package cost

import (
	"fmt"
	"time"

	"github.com/veridical/pact/internal/proof"
	"github.com/veridical/pact/internal/state"
)

// Trace is the measured execution record of one action attempt, the
// input to cost accounting.
type Trace struct {
	Elapsed    time.Duration
	Retries    int64
	Backtracks int64

	// ProofsRun and Obligations size the audit-cost estimate.
	ProofsRun   []proof.Proof
	Obligations []state.Constraint

	// Failures feed the risk estimate.
	Failures []*proof.FailReason
}

// Candidate is a proposed action variant with its goal-defined reward
// and expected cost, as scored before execution.
type Candidate struct {
	Action   proof.Action
	Reward   float64
	Expected Vector
}

// Estimator predicts the success probability of a candidate from the
// history of structurally similar actions. Pluggable: the default is a
// Laplace-smoothed pass frequency keyed by action name.
type Estimator interface {
	PSuccess(action proof.Action) float64
	Observe(action proof.Action, pass bool)
}

// Engine computes costs, divergences, and utilities under a fixed
// calibration.
type Engine struct {
	weights   Weights
	lambda    float64
	estimator Estimator
}

// NewEngine creates a cost engine. lambda is the risk-aversion
// coefficient in the utility formula.
func NewEngine(w Weights, lambda float64, est Estimator) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("cost engine: %w", err)
	}
	if lambda < 0 {
		return nil, fmt.Errorf("cost engine: negative lambda %v", lambda)
	}
	if est == nil {
		est = NewFrequencyEstimator()
	}
	return &Engine{weights: w, lambda: lambda, estimator: est}, nil
}

// Cost converts an action trace into the measured cost vector.
//
// Audit cost is proportional to the number of proofs run plus the
// number of obligations they covered. Risk is derived from failure
// severity and obligation criticality, saturating at full scale.
func (e *Engine) Cost(t Trace) Vector {
	v := Vector{
		TimeMS:     t.Elapsed.Milliseconds(),
		Retries:    t.Retries,
		Backtracks: t.Backtracks,
		AuditCost:  int64(len(t.ProofsRun)) + int64(len(t.Obligations)),
	}

	risk := int64(0)
	for _, fr := range t.Failures {
		risk += failureSeverity(fr.Code)
	}
	for _, k := range t.Obligations {
		if k.Critical && len(t.Failures) > 0 {
			risk += 100
		}
	}
	if risk > MillisScale {
		risk = MillisScale
	}
	v.RiskMillis = risk

	return v
}

// failureSeverity maps a failure code to its risk contribution in
// thousandths. Policy violations weigh most: they indicate the action
// tried something forbidden, not merely something broken.
func failureSeverity(code proof.FailCode) int64 {
	switch code {
	case proof.FailPolicyViolation:
		return 500
	case proof.FailTypeError:
		return 400
	case proof.FailTestFailure:
		return 300
	case proof.FailVerificationTimeout:
		return 250
	case proof.FailInsufficientCoverage, proof.FailMissingObligation:
		return 200
	case proof.FailParseError:
		return 150
	case proof.FailBudgetExceeded:
		return 100
	default:
		return 300
	}
}

// Delta measures the divergence between the actual and intended
// post-states under the engine's fixed weights. Returns the component
// distances and the weighted total in thousandths.
func (e *Engine) Delta(actual, intended *state.State) (Delta, int64) {
	d := ComputeDelta(actual, intended)
	return d, d.Total(e.weights)
}

// Utility scores a candidate: U = P(success)*Reward - lambda*ExpectedCost.
// Used only for ranking; never persisted.
func (e *Engine) Utility(c Candidate) float64 {
	return e.estimator.PSuccess(c.Action)*c.Reward - e.lambda*c.Expected.Scalar()
}

// Observe feeds an execution outcome back into the success estimator.
func (e *Engine) Observe(action proof.Action, pass bool) {
	e.estimator.Observe(action, pass)
}

// Rank returns the index of the best candidate. Ties are broken by
// lowest expected audit cost, then lowest expected risk, then lowest
// index, so ranking is deterministic for a fixed candidate order.
func (e *Engine) Rank(candidates []Candidate) (int, error) {
	if len(candidates) == 0 {
		return 0, fmt.Errorf("rank: no candidates")
	}

	best := 0
	bestU := e.Utility(candidates[0])
	for i := 1; i < len(candidates); i++ {
		u := e.Utility(candidates[i])
		switch {
		case u > bestU:
			best, bestU = i, u
		case u == bestU && candidates[i].Expected.AuditCost < candidates[best].Expected.AuditCost:
			best = i
		case u == bestU && candidates[i].Expected.AuditCost == candidates[best].Expected.AuditCost &&
			candidates[i].Expected.RiskMillis < candidates[best].Expected.RiskMillis:
			best = i
		}
	}
	return best, nil
}

// FrequencyEstimator is the default success estimator: a
// Laplace-smoothed historical pass rate keyed by action name. With no
// history every action starts at 0.5.
type FrequencyEstimator struct {
	passes map[string]int64
	total  map[string]int64
}

// NewFrequencyEstimator creates an empty estimator.
func NewFrequencyEstimator() *FrequencyEstimator {
	return &FrequencyEstimator{
		passes: make(map[string]int64),
		total:  make(map[string]int64),
	}
}

// PSuccess implements Estimator.
func (f *FrequencyEstimator) PSuccess(action proof.Action) float64 {
	total := f.total[action.Name]
	passes := f.passes[action.Name]
	return (float64(passes) + 1) / (float64(total) + 2)
}

// Observe implements Estimator.
func (f *FrequencyEstimator) Observe(action proof.Action, pass bool) {
	f.total[action.Name]++
	if pass {
		f.passes[action.Name]++
	}
}
