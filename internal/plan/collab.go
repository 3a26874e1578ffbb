package plan

import (
	"context"

	"github.com/veridical/pact/internal/cost"
	"github.com/veridical/pact/internal/proof"
	"github.com/veridical/pact/internal/state"
)

// Proposal is one candidate action variant for a step, with the
// goal-defined reward and expected cost the scorer needs.
type Proposal struct {
	Action   proof.Action
	Reward   float64
	Expected cost.Vector

	// Intended predicts the post-state the action is meant to produce
	// from a given pre-state. When set, the loop measures the
	// divergence between the actual and intended post-states. Nil
	// means the generator makes no prediction. A prediction that
	// cannot be constructed is an error, not a partial state.
	Intended func(pre *state.State) (*state.State, error)
}

// ProposeRequest carries everything a generator may condition on.
// The constraint set is the current one, including any obligations
// derived from earlier failures, so a replan sees what the first
// attempt learned.
type ProposeRequest struct {
	Goal        string
	Step        Step
	Attempt     int
	Constraints []state.Constraint

	// PriorFailure is set on replans: the reason the previous attempt
	// at this step was rolled back.
	PriorFailure *proof.FailReason
}

// Generator proposes k >= 1 candidate action variants for a step.
// Propose must not mutate shared state; the loop may score proposals
// concurrently.
type Generator interface {
	Propose(ctx context.Context, req ProposeRequest) ([]Proposal, error)
}

// Executor applies a selected action to a working copy of the state
// and reports what it produced. The loop hands it a clone, so an
// executor never needs to worry about disturbing the snapshot.
type Executor interface {
	Execute(ctx context.Context, action proof.Action, st *state.State) (proof.Result, error)
}
