package policy

import (
	"context"

	"github.com/veridical/pact/internal/proof"
)

// ProofEvaluator adapts the policy evaluator to the verifier's
// Evaluator contract for the policy proof kind.
type ProofEvaluator struct {
	eval *Evaluator
}

// NewProofEvaluator wraps a compiled rule set for use by the verifier.
func NewProofEvaluator(eval *Evaluator) *ProofEvaluator {
	return &ProofEvaluator{eval: eval}
}

// Evaluate implements proof.Evaluator. The fact set handed to the
// rules is the action plus the obligation IDs in force, nothing else -
// the evaluation is hermetic by construction.
func (p *ProofEvaluator) Evaluate(ctx context.Context, req proof.Request) (proof.Finding, error) {
	if err := ctx.Err(); err != nil {
		return proof.Finding{}, err
	}

	obligations := make([]string, 0, len(req.Obligations))
	for _, k := range req.Obligations {
		obligations = append(obligations, k.ID)
	}

	facts := map[string]any{
		"action": req.Result.Action.CanonicalMap(),
	}
	if len(obligations) > 0 {
		facts["obligations"] = obligations
	}

	decision, err := p.eval.Check(facts)
	if err != nil {
		return proof.Finding{}, err
	}

	if decision.Allow {
		return proof.Finding{Verdict: proof.VerdictPass}, nil
	}

	return proof.Finding{
		Verdict:  proof.VerdictDeny,
		Detail:   decision.Deny[0],
		Evidence: decision.Deny,
		FailCode: proof.FailPolicyViolation,
	}, nil
}
