package testutil

import "github.com/veridical/pact/internal/state"

// FixedSeed is the reproducibility context shared by tests.
func FixedSeed() state.Seed {
	return state.Seed{
		Random:    42,
		Revision:  "rev-test-0001",
		Toolchain: "go-test",
	}
}

// BaseState returns a small populated state for tests: one open
// hypothesis, one evidence reference, one critical constraint.
func BaseState() *state.State {
	st := state.New(FixedSeed())
	st.SetHypothesis(state.Hypothesis{
		ID:        "h-001",
		Statement: "the patch preserves the public API",
		Status:    state.HypothesisOpen,
	})
	if err := st.AddEvidence(state.Evidence{
		ID:   "ev-001",
		Kind: state.EvidenceCode,
		Ref:  "src/server/router.go",
	}); err != nil {
		panic(err)
	}
	if err := st.AddConstraint(state.Constraint{
		ID:         "k-no-secrets",
		Rule:       "no credentials in generated content",
		Provenance: state.ProvenanceRegulatory,
		Critical:   true,
	}); err != nil {
		panic(err)
	}
	return st
}
