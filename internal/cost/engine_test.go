package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridical/pact/internal/proof"
	"github.com/veridical/pact/internal/state"
)

func testEngine(t *testing.T, lambda float64) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultWeights, lambda, nil)
	require.NoError(t, err)
	return e
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(Weights{WH: 500, WE: 500, WK: 500}, 0.5, nil)
	require.Error(t, err, "weights must sum to full scale")

	_, err = NewEngine(DefaultWeights, -1, nil)
	require.Error(t, err, "negative lambda")
}

func TestCost_AuditAndRisk(t *testing.T) {
	e := testEngine(t, 0.5)

	v := e.Cost(Trace{
		Elapsed: 1500 * time.Millisecond,
		Retries: 1,
		ProofsRun: []proof.Proof{
			{Kind: proof.KindUnit, Verdict: proof.VerdictPass},
			{Kind: proof.KindPolicy, Verdict: proof.VerdictDeny},
		},
		Obligations: []state.Constraint{
			{ID: "k1", Critical: true},
			{ID: "k2"},
		},
		Failures: []*proof.FailReason{
			proof.NewFailReason(proof.FailPolicyViolation, "secret detected"),
		},
	})

	assert.Equal(t, int64(1500), v.TimeMS)
	assert.Equal(t, int64(1), v.Retries)
	assert.Equal(t, int64(4), v.AuditCost, "proofs run + obligations covered")
	// Policy violation (500) plus one critical obligation during a
	// failed attempt (100).
	assert.Equal(t, int64(600), v.RiskMillis)
	require.NoError(t, v.Validate())
}

func TestCost_RiskSaturates(t *testing.T) {
	e := testEngine(t, 0.5)

	failures := []*proof.FailReason{
		proof.NewFailReason(proof.FailPolicyViolation, "a"),
		proof.NewFailReason(proof.FailPolicyViolation, "b"),
		proof.NewFailReason(proof.FailTypeError, "c"),
	}
	v := e.Cost(Trace{Failures: failures})
	assert.Equal(t, int64(MillisScale), v.RiskMillis)
	require.NoError(t, v.Validate())
}

func TestCost_CleanRun(t *testing.T) {
	e := testEngine(t, 0.5)
	v := e.Cost(Trace{
		Elapsed:   10 * time.Millisecond,
		ProofsRun: []proof.Proof{{Kind: proof.KindUnit, Verdict: proof.VerdictPass}},
	})
	assert.Equal(t, int64(0), v.RiskMillis)
}

func TestVector_Validate(t *testing.T) {
	assert.NoError(t, Vector{}.Validate())
	assert.Error(t, Vector{TimeMS: -1}.Validate())
	assert.Error(t, Vector{RiskMillis: MillisScale + 1}.Validate())
}

func TestVector_Add(t *testing.T) {
	a := Vector{TimeMS: 10, Retries: 1, AuditCost: 3, RiskMillis: 200, TechDebt: 1}
	b := Vector{TimeMS: 5, Backtracks: 2, AuditCost: 4, RiskMillis: 700}

	sum := a.Add(b)
	assert.Equal(t, int64(15), sum.TimeMS)
	assert.Equal(t, int64(1), sum.Retries)
	assert.Equal(t, int64(2), sum.Backtracks)
	assert.Equal(t, int64(7), sum.AuditCost)
	assert.Equal(t, int64(700), sum.RiskMillis, "risk combines as max, not sum")
	assert.Equal(t, int64(1), sum.TechDebt)
}

func TestComputeDelta_IdenticalStates(t *testing.T) {
	seed := state.Seed{Random: 1, Revision: "r", Toolchain: "t"}
	a := state.New(seed)
	b := state.New(seed)

	d := ComputeDelta(a, b)
	assert.Equal(t, Delta{}, d)
	assert.Equal(t, int64(0), d.Total(DefaultWeights))
}

func TestComputeDelta_Components(t *testing.T) {
	seed := state.Seed{Random: 1, Revision: "r", Toolchain: "t"}

	actual := state.New(seed)
	actual.SetHypothesis(state.Hypothesis{ID: "h1", Statement: "s", Status: state.HypothesisSupported})
	require.NoError(t, actual.AddEvidence(state.Evidence{ID: "e1", Kind: state.EvidenceTest, Ref: "x"}))
	actual.JournalTip = "tip-a"

	intended := state.New(seed)
	// Same hypothesis ID, different status: counts as divergence.
	intended.SetHypothesis(state.Hypothesis{ID: "h1", Statement: "s", Status: state.HypothesisOpen})
	require.NoError(t, intended.AddEvidence(state.Evidence{ID: "e1", Kind: state.EvidenceTest, Ref: "x"}))
	intended.JournalTip = "tip-a"

	d := ComputeDelta(actual, intended)
	assert.Equal(t, int64(1000), d.DH, "disjoint status keys: symmetric diff equals union")
	assert.Equal(t, int64(0), d.DE)
	assert.Equal(t, int64(0), d.DJ)

	// Weighted total: only the hypothesis component contributes.
	assert.Equal(t, DefaultWeights.WH, d.Total(DefaultWeights))
}

func TestComputeDelta_PartialOverlap(t *testing.T) {
	seed := state.Seed{Random: 1, Revision: "r", Toolchain: "t"}

	actual := state.New(seed)
	require.NoError(t, actual.AddEvidence(state.Evidence{ID: "e1", Kind: state.EvidenceTest, Ref: "x"}))
	require.NoError(t, actual.AddEvidence(state.Evidence{ID: "e2", Kind: state.EvidenceTest, Ref: "y"}))

	intended := state.New(seed)
	require.NoError(t, intended.AddEvidence(state.Evidence{ID: "e1", Kind: state.EvidenceTest, Ref: "x"}))
	require.NoError(t, intended.AddEvidence(state.Evidence{ID: "e3", Kind: state.EvidenceTest, Ref: "z"}))

	d := ComputeDelta(actual, intended)
	// union {e1,e2,e3}, diff {e2,e3}: 2/3 in thousandths.
	assert.Equal(t, int64(666), d.DE)
}

func TestWeights_Validate(t *testing.T) {
	assert.NoError(t, DefaultWeights.Validate())
	assert.Error(t, Weights{WH: 1000, WE: 0, WK: 0, WA: 0, WJ: 1}.Validate())
	assert.Error(t, Weights{WH: 1100, WE: -100, WK: 0, WA: 0, WJ: 0}.Validate())
}

func TestUtility_RankingAndTieBreaks(t *testing.T) {
	e := testEngine(t, 0.001)

	risky := Candidate{
		Action:   proof.Action{Name: "refactor_all", Target: "src"},
		Reward:   10,
		Expected: Vector{TimeMS: 100, AuditCost: 5, RiskMillis: 900},
	}
	safe := Candidate{
		Action:   proof.Action{Name: "targeted_patch", Target: "src"},
		Reward:   10,
		Expected: Vector{TimeMS: 100, AuditCost: 5, RiskMillis: 100},
	}

	// With no history both actions have P(success)=0.5; identical
	// reward means the risk penalty decides.
	best, err := e.Rank([]Candidate{risky, safe})
	require.NoError(t, err)
	assert.Equal(t, 1, best)

	// Exact utility tie: lower expected audit cost wins.
	cheapAudit := Candidate{Action: proof.Action{Name: "a"}, Reward: 5, Expected: Vector{AuditCost: 1}}
	richAudit := Candidate{Action: proof.Action{Name: "b"}, Reward: 5, Expected: Vector{AuditCost: 1}}
	// Same expected vector: the earlier index wins.
	best, err = testEngine(t, 0).Rank([]Candidate{richAudit, cheapAudit})
	require.NoError(t, err)
	assert.Equal(t, 0, best)

	_, err = e.Rank(nil)
	require.Error(t, err)
}

func TestFrequencyEstimator_Laplace(t *testing.T) {
	est := NewFrequencyEstimator()
	action := proof.Action{Name: "apply_patch", Target: "x"}

	assert.InDelta(t, 0.5, est.PSuccess(action), 1e-9, "no history starts at 1/2")

	est.Observe(action, true)
	assert.InDelta(t, 2.0/3.0, est.PSuccess(action), 1e-9)

	est.Observe(action, false)
	assert.InDelta(t, 0.5, est.PSuccess(action), 1e-9)

	est.Observe(action, true)
	est.Observe(action, true)
	assert.InDelta(t, 4.0/6.0, est.PSuccess(action), 1e-9)

	// History is keyed by action name; other actions are unaffected.
	other := proof.Action{Name: "rename_symbol", Target: "x"}
	assert.InDelta(t, 0.5, est.PSuccess(other), 1e-9)
}

func TestEngine_ObserveFeedsEstimator(t *testing.T) {
	est := NewFrequencyEstimator()
	e, err := NewEngine(DefaultWeights, 0.5, est)
	require.NoError(t, err)

	action := proof.Action{Name: "apply_patch", Target: "x"}
	e.Observe(action, true)
	e.Observe(action, true)
	assert.InDelta(t, 3.0/4.0, est.PSuccess(action), 1e-9)
}
