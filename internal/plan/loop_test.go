package plan

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridical/pact/internal/cost"
	"github.com/veridical/pact/internal/journal"
	"github.com/veridical/pact/internal/pcap"
	"github.com/veridical/pact/internal/proof"
	"github.com/veridical/pact/internal/snapshot"
	"github.com/veridical/pact/internal/state"
	"github.com/veridical/pact/internal/testutil"
)

// newLoop wires a loop from a script with in-memory collaborators and a
// stepped clock, mirroring how the CLI assembles a run.
func newLoop(t *testing.T, s *Script) (*Loop, *journal.Journal) {
	t.Helper()

	clock := testutil.NewSteppedClock(testutil.Epoch, time.Millisecond)
	j := journal.New(journal.WithNow(clock.Now))

	snaps, err := snapshot.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { snaps.Close() })

	pcaps, err := pcap.OpenStore(filepath.Join(t.TempDir(), "pcaps"))
	require.NoError(t, err)

	verifier := proof.NewVerifier(s.Seed)
	for kind, ev := range s.Evaluators() {
		require.NoError(t, verifier.Register(kind, ev))
	}

	engine, err := cost.NewEngine(cost.DefaultWeights, 0.5, nil)
	require.NoError(t, err)

	builder := pcap.NewBuilder(j, pcaps, s.Actor)

	loop, err := NewLoop(j, snaps, verifier, engine, builder,
		s.Generator(), s.Executor(), s.RequiredKinds(), s.RunID,
		WithClock(clock.Now))
	require.NoError(t, err)
	return loop, j
}

// patchScript is a one-step script whose single variant produces one
// evidence reference and one artifact.
func patchScript() *Script {
	return &Script{
		RunID:    "run-0001",
		Actor:    "planner",
		Seed:     testutil.FixedSeed(),
		Required: []string{"unit", "policy"},
		Plan: Plan{
			Goal:    "harden the config loader",
			Steps:   []Step{{Operator: "patch", InputRefs: []string{"config/loader.go"}}},
			Budgets: Budgets{MaxReplans: 1},
		},
		Steps: []StepDoc{{
			Step: 0,
			Variants: []VariantDoc{{
				Action:   ActionDoc{Name: "apply_patch", Target: "config/loader.go"},
				Reward:   5,
				Expected: VectorDoc{TimeMS: 10, AuditCost: 2, RiskMillis: 100},
				Effects: EffectsDoc{
					Evidence: []state.Evidence{
						{ID: "ev-patch", Kind: state.EvidenceTest, Ref: "runs/unit.log"},
					},
					Artifacts: []state.Artifact{
						{ID: "art-patch", Path: "patches/0001.diff", Digest: "d1"},
					},
				},
			}},
		}},
	}
}

func TestRun_HappyPath(t *testing.T) {
	s := patchScript()
	require.NoError(t, s.Validate())
	loop, j := newLoop(t, s)

	st, err := s.InitialState()
	require.NoError(t, err)

	res, err := loop.Run(context.Background(), &s.Plan, st)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, StatusCompleted, s.Plan.Status)
	assert.Equal(t, 1, res.StepsCommitted)
	assert.Equal(t, 0, res.Replans)

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.True(t, rec.Committed)
	assert.Equal(t, "apply_patch", rec.Action.Name)
	assert.NotEmpty(t, rec.PCAPID)
	assert.NotEmpty(t, rec.SnapshotID)
	assert.Nil(t, rec.Failure)

	// A faithful scripted execution diverges from its own prediction by
	// nothing.
	assert.Equal(t, int64(0), rec.DeltaMillis)

	// The effects landed in the final state, and the artifact is owned
	// by the sealing PCAP.
	require.NotNil(t, res.Final)
	require.Len(t, res.Final.Artifacts, 1)
	assert.Equal(t, rec.PCAPID, res.Final.Artifacts[0].PCAPID)
	assert.Equal(t, res.Final.JournalTip, mustTip(t, j))

	// Exactly one commit entry, chain intact.
	require.Equal(t, 1, j.Len())
	entry, err := j.Get(0)
	require.NoError(t, err)
	assert.Equal(t, journal.TypeCommit, entry.ActionType)
	require.NoError(t, j.VerifyChain(0, 0))
}

func mustTip(t *testing.T, j *journal.Journal) string {
	t.Helper()
	tip, _ := j.Tip()
	return tip
}

func TestRun_ScoringPrefersLowerRisk(t *testing.T) {
	s := patchScript()
	s.Steps[0].Variants = []VariantDoc{
		{
			Action:   ActionDoc{Name: "rewrite_module", Target: "config/loader.go"},
			Reward:   5,
			Expected: VectorDoc{TimeMS: 10, AuditCost: 2, RiskMillis: 900},
		},
		{
			Action:   ActionDoc{Name: "apply_patch", Target: "config/loader.go"},
			Reward:   5,
			Expected: VectorDoc{TimeMS: 10, AuditCost: 2, RiskMillis: 100},
		},
	}
	require.NoError(t, s.Validate())
	loop, j := newLoop(t, s)

	st, err := s.InitialState()
	require.NoError(t, err)
	res, err := loop.Run(context.Background(), &s.Plan, st)
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "apply_patch", res.Records[0].Action.Name,
		"equal reward: the risk penalty decides")

	// The risky variant was rejected at scoring time, not after a
	// failed attempt: one commit, no rollbacks.
	require.Equal(t, 1, j.Len())
	entry, err := j.Get(0)
	require.NoError(t, err)
	assert.Equal(t, journal.TypeCommit, entry.ActionType)
}

func TestRun_ReplanAfterRollback(t *testing.T) {
	s := patchScript()
	// First verification attempt fails, the retry passes.
	s.Steps[0].Variants[0].Findings = map[string][]FindingDoc{
		"unit": {
			{Verdict: "fail", Detail: "TestLoader fails", Evidence: []string{"runs/unit-0.log"}},
			{Verdict: "pass"},
		},
	}
	require.NoError(t, s.Validate())
	loop, j := newLoop(t, s)

	st, err := s.InitialState()
	require.NoError(t, err)
	res, err := loop.Run(context.Background(), &s.Plan, st)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.StepsCommitted)
	assert.Equal(t, 1, res.Replans)

	require.Len(t, res.Records, 2)

	first := res.Records[0]
	assert.False(t, first.Committed)
	require.NotNil(t, first.Failure)
	assert.Equal(t, proof.FailTestFailure, first.Failure.Code)
	assert.Equal(t, 0, first.Attempt)

	second := res.Records[1]
	assert.True(t, second.Committed)
	assert.Equal(t, 1, second.Attempt)

	// The rollback's failure became an obligation on the replan.
	found := false
	for _, k := range res.Final.Constraints {
		if k.ID == "incident/test_failure/001" {
			found = true
			assert.Equal(t, state.ProvenanceIncident, k.Provenance)
			assert.False(t, k.Critical)
		}
	}
	assert.True(t, found, "incident constraint derived from the rollback")

	// Journal: rollback then commit, chain intact.
	require.Equal(t, 2, j.Len())
	e0, _ := j.Get(0)
	e1, _ := j.Get(1)
	assert.Equal(t, journal.TypeRollback, e0.ActionType)
	assert.Equal(t, journal.TypeCommit, e1.ActionType)
	require.NoError(t, j.VerifyChain(0, 1))
}

func TestRun_PolicyDenyDerivesCriticalConstraint(t *testing.T) {
	s := patchScript()
	s.Steps[0].Variants[0].Findings = map[string][]FindingDoc{
		"policy": {
			{Verdict: "deny", Detail: "secret detected"},
			{Verdict: "pass"},
		},
	}
	require.NoError(t, s.Validate())
	loop, _ := newLoop(t, s)

	st, err := s.InitialState()
	require.NoError(t, err)
	res, err := loop.Run(context.Background(), &s.Plan, st)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, res.Status)
	found := false
	for _, k := range res.Final.Constraints {
		if k.ID == "incident/policy_violation/001" {
			found = true
			assert.True(t, k.Critical, "policy incidents are critical obligations")
		}
	}
	assert.True(t, found)
}

func TestRun_ReplanBudgetExhausted(t *testing.T) {
	s := patchScript()
	s.Plan.Budgets.MaxReplans = 1
	// Fails on every attempt: the last finding repeats.
	s.Steps[0].Variants[0].Findings = map[string][]FindingDoc{
		"unit": {{Verdict: "fail", Detail: "TestLoader fails"}},
	}
	require.NoError(t, s.Validate())
	loop, j := newLoop(t, s)

	st, err := s.InitialState()
	require.NoError(t, err)
	res, err := loop.Run(context.Background(), &s.Plan, st)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StatusFailed, s.Plan.Status)
	assert.Equal(t, 0, res.StepsCommitted)
	assert.Equal(t, 1, res.Replans)
	require.Len(t, res.Records, 2)

	// Exactly one rollback - never more than the budget allows - then
	// the failing retry seals the terminal decision.
	require.Equal(t, 2, j.Len())
	first, err := j.Get(0)
	require.NoError(t, err)
	assert.Equal(t, journal.TypeRollback, first.ActionType)
	last, err := j.Get(1)
	require.NoError(t, err)
	assert.Equal(t, journal.TypeTerminal, last.ActionType)
	assert.Contains(t, last.Notes, "replan budget 1 exhausted")
	require.NoError(t, j.VerifyChain(0, 1))
}

func TestRun_FatalFailureSkipsReplanning(t *testing.T) {
	s := patchScript()
	s.Steps[0].Variants[0].Findings = map[string][]FindingDoc{
		"unit": {{Verdict: "fail", Detail: "action shape is malformed", Code: "type_error"}},
	}
	require.NoError(t, s.Validate())
	loop, j := newLoop(t, s)

	st, err := s.InitialState()
	require.NoError(t, err)
	res, err := loop.Run(context.Background(), &s.Plan, st)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 0, res.Replans, "no replanning after a fatal failure")
	require.Len(t, res.Records, 1)

	// The single failing attempt seals the terminal entry itself: no
	// rollback entry precedes it.
	require.Equal(t, 1, j.Len())
	last, err := j.Get(0)
	require.NoError(t, err)
	assert.Equal(t, journal.TypeTerminal, last.ActionType)
	assert.Contains(t, last.Notes, "replanning skipped")
}

func TestRun_AuditBudgetExceeded(t *testing.T) {
	s := patchScript()
	s.Plan.Budgets.AuditCost = 1
	s.Initial = EffectsDoc{}
	require.NoError(t, s.Validate())
	loop, j := newLoop(t, s)

	st, err := s.InitialState()
	require.NoError(t, err)
	res, err := loop.Run(context.Background(), &s.Plan, st)
	require.NoError(t, err)

	// The step itself passed, but its audit spend (two proofs run)
	// overruns the budget and terminates the run.
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, res.StepsCommitted)
	assert.Greater(t, res.TotalCost.AuditCost, s.Plan.Budgets.AuditCost)

	require.Equal(t, 2, j.Len())
	last, err := j.Get(1)
	require.NoError(t, err)
	assert.Equal(t, journal.TypeTerminal, last.ActionType)
	assert.Contains(t, last.Notes, "resource budget exhausted")
}

func TestRun_InvalidPlanSealsTerminal(t *testing.T) {
	s := patchScript()
	loop, j := newLoop(t, s)

	bad := Plan{Goal: "no steps"}
	st, err := s.InitialState()
	require.NoError(t, err)

	res, err := loop.Run(context.Background(), &bad, st)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StatusFailed, bad.Status)
	assert.Empty(t, res.Records)

	require.Equal(t, 1, j.Len())
	entry, err := j.Get(0)
	require.NoError(t, err)
	assert.Equal(t, journal.TypeTerminal, entry.ActionType)
	assert.Equal(t, s.RunID, entry.InputRefs[0])
	assert.Contains(t, entry.Notes, "plan rejected before execution")
}

func TestNewLoop_Validation(t *testing.T) {
	s := patchScript()
	_, err := NewLoop(nil, nil, nil, nil, nil, s.Generator(), s.Executor(), nil, "run-1")
	require.Error(t, err, "no required kinds")

	_, err = NewLoop(nil, nil, nil, nil, nil, s.Generator(), s.Executor(),
		[]proof.Kind{proof.Kind("fuzz")}, "run-1")
	require.Error(t, err, "unknown kind")

	_, err = NewLoop(nil, nil, nil, nil, nil, s.Generator(), s.Executor(),
		[]proof.Kind{proof.KindUnit}, "")
	require.Error(t, err, "empty run ID")
}

func TestPlan_Validate(t *testing.T) {
	valid := Plan{
		Goal:    "g",
		Steps:   []Step{{Operator: "patch"}},
		Budgets: Budgets{MaxReplans: 1},
	}
	require.NoError(t, valid.Validate())

	cases := map[string]Plan{
		"no goal":          {Steps: []Step{{Operator: "patch"}}},
		"no steps":         {Goal: "g"},
		"empty operator":   {Goal: "g", Steps: []Step{{}}},
		"negative time":    {Goal: "g", Steps: []Step{{Operator: "p"}}, Budgets: Budgets{TimeMS: -1}},
		"negative audit":   {Goal: "g", Steps: []Step{{Operator: "p"}}, Budgets: Budgets{AuditCost: -1}},
		"negative replans": {Goal: "g", Steps: []Step{{Operator: "p"}}, Budgets: Budgets{MaxReplans: -1}},
		"unknown status":   {Goal: "g", Status: Status("paused"), Steps: []Step{{Operator: "p"}}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, p.Validate())
		})
	}
}
