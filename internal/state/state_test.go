package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed() Seed {
	return Seed{Random: 42, Revision: "rev-1", Toolchain: "go-test"}
}

func TestClone_SharesNothing(t *testing.T) {
	orig := New(testSeed())
	orig.SetHypothesis(Hypothesis{ID: "h1", Statement: "s", Status: HypothesisOpen})
	require.NoError(t, orig.AddConstraint(Constraint{ID: "k1", Rule: "r", Provenance: ProvenanceInternal}))

	clone := orig.Clone()
	clone.SetHypothesis(Hypothesis{ID: "h1", Statement: "s", Status: HypothesisRefuted})
	require.NoError(t, clone.AddConstraint(Constraint{ID: "k2", Rule: "r2", Provenance: ProvenanceIncident}))
	clone.JournalTip = "tip"

	assert.Equal(t, HypothesisOpen, orig.Hypotheses[0].Status)
	assert.Len(t, orig.Constraints, 1)
	assert.Empty(t, orig.JournalTip)
}

func TestAddConstraint_Monotonic(t *testing.T) {
	st := New(testSeed())
	require.NoError(t, st.AddConstraint(Constraint{ID: "k1", Rule: "a", Provenance: ProvenanceInternal}))

	err := st.AddConstraint(Constraint{ID: "k1", Rule: "different", Provenance: ProvenanceIncident})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already present")
	assert.Len(t, st.Constraints, 1)
}

func TestAddEvidence_RejectsDuplicateID(t *testing.T) {
	st := New(testSeed())
	require.NoError(t, st.AddEvidence(Evidence{ID: "e1", Kind: EvidenceTest, Ref: "a"}))
	require.Error(t, st.AddEvidence(Evidence{ID: "e1", Kind: EvidenceDoc, Ref: "b"}))
}

func TestSetHypothesis_UpdatesInPlace(t *testing.T) {
	st := New(testSeed())
	st.SetHypothesis(Hypothesis{ID: "h1", Statement: "s", Status: HypothesisOpen})
	st.SetHypothesis(Hypothesis{ID: "h1", Statement: "s", Status: HypothesisSupported})

	require.Len(t, st.Hypotheses, 1)
	assert.Equal(t, HypothesisSupported, st.Hypotheses[0].Status)
}

func TestHash_IdenticalContentsIdenticalHash(t *testing.T) {
	build := func() *State {
		st := New(testSeed())
		st.SetHypothesis(Hypothesis{ID: "h1", Statement: "claim", Status: HypothesisOpen})
		require.NoError(t, st.AddEvidence(Evidence{ID: "e1", Kind: EvidenceCode, Ref: "main.go"}))
		require.NoError(t, st.AddConstraint(Constraint{ID: "k1", Rule: "no secrets", Provenance: ProvenanceRegulatory, Critical: true}))
		require.NoError(t, st.AddArtifact(Artifact{ID: "a1", Path: "patch.diff", Digest: "abc"}))
		return st
	}

	ha, err := build().Hash()
	require.NoError(t, err)
	hb, err := build().Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHash_SensitiveToEveryComponent(t *testing.T) {
	base := func() *State {
		st := New(testSeed())
		st.SetHypothesis(Hypothesis{ID: "h1", Statement: "claim", Status: HypothesisOpen})
		return st
	}

	mutations := map[string]func(*State){
		"hypothesis status": func(st *State) {
			st.SetHypothesis(Hypothesis{ID: "h1", Statement: "claim", Status: HypothesisRefuted})
		},
		"evidence": func(st *State) {
			_ = st.AddEvidence(Evidence{ID: "e1", Kind: EvidenceTest, Ref: "x"})
		},
		"constraint": func(st *State) {
			_ = st.AddConstraint(Constraint{ID: "k1", Rule: "r", Provenance: ProvenanceInternal})
		},
		"artifact": func(st *State) {
			_ = st.AddArtifact(Artifact{ID: "a1", Path: "p", Digest: "d"})
		},
		"journal tip": func(st *State) {
			st.JournalTip = "tip"
		},
		"seed": func(st *State) {
			st.Env.Random = 43
		},
	}

	reference := base().MustHash()
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			st := base()
			mutate(st)
			assert.NotEqual(t, reference, st.MustHash())
		})
	}
}

func TestCanonicalBytes_RoundTrip(t *testing.T) {
	st := New(testSeed())
	st.SetHypothesis(Hypothesis{ID: "h1", Statement: "claim", Status: HypothesisSupported})
	require.NoError(t, st.AddEvidence(Evidence{ID: "e1", Kind: EvidenceRunlog, Ref: "runs/1.log"}))
	require.NoError(t, st.AddConstraint(Constraint{ID: "k1", Rule: "r", Provenance: ProvenanceIncident, Critical: true}))
	require.NoError(t, st.AddArtifact(Artifact{ID: "a1", Path: "p", Digest: "d", PCAPID: "pcap-1"}))
	st.JournalTip = "sometip"

	blob, err := st.CanonicalBytes()
	require.NoError(t, err)

	restored, err := FromCanonicalBytes(blob)
	require.NoError(t, err)

	assert.Equal(t, st.MustHash(), restored.MustHash())
	assert.Equal(t, st.Hypotheses, restored.Hypotheses)
	assert.Equal(t, st.Evidence, restored.Evidence)
	assert.Equal(t, st.Constraints, restored.Constraints)
	assert.Equal(t, st.Artifacts, restored.Artifacts)
	assert.Equal(t, st.JournalTip, restored.JournalTip)
	assert.Equal(t, st.Env, restored.Env)
}

func TestCanonicalBytes_EmptyStateRoundTrip(t *testing.T) {
	st := New(testSeed())

	blob, err := st.CanonicalBytes()
	require.NoError(t, err)
	restored, err := FromCanonicalBytes(blob)
	require.NoError(t, err)
	assert.Equal(t, st.MustHash(), restored.MustHash())
}
