package state

import (
	"fmt"

	"github.com/veridical/pact/internal/canon"
)

// New creates an empty state bound to a seed context.
func New(env Seed) *State {
	return &State{
		Hypotheses:  []Hypothesis{},
		Evidence:    []Evidence{},
		Constraints: []Constraint{},
		Artifacts:   []Artifact{},
		Env:         env,
	}
}

// Clone returns a deep copy. The copy shares nothing mutable with the
// original, so a snapshot taken before a step cannot be disturbed by
// the step's execution.
func (s *State) Clone() *State {
	c := &State{
		Hypotheses:  make([]Hypothesis, len(s.Hypotheses)),
		Evidence:    make([]Evidence, len(s.Evidence)),
		Constraints: make([]Constraint, len(s.Constraints)),
		Artifacts:   make([]Artifact, len(s.Artifacts)),
		JournalTip:  s.JournalTip,
		Env:         s.Env,
	}
	copy(c.Hypotheses, s.Hypotheses)
	copy(c.Evidence, s.Evidence)
	copy(c.Constraints, s.Constraints)
	copy(c.Artifacts, s.Artifacts)
	return c
}

// AddConstraint appends an obligation. Constraints only grow - there is
// deliberately no removal operation on State.
func (s *State) AddConstraint(c Constraint) error {
	for _, existing := range s.Constraints {
		if existing.ID == c.ID {
			return fmt.Errorf("constraint %s already present", c.ID)
		}
	}
	s.Constraints = append(s.Constraints, c)
	return nil
}

// AddEvidence appends a typed evidence reference.
func (s *State) AddEvidence(e Evidence) error {
	for _, existing := range s.Evidence {
		if existing.ID == e.ID {
			return fmt.Errorf("evidence %s already present", e.ID)
		}
	}
	s.Evidence = append(s.Evidence, e)
	return nil
}

// AddArtifact records a generated artifact. Ownership by a PCAP is set
// when the PCAP builder seals the action that produced it.
func (s *State) AddArtifact(a Artifact) error {
	for _, existing := range s.Artifacts {
		if existing.ID == a.ID {
			return fmt.Errorf("artifact %s already present", a.ID)
		}
	}
	s.Artifacts = append(s.Artifacts, a)
	return nil
}

// SetHypothesis adds or updates a hypothesis by ID.
func (s *State) SetHypothesis(h Hypothesis) {
	for i, existing := range s.Hypotheses {
		if existing.ID == h.ID {
			s.Hypotheses[i] = h
			return
		}
	}
	s.Hypotheses = append(s.Hypotheses, h)
}

// Hash returns the content hash of the state under the state domain.
// Two states with identical contents always hash identically, which is
// what makes pre/post hashes on a PCAP meaningful.
func (s *State) Hash() (string, error) {
	return canon.Hash(canon.DomainState, s.canonicalMap())
}

// MustHash is like Hash but panics on error. Use only in tests.
func (s *State) MustHash() string {
	h, err := s.Hash()
	if err != nil {
		panic(err)
	}
	return h
}

// canonicalMap converts the state to the canonical form used for
// hashing and snapshot serialization. Field order is irrelevant (keys
// are sorted during marshaling); slice order is significant and
// preserved.
func (s *State) canonicalMap() map[string]any {
	hyps := make([]any, len(s.Hypotheses))
	for i, h := range s.Hypotheses {
		hyps[i] = map[string]any{
			"id":        h.ID,
			"statement": h.Statement,
			"status":    string(h.Status),
		}
	}

	evs := make([]any, len(s.Evidence))
	for i, e := range s.Evidence {
		evs[i] = map[string]any{
			"id":   e.ID,
			"kind": string(e.Kind),
			"ref":  e.Ref,
		}
	}

	cons := make([]any, len(s.Constraints))
	for i, k := range s.Constraints {
		cons[i] = map[string]any{
			"id":         k.ID,
			"rule":       k.Rule,
			"provenance": string(k.Provenance),
			"critical":   k.Critical,
		}
	}

	arts := make([]any, len(s.Artifacts))
	for i, a := range s.Artifacts {
		m := map[string]any{
			"id":     a.ID,
			"path":   a.Path,
			"digest": a.Digest,
		}
		if a.PCAPID != "" {
			m["pcap_id"] = a.PCAPID
		}
		arts[i] = m
	}

	m := map[string]any{
		"hypotheses":  hyps,
		"evidence":    evs,
		"constraints": cons,
		"artifacts":   arts,
		"env": map[string]any{
			"random":    s.Env.Random,
			"revision":  s.Env.Revision,
			"toolchain": s.Env.Toolchain,
		},
	}
	if s.JournalTip != "" {
		m["journal_tip"] = s.JournalTip
	}
	return m
}

// CanonicalBytes returns the RFC 8785 serialization of the state.
// The snapshot store persists exactly these bytes, so restore is
// guaranteed to reproduce a state with the identical hash.
func (s *State) CanonicalBytes() ([]byte, error) {
	return canon.Marshal(s.canonicalMap())
}
