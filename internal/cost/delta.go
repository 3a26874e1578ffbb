package cost

import (
	"fmt"

	"github.com/veridical/pact/internal/state"
)

// Delta holds the five component distances between two states, each
// normalized to 0..1000 thousandths.
type Delta struct {
	DH int64 `json:"dh"` // hypotheses
	DE int64 `json:"de"` // evidence
	DK int64 `json:"dk"` // constraints
	DA int64 `json:"da"` // artifacts
	DJ int64 `json:"dj"` // journal tip
}

// Weights combines the component distances. Calibrated offline and
// fixed for a run; must sum to exactly one (1000 thousandths).
type Weights struct {
	WH int64 `json:"wh"`
	WE int64 `json:"we"`
	WK int64 `json:"wk"`
	WA int64 `json:"wa"`
	WJ int64 `json:"wj"`
}

// DefaultWeights is the stock calibration: hypotheses and artifacts
// dominate, the journal-tip component is a small tie-breaking term.
var DefaultWeights = Weights{WH: 300, WE: 200, WK: 200, WA: 250, WJ: 50}

// Validate rejects weight sets that do not sum to the full scale.
func (w Weights) Validate() error {
	sum := w.WH + w.WE + w.WK + w.WA + w.WJ
	if sum != MillisScale {
		return fmt.Errorf("delta weights sum to %d, want %d", sum, MillisScale)
	}
	for name, c := range map[string]int64{"wh": w.WH, "we": w.WE, "wk": w.WK, "wa": w.WA, "wj": w.WJ} {
		if c < 0 {
			return fmt.Errorf("delta weight %s is negative: %d", name, c)
		}
	}
	return nil
}

// Total combines the components under the weights, in thousandths.
func (d Delta) Total(w Weights) int64 {
	return (d.DH*w.WH + d.DE*w.WE + d.DK*w.WK + d.DA*w.WA + d.DJ*w.WJ) / MillisScale
}

// CanonicalMap returns the canonical form of the delta for hashing.
func (d Delta) CanonicalMap() map[string]any {
	return map[string]any{
		"dh": d.DH,
		"de": d.DE,
		"dk": d.DK,
		"da": d.DA,
		"dj": d.DJ,
	}
}

// ComputeDelta measures how far the actual post-state landed from the
// intended post-state, component by component. Each component is the
// normalized symmetric-difference ratio of the corresponding ID sets;
// the journal component is binary (tips equal or not).
func ComputeDelta(actual, intended *state.State) Delta {
	return Delta{
		DH: setDistance(hypothesisKeys(actual), hypothesisKeys(intended)),
		DE: setDistance(evidenceKeys(actual), evidenceKeys(intended)),
		DK: setDistance(constraintKeys(actual), constraintKeys(intended)),
		DA: setDistance(artifactKeys(actual), artifactKeys(intended)),
		DJ: tipDistance(actual.JournalTip, intended.JournalTip),
	}
}

// setDistance is the symmetric difference over the union, in
// thousandths. Two empty sets are identical (distance 0).
func setDistance(a, b map[string]bool) int64 {
	union := 0
	diff := 0
	for k := range a {
		union++
		if !b[k] {
			diff++
		}
	}
	for k := range b {
		if !a[k] {
			union++
			diff++
		}
	}
	if union == 0 {
		return 0
	}
	return int64(diff) * MillisScale / int64(union)
}

func tipDistance(a, b string) int64 {
	if a == b {
		return 0
	}
	return MillisScale
}

// Component keys include status so a refuted hypothesis differs from
// an open one with the same statement.

func hypothesisKeys(s *state.State) map[string]bool {
	m := make(map[string]bool, len(s.Hypotheses))
	for _, h := range s.Hypotheses {
		m[h.ID+"\x00"+string(h.Status)] = true
	}
	return m
}

func evidenceKeys(s *state.State) map[string]bool {
	m := make(map[string]bool, len(s.Evidence))
	for _, e := range s.Evidence {
		m[e.ID] = true
	}
	return m
}

func constraintKeys(s *state.State) map[string]bool {
	m := make(map[string]bool, len(s.Constraints))
	for _, k := range s.Constraints {
		m[k.ID] = true
	}
	return m
}

func artifactKeys(s *state.State) map[string]bool {
	m := make(map[string]bool, len(s.Artifacts))
	for _, a := range s.Artifacts {
		m[a.ID+"\x00"+a.Digest] = true
	}
	return m
}
