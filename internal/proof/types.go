package proof

import "fmt"

// Kind identifies a proof category. The set is closed: every kind has
// exactly one registered evaluator, and the verifier rejects kinds
// outside this set.
type Kind string

const (
	KindUnit     Kind = "unit"
	KindProperty Kind = "property"
	KindPolicy   Kind = "policy"
	KindStatic   Kind = "static"
)

// ValidKinds defines the allowed proof kinds.
var ValidKinds = map[Kind]bool{
	KindUnit:     true,
	KindProperty: true,
	KindPolicy:   true,
	KindStatic:   true,
}

// ValidateKind rejects kinds outside the closed set.
func ValidateKind(k Kind) error {
	if !ValidKinds[k] {
		return fmt.Errorf("unknown proof kind %q", k)
	}
	return nil
}

// Verdict is the outcome of a proof evaluation or of verdict
// aggregation.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
	VerdictDeny Verdict = "deny"
)

// Proof records a single proof evaluation: what kind ran, what it
// concluded, and the evidence references backing the conclusion.
type Proof struct {
	Kind     Kind     `json:"kind"`
	Verdict  Verdict  `json:"verdict"`
	Evidence []string `json:"evidence,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

// Action describes a code-modification action: what operator runs,
// with which parameters, against which target.
//
// Parameter values are restricted to canonical JSON types (string,
// int64, bool, nested maps/slices of those) so the action can be
// content-addressed.
type Action struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
	Target string         `json:"target"`
}

// CanonicalMap returns the canonical form of the action for hashing.
func (a Action) CanonicalMap() map[string]any {
	m := map[string]any{
		"name":   a.Name,
		"target": a.Target,
	}
	if len(a.Params) > 0 {
		m["params"] = a.Params
	}
	return m
}

// Result is the observable outcome of executing an action: the action
// itself plus references to what it produced.
type Result struct {
	Action      Action   `json:"action"`
	OutputRefs  []string `json:"output_refs,omitempty"`
	ArtifactIDs []string `json:"artifact_ids,omitempty"`
}
