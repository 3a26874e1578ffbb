// Package policy implements the policy-rule collaborator: given
// structured input facts about an action, it returns an allow/deny
// decision with one message per violated rule.
//
// Rules are CUE constraints evaluated with the CUE SDK's Go API
// directly (not a CLI subprocess). A fact set that fails to unify with
// a rule produces a deny message; an action is allowed iff every rule
// unifies cleanly.
//
// The package also adapts the decision into the proof.Evaluator
// contract so the verifier can run policy proofs like any other kind.
package policy
