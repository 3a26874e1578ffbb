// Package proof defines the closed set of proof kinds, the verdict
// lattice, the failure taxonomy, and the verifier that aggregates
// individual proof evaluations into one pass/fail verdict.
//
// Proof evaluators (unit-test runner, property-test runner, policy-rule
// evaluator, static-analysis tool) are external collaborators. The
// verifier consumes only their verdicts and structured findings through
// the Evaluator contract; it never inspects how a verdict was produced.
//
// Dispatch over proof kinds is a closed tagged set with one registered
// handler per kind. Adding a kind is a controlled extension of the set,
// not open-ended reflection.
package proof
