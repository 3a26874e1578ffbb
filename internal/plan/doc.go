// Package plan implements the planner and its control loop.
//
// Each plan step runs the state machine
//
//	Propose -> Score -> Execute -> Verify -> {Commit | Rollback}
//
// as data, not control transfer: every step returns an explicit
// StepOutcome, and the rollback branch is just the failing arm of that
// result. On rollback the store restores the pre-step state, a new
// obligation is derived from the failure (incident -> rule), and the
// planner retries the remaining goal under the augmented constraint
// set, bounded by the max_replans budget.
//
// Candidate proposal and scoring are read-only with respect to shared
// state, so a generator is free to parallelize across the k variants.
// Execute and Verify
// for a given step run to completion before the next step begins; the
// loop is otherwise single-threaded per plan so the journal's causal
// order stays unambiguous.
package plan
