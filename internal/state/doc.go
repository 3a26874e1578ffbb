// Package state defines the cognitive state that the control loop threads
// through every component call.
//
// The state is an explicit, versioned value - never a hidden singleton.
// Each mutation produces a new version identified by its content hash,
// which is what lets replay reconstruct the exact state from the journal
// prefix plus the immutable seed context.
//
// Mutation discipline:
//   - Only the planner and the PCAP builder mutate state, via Clone
//   - Constraints grow monotonically: AddConstraint appends, nothing removes
//   - The seed context is immutable once a run starts
package state
