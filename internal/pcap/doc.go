// Package pcap assembles and persists Proof-Carrying Action records.
//
// A PCAP binds an executed action to its proofs, its measured cost,
// and its verdict, plus content hashes of the state before and after.
// It is the single point where an action's effects become part of the
// permanent record: no action is considered done until its PCAP has
// been durably written and its journal entry appended.
//
// PCAPs are persisted as individual JSON documents keyed by their
// content-addressed identifier and are immutable once written. The
// store enforces write-once: rewriting an ID with different content is
// rejected, rewriting identical content is an idempotent no-op.
package pcap
