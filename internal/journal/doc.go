// Package journal provides the append-only, hash-chained action log
// with daily Merkle anchoring.
//
// The journal is an arena of immutable entries indexed by position.
// Hashes are computed once at insertion; no entry is ever referenced
// by a mutable pointer after creation. Corrections never rewrite
// history: a correction is itself a new entry that refutes a prior one
// by reference (WORM discipline).
//
// # Chain invariants
//
//   - entry.Hash = H(entry without hash, timestamp, merkle_root_day)
//   - entry.ParentHash equals the Hash of the immediately preceding
//     entry; the genesis entry has the fixed sentinel parent "genesis"
//   - appends use optimistic concurrency: a writer that read a stale
//     tip is rejected, guaranteeing a single linear chain even under
//     concurrent writers
//
// Timestamps are recorded for audit but excluded from entry hashes, so
// two runs with identical inputs produce bit-identical chains except
// timestamps. The merkle_root_day field is written by the daily anchor
// after its entry exists; it is likewise excluded from the entry hash,
// which is why anchoring does not break the chain.
//
// Integrity violations are fatal to the whole run: a broken link or an
// attempted mutation of a past entry invalidates the auditability
// guarantee and must abort before any further append.
package journal
