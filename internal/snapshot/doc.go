// Package snapshot provides SQLite-backed, content-addressed snapshots
// of the mutable cognitive state.
//
// A snapshot is a deep copy of the state's canonical serialization,
// keyed by its content hash. Snapshots are immutable once created and
// may be read concurrently; restoring never touches the journal - a
// rollback is visible there as an explicit rollback entry referencing
// the restored snapshot, not as a silent state change.
//
// Snapshots are garbage-collected only after the run's audit pack has
// been assembled; until then they remain available for replay and
// debugging.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package snapshot
