// Package store provides SQLite-backed durable storage for fuzzing runs.
//
// The store keeps three append-mostly tables:
//   - contexts: encoded FullProgramContext blobs, keyed by content ID
//   - runs: one record per executed test case with the oracle verdict
//   - request_events: execution feedback keyed by program ID, read back as
//     PerTestcaseMetadata when growing that program again
//
// Ordering uses the runs.seq logical clock, never timestamps, so listing
// is deterministic across replays.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
