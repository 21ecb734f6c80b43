// Package store provides the durable run journal and the revision cache.
//
// The journal records, per run:
//   - Runs: comment, policy, dry-run flag, start and finish time
//   - Outcomes: one row per reconciled entity with the action taken and the
//     content hash of the uploaded correction
//   - Credited: the changesets reverted by the run
//   - Manual reviews: entities handed to an operator
//
// A resumed run consults Uploaded before dispatching: an entity version whose
// identical correction was already uploaded is skipped.
//
// The revision cache stores historical revisions, which never change once
// written, so a rerun does not fetch them again.
//
// # Backends
//
// Open picks the backend from the DSN scheme:
//   - sqlite://path or a bare path: SQLite (WAL, busy_timeout, user_version
//     migrations, single connection)
//   - memory://: in-memory SQLite, gone when closed
//   - postgres:// or postgresql://: PostgreSQL through lib/pq
//
// Content hashes are computed by package canonical.
package store
