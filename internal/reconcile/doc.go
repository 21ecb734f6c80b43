// Package reconcile implements the version-history reconciliation engine.
//
// Given the known bad revisions of one entity, the engine pulls the rest of
// the entity's history from a Source, walks it forward one version at a time
// and decides which attribute values the latest revision should carry.
//
// ARCHITECTURE:
//
// Dispatch by the number of known revisions:
//   - one revision at version 1: manual review only, there is nothing to
//     restore from
//   - one revision later than version 1: the policy must judge the
//     predecessor -> known transition damaging before anything happens
//   - several revisions starting at version 1: manual review
//   - several revisions: the walk is seeded from the revision preceding the
//     first known one
//
// The walk keeps one restore value per tracked attribute. Changes made by
// versions outside the bad set are adopted. For a bad version the policy
// decides per attribute whether the transition is suppressed; a bad version
// is credited when anything is suppressed, or when it changed an attribute
// of an out-of-scope revision. Other changes of bad versions are kept.
//
// An Engine holds no per-entity state, so one Engine may reconcile many
// entities concurrently as long as its Source is safe for concurrent use.
package reconcile
