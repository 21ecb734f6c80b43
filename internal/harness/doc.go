// Package harness runs revert policies against scripted entity histories.
//
// A scenario describes one entity: its full version history, which of its
// versions are supplied as known-bad input, and what the engine is expected
// to decide. The history is served from an in-memory revision source, so
// scenarios run without network access and always behave the same way.
//
// # Scenario Format
//
//	name: later-edit-preserved
//	description: "A legitimate edit after the damage survives the revert"
//	policy:
//	  name: name
//	entity: { kind: way, id: 42 }
//	history:
//	  - { version: 1, changeset: 10, tags: { highway: residential, name: A } }
//	  - { version: 2, changeset: 20, tags: { highway: residential, name: B } }
//	  - version: 3
//	    changeset: 30
//	    tags: { highway: residential, name: B, surface: asphalt }
//	known: [2]
//	expect:
//	  action: correct
//	  tags: { name: A, surface: asphalt }
//	  credited: [20]
//
// History entries may be marked redacted (served as a redacted version) or
// visible: false. latest_status overrides what the latest lookup reports
// (deleted, not_found, error). bad overrides the set of suppressed versions,
// which defaults to known.
//
// expect.action is one of correct, no_action and manual. For corrections,
// tags is a subset the corrected revision must carry, absent lists keys it
// must not carry, and credited is the exact credited changeset list. For
// manual reviews, manual is a substring of the reason.
//
// # Golden Snapshots
//
// Snapshot renders an outcome as canonical JSON. Package tests compare the
// snapshots of the scenarios under testdata/scenarios with goldie.
package harness
