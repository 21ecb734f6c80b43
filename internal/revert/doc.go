// Package revert drives a revert run end to end.
//
// Input revisions are sorted and grouped into per-entity runs. Runs are
// reconciled by a pool of workers; results are handed to a single writer
// goroutine in input order, which journals each outcome and submits
// corrections to the dispatcher. The dispatcher and the journal are only
// ever touched by the writer.
//
// Cancelling the context stops feeding new runs. Reconciliations already in
// flight complete and are written, and the open changeset is closed before
// Run returns.
//
// A correction whose content hash the journal already records as uploaded
// for the same entity version is skipped, so an interrupted run can be
// repeated with the same input.
package revert
