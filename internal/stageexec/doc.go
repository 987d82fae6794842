// Package stageexec runs one pipeline stage across a set of items with a
// bounded worker pool. Items are processed in batches, each item gets its own
// retry budget, and a failure in one item never aborts the others. Outcomes
// come back ordered by item identifier regardless of completion order.
package stageexec
