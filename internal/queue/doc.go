// Package queue persists pipeline items in SQLite. Each item tracks one
// playlist track through the fixed stage order with per-stage state, so an
// interrupted run can resume without repeating finished work.
package queue
