// Package pipeline orchestrates the fixed stage order download →
// quality_check → metadata → features → organize over the persisted item set.
// Stages are sequential barriers executed through stageexec; per-item state
// is persisted after every stage so an interrupted run resumes where it
// stopped.
package pipeline
