// Package services defines the error taxonomy shared by all pipeline stages
// and the context carriers used to thread item, stage, and run identity
// through stage execution and logging.
package services
