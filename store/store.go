// Package store defines the aggregate persistence interface for the
// automation core. The workflow package owns the run/lease contract; this
// package adds the backend lifecycle. Backends: Postgres, SQLite, Redis,
// and Memory.
package store

import (
	"context"

	"github.com/sitewright/automation/workflow"
)

// Store is the aggregate persistence interface a backend implements.
// Recurring-trigger fire marks ride on the lease API with
// "recurring:<name>:<fire-time>" keys, so no separate surface is needed.
type Store interface {
	workflow.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the backend connection.
	Close() error
}
