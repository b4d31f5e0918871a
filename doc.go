// Package automation is the intent execution and durable workflow
// orchestration core of the SiteWright site builder. It converts
// UI-emitted intents into calls against a pluggable capability registry,
// bridges the domain events those calls emit into workflow triggers, and
// runs long-lived automation sequences (reminder cadences, nurture drips,
// cart-abandonment recovery) that survive process restarts.
//
// The core is a library, not a service. The host application constructs
// an engine with a store backend, registers capability managers and
// workflow definitions, and starts the scheduler.
//
// # Quick Start
//
//	eng, err := engine.Build(st, caps,
//	    engine.WithNotifier(notifier),
//	)
//
// # Architecture
//
// Each subsystem is its own package: intent (executor + handler
// registry), bridge (event to trigger mapping), workflow (definitions,
// runs, step executor), scheduler (wake scan + recurring triggers),
// store (persistence backends), notify (guarded outbound providers).
// The store follows a composable pattern: one backend (postgres, sqlite,
// redis, memory) implements the whole Store interface.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package automation
