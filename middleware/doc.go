// Package middleware provides composable middleware for intent
// execution. Middleware wraps handler calls synchronously and can
// modify execution (recover from panics, inject scope, log, enforce
// deadlines, record metrics, add tracing).
//
// The Middleware and Chain types live in the intent package; this
// package holds the implementations wired in by the engine.
package middleware
