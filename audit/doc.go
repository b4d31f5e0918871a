// Package audit provides a hook extension that mirrors engine lifecycle
// events into an audit trail backend.
//
// The package defines a small [Recorder] interface rather than depending
// on any particular audit store; the host injects whatever backend it
// uses (a database table, an append-only log, an external audit
// service) via [RecorderFunc].
//
// Register the extension at engine build time:
//
//	eng, err := engine.Build(st, caps,
//	    engine.WithExtension(audit.New(recorder)),
//	)
package audit
