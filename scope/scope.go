// Package scope provides helpers to capture and restore multi-tenant
// execution context (site and account identity) from/to
// context.Context. Every builder operates on behalf of one site; the
// scope travels with intents and workflow triggers so handlers and
// steps act on the right tenant's data.
package scope

import "context"

type ctxKey struct{}

// Scope identifies the tenant an operation runs for. AccountID may be
// empty for site-level background work.
type Scope struct {
	SiteID    string
	AccountID string
}

// IsZero reports whether the scope carries no identity at all.
func (s Scope) IsZero() bool { return s.SiteID == "" && s.AccountID == "" }

// With attaches a scope to the context.
func With(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From extracts the scope from the context. Returns false if no scope
// is present.
func From(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}

// Capture extracts the site and account identifiers from the context.
// Returns empty strings if no scope is present.
func Capture(ctx context.Context) (siteID, accountID string) {
	s, ok := From(ctx)
	if !ok {
		return "", ""
	}
	return s.SiteID, s.AccountID
}

// Restore attaches a scope to the context using the given site and
// account IDs. If both are empty, the context is returned unchanged.
func Restore(ctx context.Context, siteID, accountID string) context.Context {
	if siteID == "" && accountID == "" {
		return ctx
	}
	return With(ctx, Scope{SiteID: siteID, AccountID: accountID})
}
