package middleware

import (
	"context"

	"github.com/sitewright/automation/intent"
	"github.com/sitewright/automation/scope"
)

// Payload keys carrying tenant identity on builder intents.
const (
	payloadSiteID    = "siteId"
	payloadAccountID = "accountId"
)

// Scope returns middleware that restores tenant scope from the
// intent's siteId/accountId payload fields into the context. This
// ensures capability managers see the same scope as the UI caller.
// Intents without identity fields pass through unchanged.
func Scope() intent.Middleware {
	return func(ctx context.Context, in *intent.Intent, next intent.Next) error {
		siteID, _ := in.Payload[payloadSiteID].(string)
		accountID, _ := in.Payload[payloadAccountID].(string)
		ctx = scope.Restore(ctx, siteID, accountID)
		return next(ctx)
	}
}
