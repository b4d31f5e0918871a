package automations

import "github.com/sitewright/automation/bridge"

// Trigger names fired by the default rules. Definitions bind to these.
const (
	TriggerCartAbandoned        = "cart/abandoned"
	TriggerBookingRequested     = "booking/requested"
	TriggerLeadCaptured         = "lead/captured"
	TriggerNewsletterSubscribed = "newsletter/subscribed"
	TriggerCheckoutStarted      = "automation/trigger"
)

// DefaultRules returns the stock event-to-trigger mapping table. Events
// not listed here have no automation and are dropped by the bridge.
func DefaultRules() *bridge.Rules {
	return bridge.MustRules(
		bridge.Rule{
			Event:   "cart.abandoned",
			Trigger: TriggerCartAbandoned,
			Transform: func(p map[string]any) map[string]any {
				return map[string]any{
					"cartId":        p["cartId"],
					"customerEmail": p["customerEmail"],
					"items":         p["items"],
					"total":         p["total"],
				}
			},
		},
		bridge.Rule{
			Event:   "booking.requested",
			Trigger: TriggerBookingRequested,
			Transform: func(p map[string]any) map[string]any {
				return map[string]any{
					"bookingId":    p["bookingId"],
					"contactEmail": p["contactEmail"],
					"scheduledAt":  p["scheduledAt"],
				}
			},
		},
		bridge.Rule{
			Event:   "lead.captured",
			Trigger: TriggerLeadCaptured,
			Transform: func(p map[string]any) map[string]any {
				return map[string]any{
					"leadId": p["leadId"],
					"email":  p["email"],
					"name":   p["name"],
				}
			},
		},
		bridge.Rule{
			Event:   "newsletter.subscribed",
			Trigger: TriggerNewsletterSubscribed,
			Transform: func(p map[string]any) map[string]any {
				return map[string]any{
					"email": p["email"],
					"name":  p["name"],
				}
			},
		},
		// Checkout events repackage the cart under a generic automation
		// envelope so host-defined workflows can discriminate on
		// triggerType without a rule per checkout variant.
		bridge.Rule{
			Event:   "checkout.started",
			Trigger: TriggerCheckoutStarted,
			Transform: func(p map[string]any) map[string]any {
				return map[string]any{
					"triggerType": "checkout.started",
					"items":       p["items"],
					"total":       p["total"],
				}
			},
		},
	)
}
