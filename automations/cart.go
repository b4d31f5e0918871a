package automations

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewright/automation/notify"
	"github.com/sitewright/automation/workflow"
)

// CartAbandonment returns the stock cart recovery cadence:
//
//	sleep 1h → first reminder → sleep 24h → discount reminder →
//	sleep 3d → final reminder
//
// The cart snapshot travels in the trigger payload; nothing is read
// from process-local state, so a run resumed on another worker sends
// the same messages.
func CartAbandonment(n notify.Notifier) *workflow.Definition {
	return &workflow.Definition{
		ID:           "cart-abandonment",
		TriggerEvent: TriggerCartAbandoned,
		Steps: []workflow.Step{
			workflow.Sleep("wait-1h", time.Hour),
			workflow.RunStep("first-reminder", cartReminder(n,
				"You left something behind",
				"Your cart is waiting — complete your order any time.")),
			workflow.Sleep("wait-24h", 24*time.Hour),
			workflow.RunStep("discount-reminder", cartReminder(n,
				"Still thinking it over?",
				"Here's 10% off if you finish your order today.")),
			workflow.Sleep("wait-3d", 72*time.Hour),
			workflow.RunStep("final-reminder", cartReminder(n,
				"Last chance",
				"Your cart expires soon — this is the final reminder.")),
		},
	}
}

// cartReminder builds a RUN body sending one recovery email for the
// cart in the trigger payload.
func cartReminder(n notify.Notifier, subject, body string) workflow.RunFunc {
	return func(ctx context.Context, sc *workflow.StepContext) (map[string]any, error) {
		email, ok := sc.Trigger["customerEmail"].(string)
		if !ok || email == "" {
			return nil, workflow.Fatal(fmt.Errorf("cart trigger has no customerEmail"))
		}

		cartID, _ := sc.Trigger["cartId"].(string)
		err := n.Send(ctx, notify.Message{
			To:      email,
			Channel: notify.ChannelEmail,
			Subject: subject,
			Body:    body,
			Meta:    map[string]string{"cartId": cartID},
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"to": email, "cartId": cartID}, nil
	}
}
