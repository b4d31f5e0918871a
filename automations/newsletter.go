package automations

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewright/automation/notify"
	"github.com/sitewright/automation/workflow"
)

// NewsletterWelcome returns the stock subscriber welcome series:
//
//	welcome → sleep 3d → highlights
func NewsletterWelcome(n notify.Notifier) *workflow.Definition {
	return &workflow.Definition{
		ID:           "newsletter-welcome",
		TriggerEvent: TriggerNewsletterSubscribed,
		Steps: []workflow.Step{
			workflow.RunStep("welcome", newsletterMessage(n,
				"Welcome aboard",
				"Thanks for subscribing — here's what to expect.")),
			workflow.Sleep("wait-3d", 72*time.Hour),
			workflow.RunStep("highlights", newsletterMessage(n,
				"Our most popular posts",
				"A few favourites from the archive to get you started.")),
		},
	}
}

// All returns every prebuilt definition wired to the given notifier, in
// a stable order suitable for workflow.Registry.MustRegister.
func All(n notify.Notifier) []*workflow.Definition {
	return []*workflow.Definition{
		CartAbandonment(n),
		BookingReminders(n),
		LeadNurture(n),
		NewsletterWelcome(n),
	}
}

func newsletterMessage(n notify.Notifier, subject, body string) workflow.RunFunc {
	return func(ctx context.Context, sc *workflow.StepContext) (map[string]any, error) {
		email, ok := sc.Trigger["email"].(string)
		if !ok || email == "" {
			return nil, workflow.Fatal(fmt.Errorf("newsletter trigger has no email"))
		}

		err := n.Send(ctx, notify.Message{
			To:      email,
			Channel: notify.ChannelEmail,
			Subject: subject,
			Body:    body,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"to": email}, nil
	}
}
