package automations

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewright/automation/notify"
	"github.com/sitewright/automation/workflow"
)

// LeadNurture returns the stock lead follow-up drip:
//
//	welcome → sleep 2d → value follow-up → sleep 5d → check-in
func LeadNurture(n notify.Notifier) *workflow.Definition {
	return &workflow.Definition{
		ID:           "lead-nurture",
		TriggerEvent: TriggerLeadCaptured,
		Steps: []workflow.Step{
			workflow.RunStep("welcome", leadMessage(n,
				"Thanks for reaching out",
				"We received your details and will be in touch shortly.")),
			workflow.Sleep("wait-2d", 48*time.Hour),
			workflow.RunStep("follow-up", leadMessage(n,
				"A few things you might find useful",
				"Here's more about what we do and how we can help.")),
			workflow.Sleep("wait-5d", 120*time.Hour),
			workflow.RunStep("check-in", leadMessage(n,
				"Still interested?",
				"Just checking in — reply any time and we'll pick it up.")),
		},
	}
}

func leadMessage(n notify.Notifier, subject, body string) workflow.RunFunc {
	return func(ctx context.Context, sc *workflow.StepContext) (map[string]any, error) {
		email, ok := sc.Trigger["email"].(string)
		if !ok || email == "" {
			return nil, workflow.Fatal(fmt.Errorf("lead trigger has no email"))
		}

		leadID, _ := sc.Trigger["leadId"].(string)
		err := n.Send(ctx, notify.Message{
			To:      email,
			Channel: notify.ChannelEmail,
			Subject: subject,
			Body:    body,
			Meta:    map[string]string{"leadId": leadID},
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"to": email, "leadId": leadID}, nil
	}
}
