package automations

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewright/automation/notify"
	"github.com/sitewright/automation/workflow"
)

// BookingReminders returns the stock appointment reminder cadence:
//
//	confirmation → sleep-until 24h before → reminder →
//	sleep-until 1h before → final reminder
//
// The wake times are computed from the booking's scheduledAt (RFC 3339
// in the trigger payload). A booking already inside a window skips
// straight past that sleep, so a same-day booking still gets its final
// reminder.
func BookingReminders(n notify.Notifier) *workflow.Definition {
	return &workflow.Definition{
		ID:           "booking-reminders",
		TriggerEvent: TriggerBookingRequested,
		Steps: []workflow.Step{
			workflow.RunStep("confirmation", bookingMessage(n,
				"Booking received",
				"Thanks! Your booking is confirmed.")),
			workflow.SleepUntil("until-24h-before", bookingOffset(-24*time.Hour)),
			workflow.RunStep("day-before-reminder", bookingMessage(n,
				"See you tomorrow",
				"Your appointment is tomorrow.")),
			workflow.SleepUntil("until-1h-before", bookingOffset(-time.Hour)),
			workflow.RunStep("final-reminder", bookingMessage(n,
				"Starting soon",
				"Your appointment starts in about an hour.")),
		},
	}
}

// bookingOffset computes an absolute wake time relative to the
// booking's scheduled start. An unparsable scheduledAt yields the zero
// time, which is always in the past and collapses the sleep.
func bookingOffset(offset time.Duration) workflow.UntilFunc {
	return func(sc *workflow.StepContext) time.Time {
		raw, _ := sc.Trigger["scheduledAt"].(string)
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}
		}
		return at.Add(offset)
	}
}

func bookingMessage(n notify.Notifier, subject, body string) workflow.RunFunc {
	return func(ctx context.Context, sc *workflow.StepContext) (map[string]any, error) {
		email, ok := sc.Trigger["contactEmail"].(string)
		if !ok || email == "" {
			return nil, workflow.Fatal(fmt.Errorf("booking trigger has no contactEmail"))
		}

		bookingID, _ := sc.Trigger["bookingId"].(string)
		err := n.Send(ctx, notify.Message{
			To:      email,
			Channel: notify.ChannelEmail,
			Subject: subject,
			Body:    body,
			Meta:    map[string]string{"bookingId": bookingID},
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"to": email, "bookingId": bookingID}, nil
	}
}
