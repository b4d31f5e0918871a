package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sitewright/automation/intent"
)

// Standard intent names. Dot-namespaced: "<domain>.<operation>".
const (
	IntentLeadCapture     = "crm.lead.capture"
	IntentActivityRecord  = "crm.activity.record"
	IntentBookingCreate   = "booking.create"
	IntentBookingCancel   = "booking.cancel"
	IntentCartAdd         = "cart.add"
	IntentCartRemove      = "cart.remove"
	IntentCartAbandon     = "cart.abandon"
	IntentCheckoutStart   = "checkout.start"
	IntentPaymentCharge   = "payment.charge"
	IntentNewsletterSub   = "newsletter.subscribe"
	IntentNewsletterUnsub = "newsletter.unsubscribe"
	IntentNavGoto         = "nav.goto"
	IntentOverlayOpen     = "overlay.open"
	IntentOverlayClose    = "overlay.close"
	IntentToastShow       = "toast.show"
	IntentAuthSignIn      = "auth.signin"
	IntentAuthSignOut     = "auth.signout"
)

// Standard domain event names emitted by the bindings.
const (
	EventLeadCaptured         = "lead.captured"
	EventBookingRequested     = "booking.requested"
	EventBookingCancelled     = "booking.cancelled"
	EventCartUpdated          = "cart.updated"
	EventCartAbandoned        = "cart.abandoned"
	EventCheckoutStarted      = "checkout.started"
	EventPaymentSucceeded     = "payment.succeeded"
	EventNewsletterSubscribed = "newsletter.subscribed"
	EventUserSignedIn         = "user.signed_in"
)

// decode converts a loosely typed intent payload into T via a JSON
// round trip, matching how payloads travel over the wire from the UI.
func decode[T any](payload map[string]any) (T, error) {
	var t T
	data, err := json.Marshal(payload)
	if err != nil {
		return t, fmt.Errorf("capability: encode payload: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("capability: decode payload: %w", err)
	}
	return t, nil
}

// encode converts a typed result back into the map shape the UI
// consumes.
func encode(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("capability: encode result: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("capability: decode result: %w", err)
	}
	return m, nil
}

// str reads a required string field from a payload.
func str(payload map[string]any, key string) (string, error) {
	v, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("capability: missing field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("capability: field %q is %T, want string", key, v)
	}
	return s, nil
}

// Register binds the standard intents for every non-nil manager in caps
// into the given registry. It is the static dispatch table of the
// executor: binding happens once at startup and duplicate names fail
// loudly.
func Register(reg *intent.Registry, caps Registry) error {
	type binding struct {
		name string
		fn   intent.HandlerFunc
	}
	var bindings []binding
	add := func(name string, fn intent.HandlerFunc) {
		bindings = append(bindings, binding{name, fn})
	}

	if caps.CRM != nil {
		add(IntentLeadCapture, func(ctx context.Context, em *intent.Emitter, payload map[string]any) (map[string]any, error) {
			req, err := decode[Lead](payload)
			if err != nil {
				return nil, err
			}
			lead, err := caps.CRM.UpsertLead(ctx, req)
			if err != nil {
				return nil, err
			}
			em.Emit(EventLeadCaptured, map[string]any{
				"leadId": lead.ID,
				"email":  lead.Email,
				"name":   lead.Name,
				"source": lead.Source,
			})
			return encode(lead)
		})
		add(IntentActivityRecord, func(ctx context.Context, _ *intent.Emitter, payload map[string]any) (map[string]any, error) {
			leadID, err := str(payload, "lead_id")
			if err != nil {
				return nil, err
			}
			note, err := str(payload, "note")
			if err != nil {
				return nil, err
			}
			return nil, caps.CRM.RecordActivity(ctx, leadID, note)
		})
	}

	if caps.Booking != nil {
		add(IntentBookingCreate, func(ctx context.Context, em *intent.Emitter, payload map[string]any) (map[string]any, error) {
			req, err := decode[BookingRequest](payload)
			if err != nil {
				return nil, err
			}
			appt, err := caps.Booking.Create(ctx, req)
			if err != nil {
				return nil, err
			}
			em.Emit(EventBookingRequested, map[string]any{
				"bookingId":    appt.ID,
				"contactEmail": appt.ContactEmail,
				"contactName":  appt.ContactName,
				"scheduledAt":  appt.ScheduledAt.Format(time.RFC3339),
			})
			return encode(appt)
		})
		add(IntentBookingCancel, func(ctx context.Context, em *intent.Emitter, payload map[string]any) (map[string]any, error) {
			apptID, err := str(payload, "booking_id")
			if err != nil {
				return nil, err
			}
			if err := caps.Booking.Cancel(ctx, apptID); err != nil {
				return nil, err
			}
			em.Emit(EventBookingCancelled, map[string]any{"bookingId": apptID})
			return nil, nil
		})
	}

	if caps.Cart != nil {
		add(IntentCartAdd, func(ctx context.Context, em *intent.Emitter, payload map[string]any) (map[string]any, error) {
			cartID, err := str(payload, "cart_id")
			if err != nil {
				return nil, err
			}
			line, err := decode[CartLine](payload)
			if err != nil {
				return nil, err
			}
			state, err := caps.Cart.AddItem(ctx, cartID, line)
			if err != nil {
				return nil, err
			}
			em.Emit(EventCartUpdated, map[string]any{
				"cartId": state.CartID,
				"items":  len(state.Items),
				"total":  state.Total,
			})
			return encode(state)
		})
		add(IntentCartRemove, func(ctx context.Context, em *intent.Emitter, payload map[string]any) (map[string]any, error) {
			cartID, err := str(payload, "cart_id")
			if err != nil {
				return nil, err
			}
			productID, err := str(payload, "product_id")
			if err != nil {
				return nil, err
			}
			state, err := caps.Cart.RemoveItem(ctx, cartID, productID)
			if err != nil {
				return nil, err
			}
			em.Emit(EventCartUpdated, map[string]any{
				"cartId": state.CartID,
				"items":  len(state.Items),
				"total":  state.Total,
			})
			return encode(state)
		})
		add(IntentCartAbandon, func(ctx context.Context, em *intent.Emitter, payload map[string]any) (map[string]any, error) {
			cartID, err := str(payload, "cart_id")
			if err != nil {
				return nil, err
			}
			state, err := caps.Cart.Snapshot(ctx, cartID)
			if err != nil {
				return nil, err
			}
			em.Emit(EventCartAbandoned, map[string]any{
				"cartId":        state.CartID,
				"customerEmail": state.CustomerEmail,
				"total":         state.Total,
			})
			return encode(state)
		})
		add(IntentCheckoutStart, func(ctx context.Context, em *intent.Emitter, payload map[string]any) (map[string]any, error) {
			cartID, err := str(payload, "cart_id")
			if err != nil {
				return nil, err
			}
			state, err := caps.Cart.Checkout(ctx, cartID)
			if err != nil {
				return nil, err
			}
			items := make([]map[string]any, 0, len(state.Items))
			for _, line := range state.Items {
				items = append(items, map[string]any{
					"productId": line.ProductID,
					"quantity":  line.Quantity,
					"unitPrice": line.UnitPrice,
				})
			}
			em.Emit(EventCheckoutStarted, map[string]any{
				"cartId":        state.CartID,
				"customerEmail": state.CustomerEmail,
				"items":         items,
				"total":         state.Total,
			})
			return encode(state)
		})
	}

	if caps.Payments != nil {
		add(IntentPaymentCharge, func(ctx context.Context, em *intent.Emitter, payload map[string]any) (map[string]any, error) {
			req, err := decode[ChargeRequest](payload)
			if err != nil {
				return nil, err
			}
			charge, err := caps.Payments.Charge(ctx, req)
			if err != nil {
				return nil, err
			}
			em.Emit(EventPaymentSucceeded, map[string]any{
				"chargeId": charge.ID,
				"orderId":  charge.OrderID,
				"amount":   charge.Amount,
				"currency": charge.Currency,
			})
			return encode(charge)
		})
	}

	if caps.Newsletter != nil {
		add(IntentNewsletterSub, func(ctx context.Context, em *intent.Emitter, payload map[string]any) (map[string]any, error) {
			email, err := str(payload, "email")
			if err != nil {
				return nil, err
			}
			list, _ := payload["list"].(string)
			sub, err := caps.Newsletter.Subscribe(ctx, email, list)
			if err != nil {
				return nil, err
			}
			em.Emit(EventNewsletterSubscribed, map[string]any{
				"email": sub.Email,
				"list":  sub.List,
			})
			return encode(sub)
		})
		add(IntentNewsletterUnsub, func(ctx context.Context, _ *intent.Emitter, payload map[string]any) (map[string]any, error) {
			email, err := str(payload, "email")
			if err != nil {
				return nil, err
			}
			list, _ := payload["list"].(string)
			return nil, caps.Newsletter.Unsubscribe(ctx, email, list)
		})
	}

	if caps.Navigation != nil {
		add(IntentNavGoto, func(ctx context.Context, _ *intent.Emitter, payload map[string]any) (map[string]any, error) {
			path, err := str(payload, "path")
			if err != nil {
				return nil, err
			}
			return nil, caps.Navigation.Go(ctx, path)
		})
	}

	if caps.Overlay != nil {
		add(IntentOverlayOpen, func(ctx context.Context, _ *intent.Emitter, payload map[string]any) (map[string]any, error) {
			overlayID, err := str(payload, "overlay_id")
			if err != nil {
				return nil, err
			}
			props, _ := payload["props"].(map[string]any)
			return nil, caps.Overlay.Open(ctx, overlayID, props)
		})
		add(IntentOverlayClose, func(ctx context.Context, _ *intent.Emitter, payload map[string]any) (map[string]any, error) {
			overlayID, err := str(payload, "overlay_id")
			if err != nil {
				return nil, err
			}
			return nil, caps.Overlay.Close(ctx, overlayID)
		})
	}

	if caps.Toast != nil {
		add(IntentToastShow, func(ctx context.Context, _ *intent.Emitter, payload map[string]any) (map[string]any, error) {
			level, _ := payload["level"].(string)
			message, err := str(payload, "message")
			if err != nil {
				return nil, err
			}
			return nil, caps.Toast.Show(ctx, level, message)
		})
	}

	if caps.Auth != nil {
		add(IntentAuthSignIn, func(ctx context.Context, em *intent.Emitter, payload map[string]any) (map[string]any, error) {
			email, err := str(payload, "email")
			if err != nil {
				return nil, err
			}
			password, err := str(payload, "password")
			if err != nil {
				return nil, err
			}
			sess, err := caps.Auth.SignIn(ctx, email, password)
			if err != nil {
				return nil, err
			}
			em.Emit(EventUserSignedIn, map[string]any{
				"userId": sess.UserID,
				"email":  sess.Email,
			})
			return encode(sess)
		})
		add(IntentAuthSignOut, func(ctx context.Context, _ *intent.Emitter, payload map[string]any) (map[string]any, error) {
			token, err := str(payload, "token")
			if err != nil {
				return nil, err
			}
			return nil, caps.Auth.SignOut(ctx, token)
		})
	}

	for _, b := range bindings {
		if err := reg.Bind(b.name, b.fn); err != nil {
			return err
		}
	}
	return nil
}
