// Package capability defines the domain manager interfaces the intent
// executor dispatches to, and the standard bindings from intent names to
// manager operations. Managers are supplied by the host application; the
// core depends only on these interfaces, so real managers and test
// doubles are interchangeable.
package capability

import (
	"context"
	"time"
)

// Lead is a CRM contact record. Upserts are keyed by Email so capture
// is safe under at-least-once delivery.
type Lead struct {
	ID     string `json:"id,omitempty"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Source string `json:"source,omitempty"`
}

// Appointment is a confirmed or requested booking slot.
type Appointment struct {
	ID           string    `json:"id"`
	ServiceID    string    `json:"service_id"`
	ContactEmail string    `json:"contact_email"`
	ContactName  string    `json:"contact_name,omitempty"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Notes        string    `json:"notes,omitempty"`
}

// BookingRequest is the payload for creating an appointment.
type BookingRequest struct {
	ServiceID    string    `json:"service_id"`
	ContactEmail string    `json:"contact_email"`
	ContactName  string    `json:"contact_name,omitempty"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Notes        string    `json:"notes,omitempty"`
}

// CartLine is one item in a cart.
type CartLine struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// CartState is the current contents of a session cart.
type CartState struct {
	CartID        string     `json:"cart_id"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	Items         []CartLine `json:"items"`
	Total         float64    `json:"total"`
}

// ChargeRequest is the payload for taking a payment.
type ChargeRequest struct {
	OrderID  string  `json:"order_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Method   string  `json:"method,omitempty"`
}

// Charge is the outcome of a payment attempt.
type Charge struct {
	ID       string  `json:"id"`
	OrderID  string  `json:"order_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Status   string  `json:"status"`
}

// Subscription is a newsletter membership record.
type Subscription struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	List  string `json:"list,omitempty"`
}

// Session identifies an authenticated visitor.
type Session struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Token  string `json:"token,omitempty"`
}

// CRM manages contact records.
type CRM interface {
	// UpsertLead creates or updates a lead keyed by email.
	UpsertLead(ctx context.Context, lead Lead) (Lead, error)
	// RecordActivity appends a free-form activity note to a lead.
	RecordActivity(ctx context.Context, leadID, note string) error
}

// Booking manages appointment slots.
type Booking interface {
	Create(ctx context.Context, req BookingRequest) (Appointment, error)
	Cancel(ctx context.Context, appointmentID string) error
}

// Cart manages session shopping carts.
type Cart interface {
	AddItem(ctx context.Context, cartID string, line CartLine) (CartState, error)
	RemoveItem(ctx context.Context, cartID, productID string) (CartState, error)
	// Checkout freezes the cart and returns its final state.
	Checkout(ctx context.Context, cartID string) (CartState, error)
	// Snapshot returns the cart without mutating it. Used when the UI
	// reports abandonment.
	Snapshot(ctx context.Context, cartID string) (CartState, error)
}

// Payments takes charges against an external processor.
type Payments interface {
	Charge(ctx context.Context, req ChargeRequest) (Charge, error)
}

// Newsletter manages mailing list membership.
type Newsletter interface {
	Subscribe(ctx context.Context, email, list string) (Subscription, error)
	Unsubscribe(ctx context.Context, email, list string) error
}

// Navigation drives client-side routing. A UI capability like any
// other: dispatched through the same executor path as domain managers.
type Navigation interface {
	Go(ctx context.Context, path string) error
}

// Overlay opens and closes modal surfaces.
type Overlay interface {
	Open(ctx context.Context, overlayID string, props map[string]any) error
	Close(ctx context.Context, overlayID string) error
}

// Toast shows transient notifications.
type Toast interface {
	Show(ctx context.Context, level, message string) error
}

// Auth manages visitor sessions.
type Auth interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context, token string) error
}

// Registry is the set of managers supplied by the host. Nil fields are
// allowed: their intents simply stay unbound and execute as
// UNKNOWN_INTENT, which is the correct behaviour for a site that has no
// store or no booking page.
type Registry struct {
	CRM        CRM
	Booking    Booking
	Cart       Cart
	Payments   Payments
	Newsletter Newsletter
	Navigation Navigation
	Overlay    Overlay
	Toast      Toast
	Auth       Auth
}
