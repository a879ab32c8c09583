package gateway

import (
	"errors"
	"time"
)

// ErrCustomerMissing reports that a stored gateway customer id no longer
// resolves at the gateway. Callers are expected to recover by creating a
// fresh customer, not to surface this to the user.
var ErrCustomerMissing = errors.New("gateway customer missing")

// ErrNoSubscription reports that the customer has no active subscription at
// the gateway.
var ErrNoSubscription = errors.New("no active subscription")

// ErrConfirmationPending reports that a freshly created invoice does not yet
// carry its payment confirmation object. The gateway attaches it with a lag;
// callers poll through a retry policy.
var ErrConfirmationPending = errors.New("payment confirmation not yet available")

// Subscription statuses as reported by the gateway. Distinct from the local
// cached status, which is a projection of these.
const (
	SubStatusActive     = "active"
	SubStatusTrialing   = "trialing"
	SubStatusIncomplete = "incomplete"
	SubStatusPastDue    = "past_due"
	SubStatusCanceled   = "canceled"
)

// Event types the webhook handler dispatches on.
const (
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
)

type Customer struct {
	ID    string
	Email string
}

// Subscription is a point-in-time snapshot of a gateway subscription. Zero
// time fields mean the gateway omitted the value.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
	TrialEnd          time.Time
	CancelAt          time.Time
	LatestInvoiceID   string
	// ClientSecret is set when the latest invoice's confirmation object was
	// expanded and present.
	ClientSecret string
}

type Invoice struct {
	ID               string
	CustomerID       string
	SubscriptionID   string
	Status           string
	HostedInvoiceURL string
	InvoicePDF       string
	PeriodEnd        time.Time
	ClientSecret     string
}

// Event is a verified, parsed webhook delivery. Exactly one of Subscription
// and Invoice is set, depending on Type; both are nil for unrecognized types.
type Event struct {
	ID           string
	Type         string
	CustomerID   string
	Subscription *Subscription
	Invoice      *Invoice
}
