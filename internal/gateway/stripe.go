package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
}

// Client wraps the Stripe API behind gateway-neutral types. It is the only
// package that imports stripe-go.
type Client struct {
	cfg Config
}

// NewClient validates the configuration and returns a client. Missing
// credentials fail here so the process bootstrap can refuse to start.
func NewClient(cfg Config) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("gateway: secret key not configured")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("gateway: webhook secret not configured")
	}
	if cfg.PriceID == "" {
		return nil, fmt.Errorf("gateway: price id not configured")
	}
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}, nil
}

// CreateCustomer creates a gateway customer with the payment method attached
// and set as default for invoices.
func (c *Client) CreateCustomer(ctx context.Context, email, name, paymentMethodID string) (*Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
		params.InvoiceSettings = &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		}
	}
	params.Context = ctx
	cust, err := customer.New(params)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return &Customer{ID: cust.ID, Email: cust.Email}, nil
}

// AttachPaymentMethod attaches the payment method to an existing customer
// and makes it the default. Returns ErrCustomerMissing when the stored
// customer id no longer resolves at the gateway.
func (c *Client) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	attachParams := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	attachParams.Context = ctx
	if _, err := paymentmethod.Attach(paymentMethodID, attachParams); err != nil {
		if isResourceMissing(err) {
			return fmt.Errorf("attach payment method: %w", ErrCustomerMissing)
		}
		return fmt.Errorf("attach payment method: %w", err)
	}

	updateParams := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	updateParams.Context = ctx
	if _, err := customer.Update(customerID, updateParams); err != nil {
		if isResourceMissing(err) {
			return fmt.Errorf("set default payment method: %w", ErrCustomerMissing)
		}
		return fmt.Errorf("set default payment method: %w", err)
	}
	return nil
}

// CreateSubscription creates the recurring subscription. The billing cycle
// is anchored at the given instant so the first invoice prorates the partial
// period; payment behavior is default_incomplete so a charge that needs
// interactive confirmation leaves the subscription incomplete instead of
// failing it.
func (c *Client) CreateSubscription(ctx context.Context, customerID string, anchor time.Time) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(c.cfg.PriceID)},
		},
		BillingCycleAnchor: stripe.Int64(anchor.Unix()),
		ProrationBehavior:  stripe.String("create_prorations"),
		PaymentBehavior:    stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.confirmation_secret")
	sub, err := subscription.New(params)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return mapSubscription(sub), nil
}

// GetSubscription retrieves a fresh snapshot of the subscription.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("get subscription: %w", ErrNoSubscription)
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return mapSubscription(sub), nil
}

// FindActiveSubscription returns the customer's single active subscription.
// The query is always status=active with limit 1; "none found" is
// ErrNoSubscription, never a trigger to create one.
func (c *Client) FindActiveSubscription(ctx context.Context, customerID string) (*Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := subscription.List(params)
	if iter.Next() {
		return mapSubscription(iter.Subscription()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return nil, ErrNoSubscription
}

// UpdateCancelAtPeriodEnd flips the cancel-at-period-end flag and returns
// the updated snapshot.
func (c *Client) UpdateCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx
	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return mapSubscription(sub), nil
}

// CancelNow cancels the subscription immediately, not at period end.
func (c *Client) CancelNow(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(subscriptionID, params); err != nil {
		if isResourceMissing(err) {
			return fmt.Errorf("cancel subscription: %w", ErrNoSubscription)
		}
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

// GetInvoice retrieves an invoice with its confirmation object expanded.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	params.AddExpand("confirmation_secret")
	inv, err := invoice.Get(invoiceID, params)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return mapInvoice(inv), nil
}

// VerifyEvent checks the webhook signature and parses the payload into a
// neutral Event. A signature failure returns an error before anything is
// inspected. API version mismatch is tolerated: deliveries replayed by the
// Stripe CLI carry its own pinned version, and signature verification does
// not depend on it.
func (c *Client) VerifyEvent(payload []byte, sigHeader string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}
	return mapEvent(stripeEvent)
}

func mapEvent(ev stripe.Event) (*Event, error) {
	out := &Event{ID: ev.ID, Type: string(ev.Type)}

	switch out.Type {
	case EventInvoicePaid, EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("unmarshal invoice event: %w", err)
		}
		out.Invoice = mapInvoice(&inv)
		out.CustomerID = out.Invoice.CustomerID
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("unmarshal subscription event: %w", err)
		}
		out.Subscription = mapSubscription(&sub)
		out.CustomerID = out.Subscription.CustomerID
	}
	return out, nil
}

func mapSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		out.TrialEnd = time.Unix(sub.TrialEnd, 0).UTC()
	}
	if sub.CancelAt > 0 {
		out.CancelAt = time.Unix(sub.CancelAt, 0).UTC()
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		if end := sub.Items.Data[0].CurrentPeriodEnd; end > 0 {
			out.CurrentPeriodEnd = time.Unix(end, 0).UTC()
		}
	}
	if sub.LatestInvoice != nil {
		out.LatestInvoiceID = sub.LatestInvoice.ID
		if sub.LatestInvoice.ConfirmationSecret != nil {
			out.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
		}
	}
	return out
}

func mapInvoice(inv *stripe.Invoice) *Invoice {
	out := &Invoice{
		ID:               inv.ID,
		Status:           string(inv.Status),
		HostedInvoiceURL: inv.HostedInvoiceURL,
		InvoicePDF:       inv.InvoicePDF,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.PeriodEnd > 0 {
		out.PeriodEnd = time.Unix(inv.PeriodEnd, 0).UTC()
	}
	if inv.Parent != nil &&
		inv.Parent.SubscriptionDetails != nil &&
		inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	if inv.ConfirmationSecret != nil {
		out.ClientSecret = inv.ConfirmationSecret.ClientSecret
	}
	return out
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
