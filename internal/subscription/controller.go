package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Deathvks/AutoGest-sub000/internal/gateway"
	"github.com/Deathvks/AutoGest-sub000/internal/model"
	"github.com/Deathvks/AutoGest-sub000/internal/retry"
	"github.com/Deathvks/AutoGest-sub000/internal/store"
)

// Gateway is the slice of the payment gateway this controller consumes.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name, paymentMethodID string) (*gateway.Customer, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	CreateSubscription(ctx context.Context, customerID string, anchor time.Time) (*gateway.Subscription, error)
	FindActiveSubscription(ctx context.Context, customerID string) (*gateway.Subscription, error)
	UpdateCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*gateway.Subscription, error)
	CancelNow(ctx context.Context, subscriptionID string) error
	GetInvoice(ctx context.Context, invoiceID string) (*gateway.Invoice, error)
}

// Notifier is the append-only side channel for user-visible events.
// Deliveries are fire-and-forget; failures never reach the caller.
type Notifier interface {
	Notify(accountID int64, ntype, message string, link *string)
}

// Controller implements the user-facing subscription operations. Local
// status, expiry and role are a cache of gateway truth; every write here
// recomputes them from a fresh gateway snapshot through the projector.
type Controller struct {
	gw       Gateway
	accounts *store.AccountStore
	notifier Notifier
	retry    retry.Policy
	logger   *slog.Logger
	now      func() time.Time
}

func NewController(gw Gateway, accounts *store.AccountStore, notifier Notifier, policy retry.Policy, logger *slog.Logger) *Controller {
	return &Controller{
		gw:       gw,
		accounts: accounts,
		notifier: notifier,
		retry:    policy,
		logger:   logger,
		now:      time.Now,
	}
}

type CreateResult struct {
	Status         string `json:"status,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	ClientSecret   string `json:"clientSecret,omitempty"`
	RequiresAction bool   `json:"requiresAction,omitempty"`
}

type StatusResult struct {
	SubscriptionStatus model.SubscriptionStatus `json:"subscriptionStatus"`
	SubscriptionExpiry *time.Time               `json:"subscriptionExpiry"`
}

// nextBillingAnchor returns midnight UTC on the first day of the month
// after now. Anchoring there makes the first invoice a deliberate proration
// of the partial period and lands every later invoice on the same date.
func nextBillingAnchor(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

// Create starts a subscription for the account. It returns status "active"
// when the first charge settled synchronously, or a client secret with
// RequiresAction set when the client must confirm the payment interactively.
func (c *Controller) Create(ctx context.Context, accountID int64, paymentMethodID string) (*CreateResult, error) {
	if paymentMethodID == "" {
		return nil, &ValidationError{Msg: "missing payment method token"}
	}
	acct, err := c.accounts.GetByID(accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}

	customerID, err := c.ensureCustomer(ctx, acct, paymentMethodID)
	if err != nil {
		return nil, err
	}

	sub, err := c.gw.CreateSubscription(ctx, customerID, nextBillingAnchor(c.now()))
	if err != nil {
		return nil, &GatewayError{Op: "create subscription", Err: err}
	}

	if sub.Status == gateway.SubStatusActive {
		state := ProjectActive(acct, sub, c.now())
		if err := c.accounts.UpdateSubscriptionState(acct.ID, state.Status, state.Expiry, state.Role); err != nil {
			return nil, err
		}
		c.notifier.Notify(acct.ID, "subscription", "Your subscription is now active.", nil)
		return &CreateResult{Status: "active"}, nil
	}

	secret, err := c.resolveConfirmation(ctx, sub)
	if err != nil {
		return nil, err
	}
	return &CreateResult{
		SubscriptionID: sub.ID,
		ClientSecret:   secret,
		RequiresAction: true,
	}, nil
}

// ensureCustomer resolves the gateway customer for the account, creating one
// when none exists. A stored id the gateway no longer recognizes is healed
// in place: a fresh customer is created and the pointer overwritten, with no
// user-visible error.
func (c *Controller) ensureCustomer(ctx context.Context, acct *model.Account, paymentMethodID string) (string, error) {
	if acct.GatewayCustomerID != nil && *acct.GatewayCustomerID != "" {
		err := c.gw.AttachPaymentMethod(ctx, *acct.GatewayCustomerID, paymentMethodID)
		switch {
		case err == nil:
			return *acct.GatewayCustomerID, nil
		case errors.Is(err, gateway.ErrCustomerMissing):
			c.logger.Warn("stored gateway customer no longer resolves, creating a new one",
				"account_id", acct.ID, "customer_id", *acct.GatewayCustomerID)
		default:
			return "", &GatewayError{Op: "attach payment method", Err: err}
		}
	}

	cust, err := c.gw.CreateCustomer(ctx, acct.Email, acct.Name, paymentMethodID)
	if err != nil {
		return "", &GatewayError{Op: "create customer", Err: err}
	}
	if err := c.accounts.UpdateGatewayCustomerID(acct.ID, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}

// resolveConfirmation obtains the client secret for an incomplete
// subscription's first invoice. The gateway attaches the confirmation object
// with a lag, so the invoice is polled through the retry policy; exhaustion
// is terminal.
func (c *Controller) resolveConfirmation(ctx context.Context, sub *gateway.Subscription) (string, error) {
	if sub.ClientSecret != "" {
		return sub.ClientSecret, nil
	}
	if sub.LatestInvoiceID == "" {
		return "", &GatewayError{Op: "resolve payment confirmation", Err: fmt.Errorf("subscription %s has no latest invoice", sub.ID)}
	}

	var secret string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		inv, err := c.gw.GetInvoice(ctx, sub.LatestInvoiceID)
		if err != nil {
			return err
		}
		if inv.ClientSecret == "" {
			return retry.Retryable(gateway.ErrConfirmationPending)
		}
		secret = inv.ClientSecret
		return nil
	})
	if err != nil {
		return "", &GatewayError{Op: "resolve payment confirmation", Err: err}
	}
	return secret, nil
}

// Cancel flags the account's active subscription for cancellation at period
// end and projects the cancelled state locally.
func (c *Controller) Cancel(ctx context.Context, accountID int64) (*StatusResult, error) {
	acct, sub, err := c.findActive(ctx, accountID)
	if err != nil {
		return nil, err
	}

	updated, err := c.gw.UpdateCancelAtPeriodEnd(ctx, sub.ID, true)
	if err != nil {
		return nil, &GatewayError{Op: "cancel subscription", Err: err}
	}

	state := ProjectCancelled(acct, updated.CurrentPeriodEnd)
	if err := c.accounts.UpdateSubscriptionState(acct.ID, state.Status, state.Expiry, state.Role); err != nil {
		return nil, err
	}
	msg := "Your subscription has been cancelled."
	if state.Expiry != nil {
		msg = fmt.Sprintf("Your subscription has been cancelled and will end on %s.", state.Expiry.Format("2 Jan 2006"))
	}
	c.notifier.Notify(acct.ID, "subscription", msg, nil)
	return &StatusResult{SubscriptionStatus: state.Status, SubscriptionExpiry: state.Expiry}, nil
}

// Reactivate clears the cancel-at-period-end flag on a subscription that
// carries it. A subscription not marked for cancellation is a validation
// error, and nothing is mutated.
func (c *Controller) Reactivate(ctx context.Context, accountID int64) (*StatusResult, error) {
	acct, sub, err := c.findActive(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd {
		return nil, ErrNotCancelled
	}

	updated, err := c.gw.UpdateCancelAtPeriodEnd(ctx, sub.ID, false)
	if err != nil {
		return nil, &GatewayError{Op: "reactivate subscription", Err: err}
	}

	state := ProjectSynced(acct, updated, c.now())
	if err := c.accounts.UpdateSubscriptionState(acct.ID, state.Status, state.Expiry, state.Role); err != nil {
		return nil, err
	}
	c.notifier.Notify(acct.ID, "subscription", "Your subscription is active again.", nil)
	return &StatusResult{SubscriptionStatus: state.Status, SubscriptionExpiry: state.Expiry}, nil
}

// Sync re-derives the local cache from a fresh gateway read. It is the
// manual reconciliation path the client polls after a payment confirmation,
// independent of whether the webhook has arrived yet.
func (c *Controller) Sync(ctx context.Context, accountID int64) (*StatusResult, error) {
	acct, sub, err := c.findActive(ctx, accountID)
	if err != nil {
		return nil, err
	}

	state := ProjectSynced(acct, sub, c.now())
	if err := c.accounts.UpdateSubscriptionState(acct.ID, state.Status, state.Expiry, state.Role); err != nil {
		return nil, err
	}
	return &StatusResult{SubscriptionStatus: state.Status, SubscriptionExpiry: state.Expiry}, nil
}

// JoinCompany moves the account into a team. Team membership supersedes an
// individual subscription: any active one is cancelled at the gateway
// immediately and the local state reset.
func (c *Controller) JoinCompany(ctx context.Context, accountID, companyID int64) error {
	acct, err := c.accounts.GetByID(accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return ErrAccountNotFound
	}

	if acct.GatewayCustomerID != nil && *acct.GatewayCustomerID != "" {
		sub, err := c.gw.FindActiveSubscription(ctx, *acct.GatewayCustomerID)
		switch {
		case err == nil:
			if err := c.gw.CancelNow(ctx, sub.ID); err != nil {
				return &GatewayError{Op: "cancel subscription on team join", Err: err}
			}
		case errors.Is(err, gateway.ErrNoSubscription):
			// nothing to cancel
		default:
			return &GatewayError{Op: "find subscription on team join", Err: err}
		}
	}

	state := ProjectDeleted(acct)
	if err := c.accounts.UpdateSubscriptionState(acct.ID, state.Status, state.Expiry, state.Role); err != nil {
		return err
	}
	return c.accounts.SetCompany(accountID, &companyID)
}

// findActive loads the account and its single active gateway subscription.
func (c *Controller) findActive(ctx context.Context, accountID int64) (*model.Account, *gateway.Subscription, error) {
	acct, err := c.accounts.GetByID(accountID)
	if err != nil {
		return nil, nil, err
	}
	if acct == nil {
		return nil, nil, ErrAccountNotFound
	}
	if acct.GatewayCustomerID == nil || *acct.GatewayCustomerID == "" {
		return nil, nil, ErrNoActiveSubscription
	}

	sub, err := c.gw.FindActiveSubscription(ctx, *acct.GatewayCustomerID)
	if err != nil {
		if errors.Is(err, gateway.ErrNoSubscription) {
			return nil, nil, ErrNoActiveSubscription
		}
		return nil, nil, &GatewayError{Op: "find subscription", Err: err}
	}
	return acct, sub, nil
}
