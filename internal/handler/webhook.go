package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Deathvks/AutoGest-sub000/internal/gateway"
	"github.com/Deathvks/AutoGest-sub000/internal/model"
	"github.com/Deathvks/AutoGest-sub000/internal/store"
	"github.com/Deathvks/AutoGest-sub000/internal/subscription"
)

// EventSource verifies webhook deliveries and serves fresh subscription
// snapshots for events that only carry an invoice.
type EventSource interface {
	VerifyEvent(payload []byte, sigHeader string) (*gateway.Event, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*gateway.Subscription, error)
}

// InvoiceSender delivers the invoice document to the account holder.
type InvoiceSender interface {
	SendInvoice(toEmail, name, invoiceURL string) error
}

// InvoiceArchiver keeps a copy of the paid invoice document.
type InvoiceArchiver interface {
	StoreInvoice(ctx context.Context, accountID int64, invoiceID, pdfURL string) error
}

// WebhookHandler applies gateway webhook deliveries to local state. Every
// transition goes through the projector, the same convergence point the
// manual sync path uses.
type WebhookHandler struct {
	events       EventSource
	accountStore *store.AccountStore
	eventStore   *store.EventStore
	notifier     subscription.Notifier
	invoices     InvoiceSender   // nil when email is not configured
	archiver     InvoiceArchiver // nil when archival is not configured
	logger       *slog.Logger
	now          func() time.Time
}

func NewWebhookHandler(
	events EventSource,
	as *store.AccountStore,
	es *store.EventStore,
	notifier subscription.Notifier,
	invoices InvoiceSender,
	archiver InvoiceArchiver,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		events:       events,
		accountStore: as,
		eventStore:   es,
		notifier:     notifier,
		invoices:     invoices,
		archiver:     archiver,
		logger:       logger,
		now:          time.Now,
	}
}

// Handle verifies and dispatches one webhook delivery. Anything past
// signature verification is acknowledged with 200 so the gateway does not
// retry deliveries we have chosen to ignore.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.events.VerifyEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	h.process(r.Context(), event)
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) process(ctx context.Context, event *gateway.Event) {
	if event.CustomerID == "" {
		return
	}
	acct, err := h.accountStore.GetByGatewayCustomerID(event.CustomerID)
	if err != nil {
		h.logger.Error("webhook: look up account", "error", err, "customer_id", event.CustomerID)
		return
	}
	if acct == nil {
		// Customer not ours (another environment, or deleted account).
		// Acknowledge so the gateway stops retrying.
		return
	}

	first, err := h.eventStore.MarkProcessed(event.ID)
	if err != nil {
		h.logger.Error("webhook: record event id", "error", err, "event_id", event.ID)
		return
	}
	if !first {
		h.logger.Debug("webhook: duplicate delivery dropped", "event_id", event.ID)
		return
	}

	if err := h.dispatch(ctx, acct, event); err != nil {
		// Release the dedup row so the gateway's redelivery of this id gets
		// a fresh attempt instead of being dropped with the state stale.
		if derr := h.eventStore.Delete(event.ID); derr != nil {
			h.logger.Error("webhook: release event id", "error", derr, "event_id", event.ID)
		}
		h.logger.Error("webhook: apply event", "error", err, "event_id", event.ID, "type", event.Type)
	}
}

func (h *WebhookHandler) dispatch(ctx context.Context, acct *model.Account, event *gateway.Event) error {
	switch event.Type {
	case gateway.EventInvoicePaid:
		return h.handleInvoicePaid(ctx, acct, event.Invoice)
	case gateway.EventInvoicePaymentFailed:
		return h.handleInvoicePaymentFailed(acct)
	case gateway.EventSubscriptionUpdated:
		return h.handleSubscriptionUpdated(acct, event.Subscription)
	case gateway.EventSubscriptionDeleted:
		return h.handleSubscriptionDeleted(acct)
	default:
		h.logger.Debug("webhook: ignoring event type", "type", event.Type)
		return nil
	}
}

// handleInvoicePaid applies the state transition before the document side
// effects, so a failure leaves nothing sent and the event eligible for
// redelivery.
func (h *WebhookHandler) handleInvoicePaid(ctx context.Context, acct *model.Account, inv *gateway.Invoice) error {
	if inv.SubscriptionID != "" {
		// The invoice payload does not carry trial or period data; re-derive
		// the state from a fresh read of the subscription itself.
		sub, err := h.events.GetSubscription(ctx, inv.SubscriptionID)
		if err != nil {
			return fmt.Errorf("fetch subscription for paid invoice: %w", err)
		}
		if sub.Status == gateway.SubStatusActive || sub.Status == gateway.SubStatusTrialing {
			state := subscription.ProjectActive(acct, sub, h.now())
			if err := h.persist(acct, state); err != nil {
				return err
			}
		}
	}

	if inv.Status == "paid" && inv.HostedInvoiceURL != "" {
		if h.invoices != nil {
			if err := h.invoices.SendInvoice(acct.Email, acct.Name, inv.HostedInvoiceURL); err != nil {
				h.logger.Error("webhook: send invoice email", "error", err, "account_id", acct.ID)
			}
		}
		if h.archiver != nil && inv.InvoicePDF != "" {
			if err := h.archiver.StoreInvoice(ctx, acct.ID, inv.ID, inv.InvoicePDF); err != nil {
				h.logger.Error("webhook: archive invoice", "error", err, "invoice_id", inv.ID)
			}
		}
		link := inv.HostedInvoiceURL
		h.notifier.Notify(acct.ID, "payment", "Payment received. Your invoice is available.", &link)
	}
	return nil
}

func (h *WebhookHandler) handleInvoicePaymentFailed(acct *model.Account) error {
	state := subscription.ProjectPastDue(acct)
	if err := h.persist(acct, state); err != nil {
		return err
	}
	h.notifier.Notify(acct.ID, "payment", "A subscription payment failed. Please update your payment method to keep access.", nil)
	return nil
}

func (h *WebhookHandler) handleSubscriptionUpdated(acct *model.Account, sub *gateway.Subscription) error {
	switch {
	case sub.CancelAtPeriodEnd:
		return h.persist(acct, subscription.ProjectCancelled(acct, sub.CurrentPeriodEnd))
	case sub.Status == gateway.SubStatusActive:
		// Covers an un-cancel or reactivation observed gateway-side.
		return h.persist(acct, subscription.ProjectActive(acct, sub, h.now()))
	case sub.Status == gateway.SubStatusPastDue:
		if err := h.persist(acct, subscription.ProjectPastDue(acct)); err != nil {
			return err
		}
		h.notifier.Notify(acct.ID, "payment", "Your subscription is past due. Please update your payment method.", nil)
	}
	return nil
}

func (h *WebhookHandler) handleSubscriptionDeleted(acct *model.Account) error {
	return h.persist(acct, subscription.ProjectDeleted(acct))
}

func (h *WebhookHandler) persist(acct *model.Account, state subscription.State) error {
	if err := h.accountStore.UpdateSubscriptionState(acct.ID, state.Status, state.Expiry, state.Role); err != nil {
		return fmt.Errorf("persist subscription state: %w", err)
	}
	return nil
}
