package handler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Deathvks/AutoGest-sub000/internal/database"
	"github.com/Deathvks/AutoGest-sub000/internal/gateway"
	"github.com/Deathvks/AutoGest-sub000/internal/model"
	"github.com/Deathvks/AutoGest-sub000/internal/store"
)

type fakeEventSource struct {
	verifyFn func(payload []byte, sigHeader string) (*gateway.Event, error)
	getSubFn func(ctx context.Context, subscriptionID string) (*gateway.Subscription, error)
}

func (f *fakeEventSource) VerifyEvent(payload []byte, sigHeader string) (*gateway.Event, error) {
	if f.verifyFn != nil {
		return f.verifyFn(payload, sigHeader)
	}
	return nil, errors.New("unexpected VerifyEvent call")
}

func (f *fakeEventSource) GetSubscription(ctx context.Context, subscriptionID string) (*gateway.Subscription, error) {
	if f.getSubFn != nil {
		return f.getSubFn(ctx, subscriptionID)
	}
	return nil, errors.New("unexpected GetSubscription call")
}

type capturedNotification struct {
	accountID int64
	ntype     string
	message   string
	link      *string
}

type captureNotifier struct {
	sent []capturedNotification
}

func (n *captureNotifier) Notify(accountID int64, ntype, message string, link *string) {
	n.sent = append(n.sent, capturedNotification{accountID, ntype, message, link})
}

type webhookFixture struct {
	db       *sql.DB
	handler  *WebhookHandler
	accounts *store.AccountStore
	notifier *captureNotifier
	source   *fakeEventSource
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	accounts := store.NewAccountStore(db)
	events := store.NewEventStore(db)
	notifier := &captureNotifier{}
	source := &fakeEventSource{}
	h := NewWebhookHandler(source, accounts, events, notifier, nil, nil, slog.Default())
	h.now = func() time.Time { return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC) }
	return &webhookFixture{db: db, handler: h, accounts: accounts, notifier: notifier, source: source}
}

// subscribedAccount seeds an account that already holds an active
// subscription mapped to the given gateway customer.
func (f *webhookFixture) subscribedAccount(t *testing.T, customerID string) *model.Account {
	t.Helper()
	a, err := f.accounts.Create("alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := f.accounts.UpdateGatewayCustomerID(a.ID, customerID); err != nil {
		t.Fatalf("set customer id: %v", err)
	}
	expiry := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if err := f.accounts.UpdateSubscriptionState(a.ID, model.StatusActive, &expiry, model.RoleTechnician); err != nil {
		t.Fatalf("seed subscription state: %v", err)
	}
	got, err := f.accounts.GetByID(a.ID)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	return got
}

func (f *webhookFixture) deliver(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader("{}"))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rec := httptest.NewRecorder()
	f.handler.Handle(rec, req)
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	acct := f.subscribedAccount(t, "cus_1")
	f.source.verifyFn = func(payload []byte, sigHeader string) (*gateway.Event, error) {
		return nil, errors.New("signature mismatch")
	}

	rec := f.deliver(t)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	got, _ := f.accounts.GetByID(acct.ID)
	if got.SubscriptionStatus != model.StatusActive {
		t.Errorf("status = %q, rejected delivery must not mutate state", got.SubscriptionStatus)
	}
}

func TestWebhookAcknowledgesUnknownCustomer(t *testing.T) {
	f := newWebhookFixture(t)
	f.source.verifyFn = func(payload []byte, sigHeader string) (*gateway.Event, error) {
		return &gateway.Event{ID: "evt_1", Type: gateway.EventSubscriptionDeleted, CustomerID: "cus_elsewhere"}, nil
	}

	rec := f.deliver(t)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"received":true`) {
		t.Errorf("body = %q, want received ack", body)
	}
}

func TestWebhookPaymentFailed(t *testing.T) {
	f := newWebhookFixture(t)
	acct := f.subscribedAccount(t, "cus_1")
	f.source.verifyFn = func(payload []byte, sigHeader string) (*gateway.Event, error) {
		return &gateway.Event{
			ID:         "evt_1",
			Type:       gateway.EventInvoicePaymentFailed,
			CustomerID: "cus_1",
			Invoice:    &gateway.Invoice{ID: "in_1", CustomerID: "cus_1"},
		}, nil
	}

	rec := f.deliver(t)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	got, _ := f.accounts.GetByID(acct.ID)
	if got.SubscriptionStatus != model.StatusPastDue {
		t.Errorf("status = %q, want past_due", got.SubscriptionStatus)
	}
	if got.SubscriptionExpiry == nil || !got.SubscriptionExpiry.Equal(*acct.SubscriptionExpiry) {
		t.Errorf("expiry = %v, want retained %v", got.SubscriptionExpiry, acct.SubscriptionExpiry)
	}
	if got.Role != model.RoleTechnician {
		t.Errorf("role = %q, payment failure must not downgrade", got.Role)
	}
	if len(f.notifier.sent) != 1 {
		t.Errorf("notifications = %d, want 1", len(f.notifier.sent))
	}
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	f := newWebhookFixture(t)
	acct := f.subscribedAccount(t, "cus_1")
	f.source.verifyFn = func(payload []byte, sigHeader string) (*gateway.Event, error) {
		return &gateway.Event{
			ID:           "evt_1",
			Type:         gateway.EventSubscriptionDeleted,
			CustomerID:   "cus_1",
			Subscription: &gateway.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: "canceled"},
		}, nil
	}

	f.deliver(t)

	got, _ := f.accounts.GetByID(acct.ID)
	if got.SubscriptionStatus != model.StatusInactive {
		t.Errorf("status = %q, want inactive", got.SubscriptionStatus)
	}
	if got.SubscriptionExpiry != nil {
		t.Errorf("expiry = %v, want cleared", got.SubscriptionExpiry)
	}
	if got.Role != model.RoleUser {
		t.Errorf("role = %q, want reverted to user", got.Role)
	}
}

func TestWebhookDuplicateDeliveryIsDropped(t *testing.T) {
	f := newWebhookFixture(t)
	f.subscribedAccount(t, "cus_1")
	f.source.verifyFn = func(payload []byte, sigHeader string) (*gateway.Event, error) {
		return &gateway.Event{
			ID:         "evt_dup",
			Type:       gateway.EventInvoicePaymentFailed,
			CustomerID: "cus_1",
			Invoice:    &gateway.Invoice{ID: "in_1", CustomerID: "cus_1"},
		}, nil
	}

	first := f.deliver(t)
	second := f.deliver(t)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("status = %d/%d, duplicates are still acknowledged", first.Code, second.Code)
	}
	if len(f.notifier.sent) != 1 {
		t.Errorf("notifications = %d, want 1 despite redelivery", len(f.notifier.sent))
	}
}

func TestWebhookInvoicePaidActivates(t *testing.T) {
	f := newWebhookFixture(t)
	a, _ := f.accounts.Create("alice@example.com", "Alice")
	f.accounts.UpdateGatewayCustomerID(a.ID, "cus_1")

	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	f.source.verifyFn = func(payload []byte, sigHeader string) (*gateway.Event, error) {
		return &gateway.Event{
			ID:         "evt_1",
			Type:       gateway.EventInvoicePaid,
			CustomerID: "cus_1",
			Invoice: &gateway.Invoice{
				ID:               "in_1",
				CustomerID:       "cus_1",
				SubscriptionID:   "sub_1",
				Status:           "paid",
				HostedInvoiceURL: "https://pay.example.com/in_1",
			},
		}, nil
	}
	f.source.getSubFn = func(ctx context.Context, subscriptionID string) (*gateway.Subscription, error) {
		if subscriptionID != "sub_1" {
			t.Errorf("fetched %q, want sub_1", subscriptionID)
		}
		return &gateway.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: gateway.SubStatusActive, CurrentPeriodEnd: periodEnd}, nil
	}

	f.deliver(t)

	got, _ := f.accounts.GetByID(a.ID)
	if got.SubscriptionStatus != model.StatusActive {
		t.Errorf("status = %q, want active", got.SubscriptionStatus)
	}
	if got.SubscriptionExpiry == nil || !got.SubscriptionExpiry.Equal(periodEnd) {
		t.Errorf("expiry = %v, want %v", got.SubscriptionExpiry, periodEnd)
	}
	if got.Role != model.RoleTechnician {
		t.Errorf("role = %q, want upgraded", got.Role)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.sent))
	}
	if n := f.notifier.sent[0]; n.link == nil || *n.link != "https://pay.example.com/in_1" {
		t.Errorf("notification link = %v, want hosted invoice url", n.link)
	}
}

func TestWebhookInvoicePaidDeliversDocuments(t *testing.T) {
	f := newWebhookFixture(t)
	a, _ := f.accounts.Create("alice@example.com", "Alice")
	f.accounts.UpdateGatewayCustomerID(a.ID, "cus_1")

	var emailedURL, archivedPDF string
	f.handler.invoices = invoiceSenderFunc(func(toEmail, name, invoiceURL string) error {
		emailedURL = invoiceURL
		return nil
	})
	f.handler.archiver = invoiceArchiverFunc(func(ctx context.Context, accountID int64, invoiceID, pdfURL string) error {
		archivedPDF = pdfURL
		return nil
	})

	f.source.verifyFn = func(payload []byte, sigHeader string) (*gateway.Event, error) {
		return &gateway.Event{
			ID:         "evt_1",
			Type:       gateway.EventInvoicePaid,
			CustomerID: "cus_1",
			Invoice: &gateway.Invoice{
				ID:               "in_1",
				CustomerID:       "cus_1",
				Status:           "paid",
				HostedInvoiceURL: "https://pay.example.com/in_1",
				InvoicePDF:       "https://pay.example.com/in_1.pdf",
			},
		}, nil
	}

	f.deliver(t)

	if emailedURL != "https://pay.example.com/in_1" {
		t.Errorf("emailed url = %q, want hosted invoice url", emailedURL)
	}
	if archivedPDF != "https://pay.example.com/in_1.pdf" {
		t.Errorf("archived pdf = %q, want invoice pdf url", archivedPDF)
	}
}

func TestWebhookFailedDispatchReleasesEventForRedelivery(t *testing.T) {
	f := newWebhookFixture(t)
	a, _ := f.accounts.Create("alice@example.com", "Alice")
	f.accounts.UpdateGatewayCustomerID(a.ID, "cus_1")

	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	f.source.verifyFn = func(payload []byte, sigHeader string) (*gateway.Event, error) {
		return &gateway.Event{
			ID:         "evt_flaky",
			Type:       gateway.EventInvoicePaid,
			CustomerID: "cus_1",
			Invoice: &gateway.Invoice{
				ID:               "in_1",
				CustomerID:       "cus_1",
				SubscriptionID:   "sub_1",
				Status:           "paid",
				HostedInvoiceURL: "https://pay.example.com/in_1",
			},
		}, nil
	}
	fetches := 0
	f.source.getSubFn = func(ctx context.Context, subscriptionID string) (*gateway.Subscription, error) {
		fetches++
		if fetches == 1 {
			return nil, errors.New("gateway timeout")
		}
		return &gateway.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: gateway.SubStatusActive, CurrentPeriodEnd: periodEnd}, nil
	}

	// First delivery fails mid-apply; still acknowledged, but nothing is
	// persisted or sent.
	rec := f.deliver(t)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got, _ := f.accounts.GetByID(a.ID)
	if got.SubscriptionStatus != model.StatusInactive {
		t.Errorf("status = %q, failed apply must not mutate state", got.SubscriptionStatus)
	}
	if len(f.notifier.sent) != 0 {
		t.Errorf("notifications = %d, failed apply must not notify", len(f.notifier.sent))
	}

	// The redelivery of the same event id must not be treated as a
	// duplicate: the subscription activates on the second attempt.
	f.deliver(t)
	got, _ = f.accounts.GetByID(a.ID)
	if got.SubscriptionStatus != model.StatusActive {
		t.Errorf("status = %q, want active after redelivery", got.SubscriptionStatus)
	}
	if fetches != 2 {
		t.Errorf("subscription fetches = %d, want 2", fetches)
	}
	if len(f.notifier.sent) != 1 {
		t.Errorf("notifications = %d, want 1", len(f.notifier.sent))
	}
}

func TestWebhookCancellationObservedRemotely(t *testing.T) {
	f := newWebhookFixture(t)
	acct := f.subscribedAccount(t, "cus_1")
	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	f.source.verifyFn = func(payload []byte, sigHeader string) (*gateway.Event, error) {
		return &gateway.Event{
			ID:         "evt_1",
			Type:       gateway.EventSubscriptionUpdated,
			CustomerID: "cus_1",
			Subscription: &gateway.Subscription{
				ID:                "sub_1",
				CustomerID:        "cus_1",
				Status:            gateway.SubStatusActive,
				CancelAtPeriodEnd: true,
				CurrentPeriodEnd:  periodEnd,
			},
		}, nil
	}

	f.deliver(t)

	got, _ := f.accounts.GetByID(acct.ID)
	if got.SubscriptionStatus != model.StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.SubscriptionStatus)
	}
	if got.Role != model.RoleTechnician {
		t.Errorf("role = %q, cancellation keeps access until expiry", got.Role)
	}
}

func TestWebhookIgnoresUnhandledEventType(t *testing.T) {
	f := newWebhookFixture(t)
	acct := f.subscribedAccount(t, "cus_1")
	f.source.verifyFn = func(payload []byte, sigHeader string) (*gateway.Event, error) {
		return &gateway.Event{ID: "evt_1", Type: "customer.updated", CustomerID: "cus_1"}, nil
	}

	rec := f.deliver(t)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	got, _ := f.accounts.GetByID(acct.ID)
	if got.SubscriptionStatus != model.StatusActive {
		t.Errorf("status = %q, want untouched", got.SubscriptionStatus)
	}
}

type invoiceSenderFunc func(toEmail, name, invoiceURL string) error

func (f invoiceSenderFunc) SendInvoice(toEmail, name, invoiceURL string) error {
	return f(toEmail, name, invoiceURL)
}

type invoiceArchiverFunc func(ctx context.Context, accountID int64, invoiceID, pdfURL string) error

func (f invoiceArchiverFunc) StoreInvoice(ctx context.Context, accountID int64, invoiceID, pdfURL string) error {
	return f(ctx, accountID, invoiceID, pdfURL)
}
