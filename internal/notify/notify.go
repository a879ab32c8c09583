// Package notify is the append-only side channel for user-visible events.
// Notifications are persisted, then optionally pushed to the account's
// registered browsers; delivery failures are logged and swallowed.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/Deathvks/AutoGest-sub000/internal/model"
	"github.com/Deathvks/AutoGest-sub000/internal/store"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// VAPIDConfig holds the web push signing keys. Zero value disables push.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

type Emitter struct {
	notifications *store.NotificationStore
	pushSubs      *store.PushSubscriptionStore
	vapid         VAPIDConfig
	logger        *slog.Logger
}

func NewEmitter(ns *store.NotificationStore, ps *store.PushSubscriptionStore, vapid VAPIDConfig, logger *slog.Logger) *Emitter {
	return &Emitter{
		notifications: ns,
		pushSubs:      ps,
		vapid:         vapid,
		logger:        logger,
	}
}

// Notify records a notification for the account and fans it out to the
// account's push endpoints. It never returns an error: the caller's
// operation must not fail because a side channel did.
func (e *Emitter) Notify(accountID int64, ntype, message string, link *string) {
	if _, err := e.notifications.Create(accountID, ntype, message, link); err != nil {
		e.logger.Error("persist notification", "error", err, "account_id", accountID)
		return
	}
	if e.vapid.PublicKey == "" || e.vapid.PrivateKey == "" {
		return
	}

	subs, err := e.pushSubs.ListByAccountID(accountID)
	if err != nil {
		e.logger.Error("list push subscriptions", "error", err, "account_id", accountID)
		return
	}
	payload := pushPayload{Title: "AutoGest", Body: message}
	if link != nil {
		payload.URL = *link
	}
	for _, sub := range subs {
		if err := e.send(sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if derr := e.pushSubs.DeleteByEndpoint(sub.Endpoint); derr != nil {
					e.logger.Error("prune expired push subscription", "error", derr)
				}
				continue
			}
			e.logger.Error("send push notification", "error", err, "account_id", accountID)
		}
	}
}

func (e *Emitter) send(sub *model.PushSubscription, payload pushPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  e.vapid.PublicKey,
		VAPIDPrivateKey: e.vapid.PrivateKey,
		Subscriber:      e.vapid.Subscriber,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}
