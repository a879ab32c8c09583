package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Deathvks/AutoGest-sub000/internal/store"
)

type AccountHandler struct {
	accountStore      *store.AccountStore
	notificationStore *store.NotificationStore
	pushStore         *store.PushSubscriptionStore
	logger            *slog.Logger
}

func NewAccountHandler(as *store.AccountStore, ns *store.NotificationStore, ps *store.PushSubscriptionStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accountStore:      as,
		notificationStore: ns,
		pushStore:         ps,
		logger:            logger,
	}
}

// Me returns the authenticated account's profile, including the cached
// subscription fields the client sync loop polls.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	acct, err := h.accountStore.GetByID(accountID)
	if err != nil {
		h.logger.Error("get account", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}
	if acct == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "account not found"})
		return
	}
	respondJSON(w, http.StatusOK, acct)
}

// Notifications lists the account's notifications, newest first.
func (h *AccountHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	list, err := h.notificationStore.ListByAccountID(accountID)
	if err != nil {
		h.logger.Error("list notifications", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// SubscribePush registers a browser push endpoint for the account.
func (h *AccountHandler) SubscribePush(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid push subscription"})
		return
	}

	if _, err := h.pushStore.Upsert(accountID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth); err != nil {
		h.logger.Error("save push subscription", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"subscribed": true})
}
