package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Deathvks/AutoGest-sub000/internal/store"
	"github.com/Deathvks/AutoGest-sub000/internal/subscription"
)

type SubscriptionHandler struct {
	controller   *subscription.Controller
	accountStore *store.AccountStore
	logger       *slog.Logger
}

func NewSubscriptionHandler(c *subscription.Controller, as *store.AccountStore, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		controller:   c,
		accountStore: as,
		logger:       logger,
	}
}

// Create starts a subscription with the submitted payment method token.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		PaymentMethodToken string `json:"paymentMethodToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.controller.Create(r.Context(), accountID, req.PaymentMethodToken)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Status returns the locally cached subscription state.
func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	acct, err := h.accountStore.GetByID(accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if acct == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "account not found"})
		return
	}
	respondJSON(w, http.StatusOK, subscription.StatusResult{
		SubscriptionStatus: acct.SubscriptionStatus,
		SubscriptionExpiry: acct.SubscriptionExpiry,
	})
}

// Cancel flags the subscription for cancellation at period end.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	result, err := h.controller.Cancel(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	msg := "Subscription cancelled."
	if result.SubscriptionExpiry != nil {
		msg = fmt.Sprintf("Subscription cancelled. Access continues until %s.", result.SubscriptionExpiry.Format("2 Jan 2006"))
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// Reactivate clears the cancellation flag on a cancelled subscription.
func (h *SubscriptionHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if _, err := h.controller.Reactivate(r.Context(), accountID); err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Subscription reactivated."})
}

// Sync re-derives the cached state from the gateway and returns it.
func (h *SubscriptionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	result, err := h.controller.Sync(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// writeError maps domain errors onto the HTTP surface. Gateway failures are
// logged in full but reach the client as a generic message.
func (h *SubscriptionHandler) writeError(w http.ResponseWriter, err error) {
	var verr *subscription.ValidationError
	if errors.As(err, &verr) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Msg})
		return
	}
	if errors.Is(err, subscription.ErrNoActiveSubscription) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "no active subscription"})
		return
	}
	if errors.Is(err, subscription.ErrAccountNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "account not found"})
		return
	}
	h.logger.Error("subscription operation failed", "error", err)
	respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "subscription processing failed"})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
