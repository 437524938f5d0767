package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/borderpay/backend/internal/models"
	"github.com/borderpay/backend/internal/signer"
	"github.com/borderpay/backend/internal/subscriptions"
)

// SubscriptionStore is the store subset the handler uses.
type SubscriptionStore interface {
	Add(ctx context.Context, sub *models.Subscription) error
	GetByOwner(ctx context.Context, wallet string) ([]*models.Subscription, error)
	Delete(ctx context.Context, id uuid.UUID, wallet string) (bool, error)
}

// TargetRegistry reports which targets have a registered fetcher.
type TargetRegistry interface {
	HasTarget(target string) bool
	Targets() []string
}

// SubscriptionHandler serves the subscription endpoints.
type SubscriptionHandler struct {
	Store         SubscriptionStore
	Registry      TargetRegistry
	Keys          *signer.KeyManager
	PriceMicros   int64
	CheckInterval time.Duration
	Logger        *slog.Logger
}

type createSubscriptionRequest struct {
	Target         string         `json:"target"`
	Params         map[string]any `json:"params"`
	Condition      string         `json:"condition"`
	WebhookURL     string         `json:"webhook_url"`
	ExpiresInHours float64        `json:"expires_in_hours"`
}

// Create handles POST /subscribe.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	wallet := callerWallet(r)
	if wallet == "" {
		http.Error(w, `{"error":"missing_wallet"}`, http.StatusBadRequest)
		return
	}

	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	if !h.Registry.HasTarget(req.Target) {
		http.Error(w, fmt.Sprintf(`{"error":"unknown_target","message":"known targets: %v"}`, h.Registry.Targets()), http.StatusBadRequest)
		return
	}
	if err := subscriptions.ValidateCondition(req.Condition); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid_condition","message":%q}`, err.Error()), http.StatusBadRequest)
		return
	}
	if u, err := url.Parse(req.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, `{"error":"invalid_webhook_url"}`, http.StatusBadRequest)
		return
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	now := time.Now().Unix()
	var expiresAt int64
	if req.ExpiresInHours > 0 {
		expiresAt = now + int64(req.ExpiresInHours*3600)
	}

	sub := &models.Subscription{
		ID:         uuid.New(),
		Wallet:     wallet,
		Target:     req.Target,
		Params:     req.Params,
		Condition:  req.Condition,
		WebhookURL: req.WebhookURL,
		Status:     models.SubscriptionActive,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}

	if err := h.Store.Add(r.Context(), sub); err != nil {
		if errors.Is(err, subscriptions.ErrDuplicate) {
			http.Error(w, `{"error":"duplicate_subscription"}`, http.StatusConflict)
			return
		}
		h.Logger.Error("create subscription", "wallet", wallet, "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}

	h.Logger.Info("subscription created", "id", sub.ID, "wallet", wallet, "target", sub.Target)
	writeSigned(w, http.StatusCreated, h.Keys, map[string]any{
		"message":                fmt.Sprintf("subscribed: you will be notified when %q", sub.Condition),
		"subscription":           sub,
		"notification_price_usd": models.USD(h.PriceMicros),
		"check_interval_seconds": int(h.CheckInterval.Seconds()),
	}, h.Logger)
}

// List handles GET /subscriptions.
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	wallet := callerWallet(r)
	if wallet == "" {
		http.Error(w, `{"error":"missing_wallet"}`, http.StatusBadRequest)
		return
	}

	subs, err := h.Store.GetByOwner(r.Context(), wallet)
	if err != nil {
		h.Logger.Error("list subscriptions", "wallet", wallet, "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	if subs == nil {
		subs = []*models.Subscription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

// Delete handles DELETE /subscriptions/{id}.
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	wallet := callerWallet(r)
	if wallet == "" {
		http.Error(w, `{"error":"missing_wallet"}`, http.StatusBadRequest)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid_id"}`, http.StatusBadRequest)
		return
	}

	deleted, err := h.Store.Delete(r.Context(), id, wallet)
	if err != nil {
		h.Logger.Error("delete subscription", "id", id, "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "subscription cancelled", "id": id})
}
