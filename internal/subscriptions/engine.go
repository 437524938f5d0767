package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/borderpay/backend/internal/models"
	"github.com/borderpay/backend/internal/signer"
)

// Fetcher produces the current data record for a target given a structured
// parameter mapping. Implementations report transient problems as errors;
// the engine skips the affected group and retries next cycle.
type Fetcher func(ctx context.Context, params map[string]any) (map[string]any, error)

// subscriptionStore is the store surface the engine consumes.
type subscriptionStore interface {
	GetActive(ctx context.Context, target string) ([]*models.Subscription, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, triggeredAt *int64) error
}

// charger bills the owner for a delivered notification.
type charger interface {
	Charge(ctx context.Context, wallet string, amountMicros int64, description string) (bool, error)
}

// Engine polls registered fetchers on behalf of active subscriptions and
// fires each matching subscription at most once ever.
type Engine struct {
	store       subscriptionStore
	ledger      charger
	signer      *signer.Signer
	evaluator   *Evaluator
	priceMicros int64
	webhook     *http.Client
	logger      *slog.Logger

	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

func NewEngine(store subscriptionStore, ledger charger, sig *signer.Signer, priceMicros int64, webhookTimeout time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		store:       store,
		ledger:      ledger,
		signer:      sig,
		evaluator:   NewEvaluator(logger),
		priceMicros: priceMicros,
		webhook:     &http.Client{Timeout: webhookTimeout},
		logger:      logger,
		fetchers:    make(map[string]Fetcher),
	}
}

// Register binds a fetcher to a target name. Targets without a fetcher are
// never polled and cannot be subscribed to.
func (e *Engine) Register(target string, fetcher Fetcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetchers[target] = fetcher
}

// Targets returns the registered target names, sorted.
func (e *Engine) Targets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	targets := make([]string, 0, len(e.fetchers))
	for name := range e.fetchers {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	return targets
}

// HasTarget reports whether a fetcher is registered for target.
func (e *Engine) HasTarget(target string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.fetchers[target]
	return ok
}

// RunCycle performs one full processing pass: per target, sweep expired
// subscriptions, fetch once per distinct parameter set, evaluate each
// member's condition, and trigger matches. A fetcher error skips its group
// for this cycle only. Cancellation is honored between subscription groups,
// never inside a trigger sequence.
func (e *Engine) RunCycle(ctx context.Context) error {
	for _, target := range e.Targets() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.processTarget(ctx, target); err != nil {
			// One bad target must not starve the others.
			e.logger.Error("target cycle failed", "target", target, "error", err)
		}
	}
	return nil
}

func (e *Engine) processTarget(ctx context.Context, target string) error {
	e.mu.RLock()
	fetcher := e.fetchers[target]
	e.mu.RUnlock()

	subs, err := e.store.GetActive(ctx, target)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}

	now := time.Now().Unix()
	groups := make(map[string][]*models.Subscription)
	groupParams := make(map[string]map[string]any)
	for _, sub := range subs {
		if sub.ExpiresAt != 0 && sub.ExpiresAt < now {
			if err := e.store.UpdateStatus(ctx, sub.ID, models.SubscriptionExpired, nil); err != nil {
				e.logger.Error("expire subscription", "id", sub.ID, "error", err)
			} else {
				e.logger.Info("subscription expired", "id", sub.ID, "wallet", sub.Wallet)
			}
			continue
		}
		key := paramsKey(sub.Params)
		groups[key] = append(groups[key], sub)
		groupParams[key] = sub.Params
	}

	for key, members := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := fetcher(ctx, groupParams[key])
		if err != nil {
			e.logger.Warn("fetch failed, group skipped this cycle",
				"target", target, "params", key, "error", err)
			continue
		}
		// Fetchers may report failure as a data-level error record instead
		// of a Go error; such records must never reach condition evaluation.
		if errMsg, ok := data["error"]; ok {
			e.logger.Warn("fetcher reported error, group skipped this cycle",
				"target", target, "params", key, "error", errMsg)
			continue
		}
		for _, sub := range members {
			if e.evaluator.Evaluate(sub.Condition, data) {
				e.trigger(ctx, sub, data)
			}
		}
	}
	return nil
}

// paramsKey derives the dedup key for a parameter set. Canonical JSON makes
// logically equal sets group together regardless of map iteration order.
func paramsKey(params map[string]any) string {
	canonical, err := signer.Canonicalize(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(canonical)
}

// trigger runs the one-shot notification sequence: charge, sign, deliver,
// mark triggered. Each step gates the next; the final status write happens
// regardless of delivery outcome so a subscription can never fire twice.
func (e *Engine) trigger(ctx context.Context, sub *models.Subscription, data map[string]any) {
	charged, err := e.ledger.Charge(ctx, sub.Wallet, e.priceMicros, "subscription notification: "+sub.Target)
	if err != nil {
		e.logger.Error("notification charge errored", "id", sub.ID, "error", err)
		return
	}
	if !charged {
		// A match the owner cannot pay for forfeits the subscription.
		e.logger.Warn("notification charge declined, subscription failed",
			"id", sub.ID, "wallet", sub.Wallet)
		if err := e.store.UpdateStatus(ctx, sub.ID, models.SubscriptionFailed, nil); err != nil {
			e.logger.Error("mark subscription failed", "id", sub.ID, "error", err)
		}
		return
	}

	now := time.Now().Unix()
	payload := map[string]any{
		"subscription_id": sub.ID.String(),
		"target":          sub.Target,
		"params":          sub.Params,
		"condition":       sub.Condition,
		"data":            data,
		"triggered_at":    now,
	}
	envelope, err := e.signer.Sign(payload, now)
	if err != nil {
		e.logger.Error("sign notification", "id", sub.ID, "error", err)
	} else {
		e.deliver(ctx, sub, envelope)
	}

	if err := e.store.UpdateStatus(ctx, sub.ID, models.SubscriptionTriggered, &now); err != nil {
		e.logger.Error("mark subscription triggered", "id", sub.ID, "error", err)
		return
	}
	e.logger.Info("subscription triggered", "id", sub.ID, "wallet", sub.Wallet, "target", sub.Target)
}

// deliver POSTs the signed envelope to the webhook. Best effort: failures are
// logged, never retried, and never roll back the charge.
func (e *Engine) deliver(ctx context.Context, sub *models.Subscription, envelope *signer.Envelope) {
	body, err := json.Marshal(envelope)
	if err != nil {
		e.logger.Error("encode webhook body", "id", sub.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.WebhookURL, bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("bad webhook url", "id", sub.ID, "url", sub.WebhookURL, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", envelope.Signature)
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", envelope.Timestamp))
	req.Header.Set("X-Pubkey", envelope.ProviderPubkey)

	resp, err := e.webhook.Do(req)
	if err != nil {
		e.logger.Warn("webhook delivery failed", "id", sub.ID, "url", sub.WebhookURL, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.logger.Warn("webhook returned non-2xx", "id", sub.ID, "status", resp.StatusCode)
	}
}
