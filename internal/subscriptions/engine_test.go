package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/borderpay/backend/internal/models"
	"github.com/borderpay/backend/internal/signer"
)

type memStore struct {
	subs []*models.Subscription
}

func (m *memStore) GetActive(ctx context.Context, target string) ([]*models.Subscription, error) {
	var active []*models.Subscription
	for _, s := range m.subs {
		if s.Status == models.SubscriptionActive && (target == "" || s.Target == target) {
			active = append(active, s)
		}
	}
	return active, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string, triggeredAt *int64) error {
	for _, s := range m.subs {
		if s.ID == id {
			s.Status = status
			if triggeredAt != nil {
				s.TriggeredAt = triggeredAt
			}
			return nil
		}
	}
	return errors.New("not found")
}

type memCharger struct {
	balances map[string]int64
	charges  int
}

func (m *memCharger) Charge(ctx context.Context, wallet string, amount int64, desc string) (bool, error) {
	m.charges++
	if m.balances[wallet] < amount {
		return false, nil
	}
	m.balances[wallet] -= amount
	return true, nil
}

func newTestEngine(t *testing.T, store *memStore, ledger *memCharger) *Engine {
	t.Helper()
	sig, err := signer.New("")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, ledger, sig, 200_000, 5*time.Second, logger)
}

func activeSub(wallet, target, cond, webhook string, params map[string]any) *models.Subscription {
	return &models.Subscription{
		ID:         uuid.New(),
		Wallet:     wallet,
		Target:     target,
		Params:     params,
		Condition:  cond,
		WebhookURL: webhook,
		Status:     models.SubscriptionActive,
		CreatedAt:  time.Now().Unix(),
	}
}

func TestEngineTriggersOnceAndDeliversSigned(t *testing.T) {
	var posts atomic.Int32
	var received signer.Envelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		if r.Header.Get("X-Signature") == "" || r.Header.Get("X-Timestamp") == "" || r.Header.Get("X-Pubkey") == "" {
			t.Error("missing verification headers on webhook")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := activeSub("Wallet1", "border_wait", "wait_time_minutes < 20", server.URL, map[string]any{"crossing": "san_ysidro"})
	store := &memStore{subs: []*models.Subscription{sub}}
	ledger := &memCharger{balances: map[string]int64{"Wallet1": 1_000_000}}
	engine := newTestEngine(t, store, ledger)
	engine.Register("border_wait", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"wait_time_minutes": float64(5)}, nil
	})

	if err := engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if sub.Status != models.SubscriptionTriggered {
		t.Fatalf("status = %q, want triggered", sub.Status)
	}
	if sub.TriggeredAt == nil {
		t.Fatal("triggered_at not set")
	}
	// Balance decreased by exactly the notification price.
	if got := ledger.balances["Wallet1"]; got != 800_000 {
		t.Fatalf("balance = %d micros, want 800000", got)
	}
	if posts.Load() != 1 {
		t.Fatalf("webhook posts = %d, want 1", posts.Load())
	}
	if !signer.VerifyEnvelope(&received) {
		t.Fatal("delivered envelope does not verify")
	}

	// A second cycle must not fire again even though the condition still
	// matches.
	if err := engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if posts.Load() != 1 {
		t.Fatalf("subscription fired twice: %d posts", posts.Load())
	}
	if got := ledger.balances["Wallet1"]; got != 800_000 {
		t.Fatalf("balance changed on second cycle: %d", got)
	}
}

func TestEngineChargeFailureForfeitsSubscription(t *testing.T) {
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
	}))
	defer server.Close()

	sub := activeSub("Broke1", "border_wait", "wait_time_minutes < 20", server.URL, nil)
	store := &memStore{subs: []*models.Subscription{sub}}
	ledger := &memCharger{balances: map[string]int64{}}
	engine := newTestEngine(t, store, ledger)
	engine.Register("border_wait", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"wait_time_minutes": float64(5)}, nil
	})

	if err := engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if sub.Status != models.SubscriptionFailed {
		t.Fatalf("status = %q, want failed", sub.Status)
	}
	if posts.Load() != 0 {
		t.Fatal("webhook sent despite failed charge")
	}
}

func TestEngineExpirySweep(t *testing.T) {
	sub := activeSub("Wallet1", "border_wait", "wait_time_minutes < 20", "http://unused.invalid", nil)
	sub.ExpiresAt = time.Now().Add(-time.Hour).Unix()
	store := &memStore{subs: []*models.Subscription{sub}}
	ledger := &memCharger{balances: map[string]int64{"Wallet1": 1_000_000}}
	engine := newTestEngine(t, store, ledger)
	engine.Register("border_wait", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		// Condition would match, but the expired subscription must be
		// excluded before fetching.
		return map[string]any{"wait_time_minutes": float64(5)}, nil
	})

	if err := engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if sub.Status != models.SubscriptionExpired {
		t.Fatalf("status = %q, want expired", sub.Status)
	}
	if ledger.charges != 0 {
		t.Fatal("expired subscription was charged")
	}
}

func TestEngineDeduplicatesFetches(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	params := map[string]any{"crossing": "otay_mesa", "lane": "standard"}
	// Same params in different insertion order must share one fetch.
	paramsReordered := map[string]any{"lane": "standard", "crossing": "otay_mesa"}
	other := map[string]any{"crossing": "san_ysidro"}

	store := &memStore{subs: []*models.Subscription{
		activeSub("W1", "border_wait", "wait_time_minutes < 5", server.URL, params),
		activeSub("W2", "border_wait", "wait_time_minutes < 10", server.URL, paramsReordered),
		activeSub("W3", "border_wait", "wait_time_minutes < 15", server.URL, other),
	}}
	ledger := &memCharger{balances: map[string]int64{}}
	engine := newTestEngine(t, store, ledger)
	engine.Register("border_wait", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		fetches.Add(1)
		return map[string]any{"wait_time_minutes": float64(60)}, nil
	})

	if err := engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if fetches.Load() != 2 {
		t.Fatalf("fetches = %d, want 2 (deduplicated)", fetches.Load())
	}
}

func TestEngineFetcherErrorSkipsGroup(t *testing.T) {
	sub := activeSub("Wallet1", "border_wait", "wait_time_minutes < 20", "http://unused.invalid", nil)
	store := &memStore{subs: []*models.Subscription{sub}}
	ledger := &memCharger{balances: map[string]int64{"Wallet1": 1_000_000}}
	engine := newTestEngine(t, store, ledger)
	engine.Register("border_wait", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, errors.New("upstream down")
	})

	if err := engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	// No mutation: the group retries next cycle.
	if sub.Status != models.SubscriptionActive {
		t.Fatalf("status = %q, want active", sub.Status)
	}
	if ledger.charges != 0 {
		t.Fatal("charge issued despite fetch failure")
	}
}

func TestEngineErrorRecordSkipsGroup(t *testing.T) {
	// A condition like `error != ""` must never fire against a fetcher's
	// data-level error record.
	sub := activeSub("Wallet1", "border_wait", `error != ""`, "http://unused.invalid", nil)
	store := &memStore{subs: []*models.Subscription{sub}}
	ledger := &memCharger{balances: map[string]int64{"Wallet1": 1_000_000}}
	engine := newTestEngine(t, store, ledger)
	engine.Register("border_wait", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"error": "unknown crossing: Nowhere"}, nil
	})

	if err := engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if sub.Status != models.SubscriptionActive {
		t.Fatalf("status = %q, want active", sub.Status)
	}
	if ledger.charges != 0 {
		t.Fatal("charge issued for an error record")
	}
}

func TestEngineWebhookFailureStillTriggers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := activeSub("Wallet1", "border_wait", "wait_time_minutes < 20", server.URL, nil)
	store := &memStore{subs: []*models.Subscription{sub}}
	ledger := &memCharger{balances: map[string]int64{"Wallet1": 1_000_000}}
	engine := newTestEngine(t, store, ledger)
	engine.Register("border_wait", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"wait_time_minutes": float64(5)}, nil
	})

	if err := engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	// Delivery is best effort: the charge stands and the subscription is
	// terminal even though the webhook answered 500.
	if sub.Status != models.SubscriptionTriggered {
		t.Fatalf("status = %q, want triggered", sub.Status)
	}
	if got := ledger.balances["Wallet1"]; got != 800_000 {
		t.Fatalf("balance = %d micros, want 800000", got)
	}
}
