package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/borderpay/backend/internal/middleware"
	"github.com/borderpay/backend/internal/models"
	"github.com/borderpay/backend/internal/signer"
	"github.com/borderpay/backend/internal/subscriptions"
)

type memSubStore struct {
	subs []*models.Subscription
}

func (m *memSubStore) Add(ctx context.Context, sub *models.Subscription) error {
	for _, s := range m.subs {
		if s.Wallet == sub.Wallet && s.Target == sub.Target &&
			s.Condition == sub.Condition && s.WebhookURL == sub.WebhookURL {
			return subscriptions.ErrDuplicate
		}
	}
	m.subs = append(m.subs, sub)
	return nil
}

func (m *memSubStore) GetByOwner(ctx context.Context, wallet string) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for _, s := range m.subs {
		if s.Wallet == wallet {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSubStore) Delete(ctx context.Context, id uuid.UUID, wallet string) (bool, error) {
	for _, s := range m.subs {
		if s.ID == id && s.Wallet == wallet && s.Status == models.SubscriptionActive {
			s.Status = models.SubscriptionCancelled
			return true, nil
		}
	}
	return false, nil
}

type staticRegistry struct{ targets []string }

func (r *staticRegistry) HasTarget(target string) bool {
	for _, t := range r.targets {
		if t == target {
			return true
		}
	}
	return false
}

func (r *staticRegistry) Targets() []string { return r.targets }

func newSubHandler(t *testing.T, store *memSubStore) *SubscriptionHandler {
	t.Helper()
	sig, err := signer.New("")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return &SubscriptionHandler{
		Store:         store,
		Registry:      &staticRegistry{targets: []string{"border_wait"}},
		Keys:          signer.NewKeyManager(sig, 2),
		PriceMicros:   200_000,
		CheckInterval: time.Minute,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

const createBody = `{
	"target": "border_wait",
	"params": {"crossing": "san_ysidro"},
	"condition": "wait_time_minutes < 20",
	"webhook_url": "https://example.com/hook",
	"expires_in_hours": 24
}`

func createReq(body string) *http.Request {
	req := httptest.NewRequest("POST", "/subscribe", strings.NewReader(body))
	return req.WithContext(middleware.WithWallet(req.Context(), "Wallet1"))
}

func TestCreateSubscription(t *testing.T) {
	store := &memSubStore{}
	h := newSubHandler(t, store)

	rr := httptest.NewRecorder()
	h.Create(rr, createReq(createBody))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var env signer.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !signer.VerifyEnvelope(&env) {
		t.Fatal("creation response envelope does not verify")
	}

	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("envelope data = %T", env.Data)
	}
	if data["notification_price_usd"] != 0.2 {
		t.Fatalf("notification_price_usd = %v", data["notification_price_usd"])
	}
	if len(store.subs) != 1 {
		t.Fatalf("stored subscriptions = %d", len(store.subs))
	}
	sub := store.subs[0]
	if sub.Status != models.SubscriptionActive || sub.Wallet != "Wallet1" {
		t.Fatalf("stored subscription = %+v", sub)
	}
	if sub.ExpiresAt <= time.Now().Unix() {
		t.Fatal("expiry not set in the future")
	}
}

func TestCreateSubscriptionDuplicate(t *testing.T) {
	store := &memSubStore{}
	h := newSubHandler(t, store)

	rr := httptest.NewRecorder()
	h.Create(rr, createReq(createBody))
	if rr.Code != http.StatusCreated {
		t.Fatalf("first create: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.Create(rr, createReq(createBody))
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", rr.Code)
	}
}

func TestCreateSubscriptionValidation(t *testing.T) {
	h := newSubHandler(t, &memSubStore{})

	cases := []struct {
		name string
		body string
	}{
		{"unknown target", `{"target":"weather","condition":"temp < 0","webhook_url":"https://x.com/h"}`},
		{"bad condition", `{"target":"border_wait","condition":"nonsense","webhook_url":"https://x.com/h"}`},
		{"bad webhook", `{"target":"border_wait","condition":"wait_time_minutes < 20","webhook_url":"ftp://x"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.Create(rr, createReq(tc.body))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, rr.Code)
		}
	}

	// Missing wallet.
	rr := httptest.NewRecorder()
	h.Create(rr, httptest.NewRequest("POST", "/subscribe", strings.NewReader(createBody)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing wallet status = %d, want 400", rr.Code)
	}
}

func TestDeleteSubscriptionOwnership(t *testing.T) {
	store := &memSubStore{}
	h := newSubHandler(t, store)

	rr := httptest.NewRecorder()
	h.Create(rr, createReq(createBody))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d", rr.Code)
	}
	id := store.subs[0].ID

	// Another wallet cannot cancel it.
	req := httptest.NewRequest("DELETE", "/subscriptions/"+id.String(), nil)
	req.SetPathValue("id", id.String())
	req = req.WithContext(middleware.WithWallet(req.Context(), "Intruder"))
	rr = httptest.NewRecorder()
	h.Delete(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("foreign delete status = %d, want 404", rr.Code)
	}
	if store.subs[0].Status != models.SubscriptionActive {
		t.Fatal("foreign delete mutated subscription")
	}

	// The owner can.
	req = httptest.NewRequest("DELETE", "/subscriptions/"+id.String(), nil)
	req.SetPathValue("id", id.String())
	req = req.WithContext(middleware.WithWallet(req.Context(), "Wallet1"))
	rr = httptest.NewRecorder()
	h.Delete(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("owner delete status = %d, want 200", rr.Code)
	}
	if store.subs[0].Status != models.SubscriptionCancelled {
		t.Fatalf("status = %q, want cancelled", store.subs[0].Status)
	}
}
