package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/borderpay/backend/internal/fetchers"
	"github.com/borderpay/backend/internal/handlers"
	"github.com/borderpay/backend/internal/ledger"
	"github.com/borderpay/backend/internal/signer"
	"github.com/borderpay/backend/internal/subscriptions"
)

// RouteDeps carries everything the route table needs.
type RouteDeps struct {
	Ledger                ledger.Service
	Keys                  *signer.KeyManager
	Border                *fetchers.Border
	SubStore              *subscriptions.Store
	Engine                *subscriptions.Engine
	PricePerRequestMicros int64
	NotificationMicros    int64
	CheckInterval         time.Duration
	MerchantConfigured    bool
	Logger                *slog.Logger
}

// RegisterRoutes adds all endpoints to the mux. The metering paywall is
// applied outside the mux; /border-wait and /crossings are the paid paths,
// the rest are exempt by prefix.
func RegisterRoutes(mux *http.ServeMux, deps *RouteDeps) {
	balanceHandler := &handlers.BalanceHandler{
		Ledger:      deps.Ledger,
		PriceMicros: deps.PricePerRequestMicros,
		Logger:      deps.Logger,
	}
	oracleHandler := &handlers.OracleHandler{Provider: "borderpay", Keys: deps.Keys}
	borderHandler := &handlers.BorderHandler{Source: deps.Border, Keys: deps.Keys, Logger: deps.Logger}
	subHandler := &handlers.SubscriptionHandler{
		Store:         deps.SubStore,
		Registry:      deps.Engine,
		Keys:          deps.Keys,
		PriceMicros:   deps.NotificationMicros,
		CheckInterval: deps.CheckInterval,
		Logger:        deps.Logger,
	}

	merchantConfigured := deps.MerchantConfigured
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if merchantConfigured {
			w.Write([]byte(`{"status":"ok","merchant_configured":true,"subscriptions_enabled":true}`))
		} else {
			w.Write([]byte(`{"status":"ok","merchant_configured":false,"subscriptions_enabled":true}`))
		}
	})

	mux.HandleFunc("GET /oracle-key", oracleHandler.GetPublicKey)
	mux.HandleFunc("GET /balance/{wallet}", balanceHandler.GetBalance)
	mux.HandleFunc("GET /balance/{wallet}/transactions", balanceHandler.GetTransactions)

	mux.HandleFunc("POST /border-wait", borderHandler.GetWaitTime)
	mux.HandleFunc("GET /crossings", borderHandler.ListCrossings)

	mux.HandleFunc("POST /subscribe", subHandler.Create)
	mux.HandleFunc("GET /subscriptions", subHandler.List)
	mux.HandleFunc("DELETE /subscriptions/{id}", subHandler.Delete)
}
