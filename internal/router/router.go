package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gigledger/backend/internal/auth"
	"github.com/gigledger/backend/internal/handlers"
	"github.com/gigledger/backend/internal/middleware"
	"github.com/gigledger/backend/internal/models"
)

// Pinger reports database reachability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Auth    *auth.Handler
	Escrow  *handlers.EscrowHandler
	Float   *handlers.FloatHandler
	Wallets *handlers.WalletHandler
}

// New returns an http.Handler that serves the collaborator API under
// /internal/v1. Every route except token exchange requires a bearer token
// with the route's scope.
func New(h Handlers, tokens middleware.TokenValidator, db Pinger, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	base := "/internal/v1"
	authn := middleware.ServiceAuth(tokens, log)
	scoped := func(scope string, fn http.HandlerFunc) http.Handler {
		return authn(middleware.RequireScope(scope)(fn))
	}

	mux.HandleFunc("POST "+base+"/auth/token", h.Auth.Token)

	mux.Handle("POST "+base+"/escrow/hold", scoped(models.ScopeEscrow, h.Escrow.Hold))
	mux.Handle("POST "+base+"/escrow/release", scoped(models.ScopeEscrow, h.Escrow.Release))
	mux.Handle("POST "+base+"/escrow/refund", scoped(models.ScopeEscrow, h.Escrow.Refund))
	mux.Handle("GET "+base+"/escrow/{task_id}", scoped(models.ScopeEscrow, h.Escrow.ByTask))
	mux.Handle("GET "+base+"/escrow/reference/{reference}", scoped(models.ScopeEscrow, h.Escrow.ByReference))

	mux.Handle("POST "+base+"/float/entries", scoped(models.ScopeGateway, h.Float.Record))
	mux.Handle("GET "+base+"/float/entries", scoped(models.ScopeGateway, h.Float.List))
	mux.Handle("GET "+base+"/float/verify", scoped(models.ScopeGateway, h.Float.Verify))
	mux.Handle("POST "+base+"/wallets/{user_id}/topups", scoped(models.ScopeGateway, h.Wallets.TopUp))
	mux.Handle("POST "+base+"/wallets/{user_id}/payouts", scoped(models.ScopeGateway, h.Wallets.Payout))

	mux.Handle("GET "+base+"/wallets/{user_id}", scoped(models.ScopeWallet, h.Wallets.Get))
	mux.Handle("GET "+base+"/wallets/{user_id}/statement", scoped(models.ScopeWallet, h.Wallets.Statement))
	mux.Handle("GET "+base+"/wallets/{user_id}/audit", scoped(models.ScopeWallet, h.Wallets.Audit))
	mux.Handle("PUT "+base+"/wallets/{user_id}/status", scoped(models.ScopeWallet, h.Wallets.SetStatus))
	mux.Handle("GET "+base+"/platform/audit", scoped(models.ScopeWallet, h.Wallets.PlatformAudit))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}
