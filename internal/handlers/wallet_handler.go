package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gigledger/backend/internal/models"
	"github.com/gigledger/backend/internal/services"
)

// Wallets abstracts the wallet operations served over HTTP.
type Wallets interface {
	TopUp(ctx context.Context, req services.TopUpRequest) (*services.MovementResult, error)
	Payout(ctx context.Context, req services.PayoutRequest) (*services.MovementResult, error)
	Balance(ctx context.Context, userID uuid.UUID) (*models.WalletAccount, error)
	Statement(ctx context.Context, userID uuid.UUID, limit int, beforeSeq int64) (*services.Statement, error)
	AuditUser(ctx context.Context, userID uuid.UUID) (*services.AuditReport, error)
	AuditPlatform(ctx context.Context) (*services.AuditReport, error)
	SetStatus(ctx context.Context, userID uuid.UUID, status string) (*models.WalletAccount, error)
}

// WalletHandler serves /internal/v1/wallets and /internal/v1/platform.
type WalletHandler struct {
	Wallets Wallets
	Logger  *slog.Logger
}

func NewWalletHandler(ws Wallets, log *slog.Logger) *WalletHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WalletHandler{Wallets: ws, Logger: log}
}

type topUpBody struct {
	Amount            decimal.Decimal `json:"amount"`
	ExternalReference string          `json:"external_reference"`
	Source            string          `json:"source"`
}

type payoutBody struct {
	Amount            decimal.Decimal `json:"amount"`
	ExternalReference string          `json:"external_reference"`
	Destination       string          `json:"destination"`
}

type statusBody struct {
	Status string `json:"status"`
}

// TopUp handles POST /internal/v1/wallets/{user_id}/topups.
func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}
	var body topUpBody
	if !decode(w, r, &body) {
		return
	}
	res, err := h.Wallets.TopUp(r.Context(), services.TopUpRequest{
		UserID:            userID,
		Amount:            body.Amount,
		ExternalReference: body.ExternalReference,
		Source:            body.Source,
	})
	if err != nil {
		writeServiceError(w, requestLogger(h.Logger, r), "top-up", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Payout handles POST /internal/v1/wallets/{user_id}/payouts.
func (h *WalletHandler) Payout(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}
	var body payoutBody
	if !decode(w, r, &body) {
		return
	}
	res, err := h.Wallets.Payout(r.Context(), services.PayoutRequest{
		UserID:            userID,
		Amount:            body.Amount,
		ExternalReference: body.ExternalReference,
		Destination:       body.Destination,
	})
	if err != nil {
		writeServiceError(w, requestLogger(h.Logger, r), "payout", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Get handles GET /internal/v1/wallets/{user_id}.
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}
	wallet, err := h.Wallets.Balance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, requestLogger(h.Logger, r), "get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// Statement handles GET /internal/v1/wallets/{user_id}/statement?limit=&before=.
func (h *WalletHandler) Statement(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}
	limit, before := page(r)
	st, err := h.Wallets.Statement(r.Context(), userID, limit, before)
	if err != nil {
		writeServiceError(w, requestLogger(h.Logger, r), "statement", err)
		return
	}
	if st.Entries == nil {
		st.Entries = []*models.WalletLedgerEntry{}
	}
	writeJSON(w, http.StatusOK, st)
}

// Audit handles GET /internal/v1/wallets/{user_id}/audit.
func (h *WalletHandler) Audit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}
	report, err := h.Wallets.AuditUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, requestLogger(h.Logger, r), "audit wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// PlatformAudit handles GET /internal/v1/platform/audit.
func (h *WalletHandler) PlatformAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Wallets.AuditPlatform(r.Context())
	if err != nil {
		writeServiceError(w, requestLogger(h.Logger, r), "audit platform wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// SetStatus handles PUT /internal/v1/wallets/{user_id}/status.
func (h *WalletHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}
	var body statusBody
	if !decode(w, r, &body) {
		return
	}
	wallet, err := h.Wallets.SetStatus(r.Context(), userID, body.Status)
	if err != nil {
		writeServiceError(w, requestLogger(h.Logger, r), "set wallet status", err)
		return
	}
	requestLogger(h.Logger, r).Info("wallet status set by client", "user_id", userID, "status", wallet.Status)
	writeJSON(w, http.StatusOK, wallet)
}
