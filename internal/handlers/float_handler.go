package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/gigledger/backend/internal/ledger"
	"github.com/gigledger/backend/internal/models"
)

type FloatLedger interface {
	Record(ctx context.Context, rec ledger.Record) (*models.FloatEntry, error)
	List(ctx context.Context, currency string, limit int, beforeSeq int64) ([]*models.FloatEntry, error)
	Balance(ctx context.Context, currency string) (decimal.Decimal, error)
	Verify(ctx context.Context, currency string) (*ledger.VerifyReport, error)
}

// FloatHandler serves /internal/v1/float for payment gateway integrations.
type FloatHandler struct {
	Float  FloatLedger
	Logger *slog.Logger
}

func NewFloatHandler(f FloatLedger, log *slog.Logger) *FloatHandler {
	if log == nil {
		log = slog.Default()
	}
	return &FloatHandler{Float: f, Logger: log}
}

type floatListResponse struct {
	Currency string               `json:"currency"`
	Balance  decimal.Decimal      `json:"balance"`
	Entries  []*models.FloatEntry `json:"entries"`
}

type verifyResponse struct {
	*ledger.VerifyReport
	Consistent bool `json:"consistent"`
}

// Record handles POST /internal/v1/float/entries.
func (h *FloatHandler) Record(w http.ResponseWriter, r *http.Request) {
	var rec ledger.Record
	if !decode(w, r, &rec) {
		return
	}
	entry, err := h.Float.Record(r.Context(), rec)
	if err != nil {
		writeServiceError(w, requestLogger(h.Logger, r), "record float entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// List handles GET /internal/v1/float/entries?currency=&limit=&before=.
func (h *FloatHandler) List(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	limit, before := page(r)
	entries, err := h.Float.List(r.Context(), currency, limit, before)
	if err != nil {
		writeServiceError(w, requestLogger(h.Logger, r), "list float entries", err)
		return
	}
	balance, err := h.Float.Balance(r.Context(), currency)
	if err != nil {
		writeServiceError(w, requestLogger(h.Logger, r), "float balance", err)
		return
	}
	if entries == nil {
		entries = []*models.FloatEntry{}
	}
	writeJSON(w, http.StatusOK, floatListResponse{Currency: currency, Balance: balance, Entries: entries})
}

// Verify handles GET /internal/v1/float/verify?currency=.
func (h *FloatHandler) Verify(w http.ResponseWriter, r *http.Request) {
	report, err := h.Float.Verify(r.Context(), r.URL.Query().Get("currency"))
	if err != nil {
		writeServiceError(w, requestLogger(h.Logger, r), "verify float ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{VerifyReport: report, Consistent: report.Consistent()})
}
