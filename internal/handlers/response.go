package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/gigledger/backend/internal/db"
	"github.com/gigledger/backend/internal/ledger"
	"github.com/gigledger/backend/internal/money"
	"github.com/gigledger/backend/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

// insufficientResponse lets the caller prompt the user for a top-up.
type insufficientResponse struct {
	Error     string `json:"error"`
	Required  string `json:"required"`
	Current   string `json:"current"`
	Shortfall string `json:"shortfall"`
	Currency  string `json:"currency"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps ledger errors to HTTP statuses. Anything it does
// not recognise is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	var insufficient *services.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, insufficientResponse{
			Error:     "insufficient balance",
			Required:  insufficient.Required.StringFixed(money.Scale),
			Current:   insufficient.Current.StringFixed(money.Scale),
			Shortfall: insufficient.Shortfall().StringFixed(money.Scale),
			Currency:  insufficient.Currency,
		})
	case errors.Is(err, services.ErrMissingHeldTransaction),
		errors.Is(err, services.ErrEscrowAlreadyHeld),
		errors.Is(err, services.ErrEscrowMismatch),
		errors.Is(err, services.ErrWalletInactive),
		errors.Is(err, services.ErrDuplicateExternalRef),
		errors.Is(err, ledger.ErrDuplicateReference):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrWalletNotFound), errors.Is(err, services.ErrEscrowNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidTask),
		errors.Is(err, services.ErrSamePayerPayee),
		errors.Is(err, services.ErrInvalidGateway),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, ledger.ErrInvalidDirection),
		errors.Is(err, ledger.ErrInvalidActor),
		errors.Is(err, money.ErrNonPositive),
		errors.Is(err, money.ErrTooPrecise),
		errors.Is(err, money.ErrTooLarge),
		errors.Is(err, money.ErrBadCurrency):
		writeError(w, http.StatusBadRequest, err.Error())
	case services.IsRetryable(err):
		log.Warn(op+" failed transiently", "error", err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	case errors.Is(err, db.ErrImmutableEntry):
		log.Error(op+" touched an immutable ledger row", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		log.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// page reads ?limit= and ?before= for seq-keyed pagination.
func page(r *http.Request) (limit int, before int64) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	before, _ = strconv.ParseInt(q.Get("before"), 10, 64)
	if before < 0 {
		before = 0
	}
	return limit, before
}
