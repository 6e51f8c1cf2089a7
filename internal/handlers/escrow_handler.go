package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/gigledger/backend/internal/middleware"
	"github.com/gigledger/backend/internal/models"
	"github.com/gigledger/backend/internal/money"
	"github.com/gigledger/backend/internal/services"
)

// Escrow abstracts the escrow operations served over HTTP.
type Escrow interface {
	HoldFunds(ctx context.Context, req services.HoldRequest) (*services.HoldResult, error)
	ReleaseFunds(ctx context.Context, req services.ReleaseRequest) (*services.ReleaseResult, error)
	RefundFunds(ctx context.Context, req services.RefundRequest) (*services.RefundResult, error)
	GetByTask(ctx context.Context, taskID uuid.UUID) ([]*models.EscrowTransaction, error)
	GetByReference(ctx context.Context, reference string) (*models.EscrowTransaction, error)
}

// EscrowHandler serves /internal/v1/escrow for the task workflow.
type EscrowHandler struct {
	Escrow Escrow
	Logger *slog.Logger
}

func NewEscrowHandler(e Escrow, log *slog.Logger) *EscrowHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EscrowHandler{Escrow: e, Logger: log}
}

type holdResponse struct {
	Status      string `json:"status"`
	Reference   string `json:"reference"`
	PlatformFee string `json:"platform_fee"`
}

type releaseResponse struct {
	Status      string `json:"status"`
	Reference   string `json:"reference"`
	DoerPay     string `json:"doer_pay"`
	PlatformFee string `json:"platform_fee"`
}

type refundResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Refunded  string `json:"refunded"`
}

// Hold handles POST /internal/v1/escrow/hold.
func (h *EscrowHandler) Hold(w http.ResponseWriter, r *http.Request) {
	var req services.HoldRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Escrow.HoldFunds(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log(r), "hold funds", err)
		return
	}
	writeJSON(w, http.StatusCreated, holdResponse{
		Status:      res.Status,
		Reference:   res.Reference,
		PlatformFee: res.PlatformFee.StringFixed(money.Scale),
	})
}

// Release handles POST /internal/v1/escrow/release.
func (h *EscrowHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req services.ReleaseRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Escrow.ReleaseFunds(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log(r), "release funds", err)
		return
	}
	writeJSON(w, http.StatusOK, releaseResponse{
		Status:      res.Status,
		Reference:   res.Reference,
		DoerPay:     res.DoerPay.StringFixed(money.Scale),
		PlatformFee: res.PlatformFee.StringFixed(money.Scale),
	})
}

// Refund handles POST /internal/v1/escrow/refund.
func (h *EscrowHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req services.RefundRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Escrow.RefundFunds(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log(r), "refund funds", err)
		return
	}
	writeJSON(w, http.StatusOK, refundResponse{
		Status:    res.Status,
		Reference: res.Reference,
		Refunded:  res.Refunded.StringFixed(money.Scale),
	})
}

// ByTask handles GET /internal/v1/escrow/{task_id}.
func (h *EscrowHandler) ByTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(w, r, "task_id")
	if !ok {
		return
	}
	list, err := h.Escrow.GetByTask(r.Context(), taskID)
	if err != nil {
		writeServiceError(w, h.log(r), "get escrow", err)
		return
	}
	if len(list) == 0 {
		writeError(w, http.StatusNotFound, "no escrow for task")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ByReference handles GET /internal/v1/escrow/reference/{reference}.
func (h *EscrowHandler) ByReference(w http.ResponseWriter, r *http.Request) {
	escrow, err := h.Escrow.GetByReference(r.Context(), r.PathValue("reference"))
	if err != nil {
		writeServiceError(w, h.log(r), "get escrow by reference", err)
		return
	}
	writeJSON(w, http.StatusOK, escrow)
}

// log tags the request logger with the calling client.
func (h *EscrowHandler) log(r *http.Request) *slog.Logger {
	return requestLogger(h.Logger, r)
}

func requestLogger(log *slog.Logger, r *http.Request) *slog.Logger {
	if c := middleware.ClaimsFromCtx(r.Context()); c != nil {
		return log.With("client", c.Name, "path", r.URL.Path)
	}
	return log.With("path", r.URL.Path)
}
