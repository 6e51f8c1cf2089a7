package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gigledger/backend/internal/db"
	"github.com/gigledger/backend/internal/models"
	"github.com/gigledger/backend/internal/money"
	"github.com/gigledger/backend/internal/repository"
)

const notifyTimeout = 5 * time.Second

// EscrowStore is the escrow_transactions access the engine needs.
type EscrowStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error
	GetHeldByTaskForUpdate(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (*models.EscrowTransaction, error)
	SettleTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) (time.Time, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.EscrowTransaction, error)
	GetByReference(ctx context.Context, reference string) (*models.EscrowTransaction, error)
}

// NotificationEnqueuer schedules a notification for delivery. It is only
// called after a financial transaction has committed.
type NotificationEnqueuer interface {
	Enqueue(ctx context.Context, n models.Notification) error
}

type HoldRequest struct {
	TaskID    uuid.UUID       `json:"task_id"`
	TaskTitle string          `json:"task_title"`
	PayerID   uuid.UUID       `json:"payer_id"`
	PayeeID   uuid.UUID       `json:"payee_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type HoldResult struct {
	Status      string          `json:"status"`
	Reference   string          `json:"reference"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
}

// ReleaseRequest identifies the held funds to pay out. PayerID, PayeeID and
// Amount are optional cross-checks against the held transaction.
type ReleaseRequest struct {
	TaskID    uuid.UUID       `json:"task_id"`
	TaskTitle string          `json:"task_title"`
	PayerID   uuid.UUID       `json:"payer_id"`
	PayeeID   uuid.UUID       `json:"payee_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type ReleaseResult struct {
	Status      string          `json:"status"`
	Reference   string          `json:"reference"`
	DoerPay     decimal.Decimal `json:"doer_pay"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
}

type RefundRequest struct {
	TaskID    uuid.UUID `json:"task_id"`
	TaskTitle string    `json:"task_title"`
	Reason    string    `json:"reason"`
}

type RefundResult struct {
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Refunded  decimal.Decimal `json:"refunded"`
}

// EscrowService moves task payments through hold -> release (or refund).
// Each call is one database transaction; notifications are enqueued after
// it commits.
type EscrowService struct {
	DB       db.TxBeginner
	Wallets  WalletStore
	Entries  EntryStore
	Escrows  EscrowStore
	Notifier NotificationEnqueuer
	Currency string
	// FeeRate applies to new holds only; release uses the fee stored on the
	// escrow transaction.
	FeeRate decimal.Decimal
	Logger  *slog.Logger
}

// NewEscrowService returns an EscrowService using the default currency and
// fee rate.
func NewEscrowService(pool db.TxBeginner, wallets WalletStore, entries EntryStore, escrows EscrowStore, notifier NotificationEnqueuer, logger *slog.Logger) *EscrowService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscrowService{
		DB:       pool,
		Wallets:  wallets,
		Entries:  entries,
		Escrows:  escrows,
		Notifier: notifier,
		Currency: money.DefaultCurrency,
		FeeRate:  money.DefaultPlatformFeeRate,
		Logger:   logger,
	}
}

// HoldFunds debits the payer and records the amount as held for the task.
func (s *EscrowService) HoldFunds(ctx context.Context, req HoldRequest) (*HoldResult, error) {
	if req.TaskID == uuid.Nil {
		return nil, ErrInvalidTask
	}
	if err := money.Validate(req.Amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if req.PayerID == req.PayeeID {
		return nil, ErrSamePayerPayee
	}

	fee := money.PlatformFee(req.Amount, s.FeeRate)
	reference := newEscrowReference(req.TaskID)
	log := s.Logger.With("task_id", req.TaskID, "reference", reference)

	err := db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		payer, err := s.Wallets.GetByUserForUpdate(ctx, tx, req.PayerID, s.Currency)
		if errors.Is(err, repository.ErrNotFound) {
			return &InsufficientBalanceError{Required: req.Amount, Current: decimal.Zero, Currency: s.Currency}
		}
		if err != nil {
			return fmt.Errorf("lock payer wallet: %w", err)
		}
		if payer.Status != models.WalletStatusActive {
			return ErrWalletInactive
		}
		if payer.Balance.LessThan(req.Amount) {
			return &InsufficientBalanceError{Required: req.Amount, Current: payer.Balance, Currency: s.Currency}
		}

		if _, err := post(ctx, tx, s.Wallets, s.Entries, posting{
			wallet:      payer,
			entryType:   models.EntryTypeDebit,
			category:    models.CategoryEscrowHold,
			amount:      req.Amount,
			reference:   reference + "-HOLD",
			description: fmt.Sprintf("Funds held for task %q", req.TaskTitle),
			taskID:      &req.TaskID,
		}); err != nil {
			return err
		}

		escrow := &models.EscrowTransaction{
			ID:          uuid.New(),
			TaskID:      req.TaskID,
			TaskTitle:   req.TaskTitle,
			Reference:   reference,
			PayerID:     req.PayerID,
			PayeeID:     req.PayeeID,
			Amount:      req.Amount,
			PlatformFee: fee,
			FeeRate:     s.FeeRate,
			Currency:    s.Currency,
			Status:      models.EscrowStatusHeld,
		}
		if err := s.Escrows.CreateTx(ctx, tx, escrow); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return ErrEscrowAlreadyHeld
			}
			return fmt.Errorf("create escrow transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(log, "hold funds failed", err)
	}
	log.Info("funds held", "payer_id", req.PayerID, "amount", req.Amount.StringFixed(money.Scale), "platform_fee", fee.StringFixed(money.Scale))

	s.notify(ctx, models.Notification{
		UserID:    req.PayerID,
		Message:   fmt.Sprintf("%s has been held for task %q.", money.Format(req.Amount, s.Currency), req.TaskTitle),
		Source:    models.NotificationSourceEscrow,
		Important: true,
	})
	return &HoldResult{Status: "success", Reference: reference, PlatformFee: fee}, nil
}

// ReleaseFunds pays the held amount out to the payee minus the platform fee
// recorded at hold time. A second release for the same task fails with
// ErrMissingHeldTransaction.
func (s *EscrowService) ReleaseFunds(ctx context.Context, req ReleaseRequest) (*ReleaseResult, error) {
	if req.TaskID == uuid.Nil {
		return nil, ErrInvalidTask
	}
	log := s.Logger.With("task_id", req.TaskID)

	var (
		escrow      *models.EscrowTransaction
		payout, fee decimal.Decimal
	)
	err := db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		var err error
		escrow, err = s.lockHeld(ctx, tx, req.TaskID)
		if err != nil {
			return err
		}
		if err := matchesHeld(escrow, req); err != nil {
			return err
		}

		payeeWalletID, err := s.Wallets.EnsureUserWallet(ctx, tx, escrow.PayeeID, escrow.Currency)
		if err != nil {
			return fmt.Errorf("ensure payee wallet: %w", err)
		}
		platformWalletID, err := s.Wallets.EnsurePlatformWallet(ctx, tx, escrow.Currency)
		if err != nil {
			return fmt.Errorf("ensure platform wallet: %w", err)
		}
		locked, err := lockWallets(ctx, tx, s.Wallets, payeeWalletID, platformWalletID)
		if err != nil {
			return err
		}
		payee := locked[payeeWalletID]
		if payee.Status == models.WalletStatusClosed {
			return ErrWalletInactive
		}

		payout, fee = money.Split(escrow.Amount, escrow.PlatformFee)
		if payout.IsPositive() {
			if _, err := post(ctx, tx, s.Wallets, s.Entries, posting{
				wallet:      payee,
				entryType:   models.EntryTypeCredit,
				category:    models.CategoryEscrowRelease,
				amount:      payout,
				reference:   escrow.Reference + "-PAY",
				description: fmt.Sprintf("Payment received for task %q", escrow.TaskTitle),
				taskID:      &escrow.TaskID,
			}); err != nil {
				return err
			}
		}
		if fee.IsPositive() {
			if _, err := post(ctx, tx, s.Wallets, s.Entries, posting{
				wallet:      locked[platformWalletID],
				entryType:   models.EntryTypeCredit,
				category:    models.CategoryPlatformFee,
				amount:      fee,
				reference:   escrow.Reference + "-FEE",
				description: fmt.Sprintf("Platform fee for task %q", escrow.TaskTitle),
				taskID:      &escrow.TaskID,
			}); err != nil {
				return err
			}
		}

		settledAt, err := s.Escrows.SettleTx(ctx, tx, escrow.ID, models.EscrowStatusReleased)
		if err != nil {
			return fmt.Errorf("mark escrow released: %w", err)
		}
		escrow.Status = models.EscrowStatusReleased
		escrow.SettledAt = &settledAt
		return nil
	})
	if err != nil {
		return nil, s.fail(log, "release funds failed", err)
	}
	log.Info("funds released", "reference", escrow.Reference, "payee_id", escrow.PayeeID,
		"doer_pay", payout.StringFixed(money.Scale), "platform_fee", fee.StringFixed(money.Scale))

	payer := escrow.PayerID
	s.notify(ctx, models.Notification{
		UserID:    escrow.PayeeID,
		Message:   fmt.Sprintf("You have received %s for task %q.", money.Format(payout, escrow.Currency), escrow.TaskTitle),
		Source:    models.NotificationSourceEscrow,
		Important: true,
		SenderID:  &payer,
	})
	return &ReleaseResult{Status: "success", Reference: escrow.Reference, DoerPay: payout, PlatformFee: fee}, nil
}

// RefundFunds returns the full held amount to the payer, e.g. when the task
// is cancelled after a bid was accepted. No fee is charged.
func (s *EscrowService) RefundFunds(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.TaskID == uuid.Nil {
		return nil, ErrInvalidTask
	}
	log := s.Logger.With("task_id", req.TaskID)

	var escrow *models.EscrowTransaction
	err := db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		var err error
		escrow, err = s.lockHeld(ctx, tx, req.TaskID)
		if err != nil {
			return err
		}
		payerWalletID, err := s.Wallets.EnsureUserWallet(ctx, tx, escrow.PayerID, escrow.Currency)
		if err != nil {
			return fmt.Errorf("ensure payer wallet: %w", err)
		}
		locked, err := lockWallets(ctx, tx, s.Wallets, payerWalletID)
		if err != nil {
			return err
		}
		if locked[payerWalletID].Status == models.WalletStatusClosed {
			return ErrWalletInactive
		}
		description := fmt.Sprintf("Refund for task %q", escrow.TaskTitle)
		if req.Reason != "" {
			description += ": " + req.Reason
		}
		if _, err := post(ctx, tx, s.Wallets, s.Entries, posting{
			wallet:      locked[payerWalletID],
			entryType:   models.EntryTypeCredit,
			category:    models.CategoryEscrowRefund,
			amount:      escrow.Amount,
			reference:   escrow.Reference + "-REF",
			description: description,
			taskID:      &escrow.TaskID,
		}); err != nil {
			return err
		}
		settledAt, err := s.Escrows.SettleTx(ctx, tx, escrow.ID, models.EscrowStatusRefunded)
		if err != nil {
			return fmt.Errorf("mark escrow refunded: %w", err)
		}
		escrow.Status = models.EscrowStatusRefunded
		escrow.SettledAt = &settledAt
		return nil
	})
	if err != nil {
		return nil, s.fail(log, "refund funds failed", err)
	}
	log.Info("funds refunded", "reference", escrow.Reference, "payer_id", escrow.PayerID,
		"amount", escrow.Amount.StringFixed(money.Scale))

	s.notify(ctx, models.Notification{
		UserID:    escrow.PayerID,
		Message:   fmt.Sprintf("%s held for task %q has been returned to your wallet.", money.Format(escrow.Amount, escrow.Currency), escrow.TaskTitle),
		Source:    models.NotificationSourceEscrow,
		Important: true,
	})
	return &RefundResult{Status: "success", Reference: escrow.Reference, Refunded: escrow.Amount}, nil
}

// GetByTask returns the task's escrow history, newest first.
func (s *EscrowService) GetByTask(ctx context.Context, taskID uuid.UUID) ([]*models.EscrowTransaction, error) {
	if taskID == uuid.Nil {
		return nil, ErrInvalidTask
	}
	return s.Escrows.ListByTask(ctx, taskID)
}

// GetByReference looks up one escrow by the reference returned from HoldFunds.
func (s *EscrowService) GetByReference(ctx context.Context, reference string) (*models.EscrowTransaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrEscrowNotFound
	}
	escrow, err := s.Escrows.GetByReference(ctx, reference)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrEscrowNotFound
	}
	return escrow, err
}

func (s *EscrowService) lockHeld(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (*models.EscrowTransaction, error) {
	escrow, err := s.Escrows.GetHeldByTaskForUpdate(ctx, tx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrMissingHeldTransaction
	}
	if err != nil {
		return nil, fmt.Errorf("lock held escrow: %w", err)
	}
	return escrow, nil
}

func matchesHeld(escrow *models.EscrowTransaction, req ReleaseRequest) error {
	if req.PayerID != uuid.Nil && req.PayerID != escrow.PayerID {
		return fmt.Errorf("%w: payer", ErrEscrowMismatch)
	}
	if req.PayeeID != uuid.Nil && req.PayeeID != escrow.PayeeID {
		return fmt.Errorf("%w: payee", ErrEscrowMismatch)
	}
	if !req.Amount.IsZero() && !req.Amount.Equal(escrow.Amount) {
		return fmt.Errorf("%w: amount %s, held %s", ErrEscrowMismatch,
			req.Amount.StringFixed(money.Scale), escrow.Amount.StringFixed(money.Scale))
	}
	return nil
}

// fail logs err and classifies storage failures. Business rejections are
// logged at info level since the caller is expected to handle them.
func (s *EscrowService) fail(log *slog.Logger, msg string, err error) error {
	var insufficient *InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		log.Info(msg, "required", insufficient.Required.StringFixed(money.Scale), "current", insufficient.Current.StringFixed(money.Scale))
		return err
	case errors.Is(err, ErrMissingHeldTransaction), errors.Is(err, ErrEscrowAlreadyHeld),
		errors.Is(err, ErrEscrowMismatch), errors.Is(err, ErrWalletInactive):
		log.Warn(msg, "error", err)
		return err
	}
	err = db.Classify(err)
	log.Error(msg, "error", err, "retryable", IsRetryable(err))
	return err
}

// notify enqueues n detached from the request context so a client
// disconnecting right after commit does not drop the notification. Failures
// are logged only.
func (s *EscrowService) notify(ctx context.Context, n models.Notification) {
	enqueue(ctx, s.Notifier, s.Logger, n)
}

func enqueue(ctx context.Context, notifier NotificationEnqueuer, log *slog.Logger, n models.Notification) {
	if notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if err := notifier.Enqueue(ctx, n); err != nil {
		log.Warn("enqueue notification failed", "user_id", n.UserID, "source", n.Source, "error", err)
	}
}

// newEscrowReference derives a unique reference from the task id and a
// random suffix, e.g. ESC-1F0C2A9B-7D41E3.
func newEscrowReference(taskID uuid.UUID) string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	prefix := strings.ReplaceAll(taskID.String(), "-", "")[:8]
	return "ESC-" + strings.ToUpper(prefix) + "-" + strings.ToUpper(hex.EncodeToString(b[:]))
}
