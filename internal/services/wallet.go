package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gigledger/backend/internal/db"
	"github.com/gigledger/backend/internal/ledger"
	"github.com/gigledger/backend/internal/models"
	"github.com/gigledger/backend/internal/money"
	"github.com/gigledger/backend/internal/repository"
)

// WalletReader serves balance lookups and status changes outside transfers.
type WalletReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.WalletAccount, error)
	GetByUser(ctx context.Context, userID uuid.UUID, currency string) (*models.WalletAccount, error)
	GetPlatform(ctx context.Context, currency string) (*models.WalletAccount, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
}

// EntryReader reads a wallet's transaction history.
type EntryReader interface {
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit int, beforeSeq int64) ([]*models.WalletLedgerEntry, error)
	LastForWallet(ctx context.Context, walletID uuid.UUID) (*models.WalletLedgerEntry, error)
	SumForWallet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, int64, error)
}

// FloatRecorder appends to the float ledger inside a caller transaction.
type FloatRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, rec ledger.Record) (*models.FloatEntry, error)
}

type TopUpRequest struct {
	UserID            uuid.UUID       `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	ExternalReference string          `json:"external_reference"`
	Source            string          `json:"source"`
}

type PayoutRequest struct {
	UserID            uuid.UUID       `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	ExternalReference string          `json:"external_reference"`
	Destination       string          `json:"destination"`
}

// MovementResult is returned by TopUp and Payout.
type MovementResult struct {
	Entry *models.WalletLedgerEntry `json:"entry"`
	Float *models.FloatEntry        `json:"float"`
}

type Statement struct {
	Wallet  *models.WalletAccount       `json:"wallet"`
	Entries []*models.WalletLedgerEntry `json:"entries"`
}

// AuditReport compares a wallet's balance with its ledger. A wallet is
// consistent when the balance equals both the last entry's balance_after
// and the algebraic sum of every entry.
type AuditReport struct {
	WalletID         uuid.UUID       `json:"wallet_id"`
	Balance          decimal.Decimal `json:"balance"`
	LastEntryBalance decimal.Decimal `json:"last_entry_balance"`
	LedgerSum        decimal.Decimal `json:"ledger_sum"`
	Entries          int64           `json:"entries"`
	Consistent       bool            `json:"consistent"`
}

// WalletService handles money entering and leaving the platform through
// payment gateways, plus statements and audits of individual wallets.
type WalletService struct {
	DB       db.TxBeginner
	Wallets  WalletStore
	Reader   WalletReader
	Entries  EntryStore
	History  EntryReader
	Float    FloatRecorder
	Notifier NotificationEnqueuer
	Currency string
	Logger   *slog.Logger
}

func NewWalletService(pool db.TxBeginner, wallets *repository.WalletRepo, entries *repository.WalletLedgerRepo, float FloatRecorder, notifier NotificationEnqueuer, logger *slog.Logger) *WalletService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletService{
		DB:       pool,
		Wallets:  wallets,
		Reader:   wallets,
		Entries:  entries,
		History:  entries,
		Float:    float,
		Notifier: notifier,
		Currency: money.DefaultCurrency,
		Logger:   logger,
	}
}

// TopUp credits a user's wallet with money received at a gateway and
// records the same amount entering the platform float.
func (s *WalletService) TopUp(ctx context.Context, req TopUpRequest) (*MovementResult, error) {
	if err := s.validateMovement(req.UserID, req.Amount, req.Source); err != nil {
		return nil, err
	}
	reference := movementReference("TOP", req.ExternalReference)
	log := s.Logger.With("user_id", req.UserID, "reference", reference)

	res := &MovementResult{}
	err := db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		walletID, err := s.Wallets.EnsureUserWallet(ctx, tx, req.UserID, s.Currency)
		if err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}
		wallet, err := s.Wallets.GetByIDForUpdate(ctx, tx, walletID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		if wallet.Status == models.WalletStatusClosed {
			return ErrWalletInactive
		}
		res.Entry, err = post(ctx, tx, s.Wallets, s.Entries, posting{
			wallet:      wallet,
			entryType:   models.EntryTypeCredit,
			category:    models.CategoryTopUp,
			amount:      req.Amount,
			reference:   reference,
			description: fmt.Sprintf("Top-up via %s", req.Source),
			externalRef: optional(req.ExternalReference),
		})
		if err != nil {
			return err
		}
		res.Float, err = s.Float.RecordTx(ctx, tx, ledger.Record{
			Reference:   reference,
			Direction:   models.DirectionIn,
			Amount:      req.Amount,
			Source:      req.Source,
			Destination: models.ActorFloat,
			Purpose:     models.CategoryTopUp,
			Currency:    s.Currency,
		})
		return err
	})
	if err != nil {
		return nil, s.fail(log, "top-up failed", err)
	}
	log.Info("wallet topped up", "amount", req.Amount.StringFixed(money.Scale), "balance", res.Entry.BalanceAfter.StringFixed(money.Scale))

	enqueue(ctx, s.Notifier, s.Logger, models.Notification{
		UserID:  req.UserID,
		Message: fmt.Sprintf("Your wallet was topped up with %s. New balance: %s.", money.Format(req.Amount, s.Currency), money.Format(res.Entry.BalanceAfter, s.Currency)),
		Source:  models.NotificationSourceWallet,
	})
	return res, nil
}

// Payout debits a user's wallet for a withdrawal and records the amount
// leaving the platform float. The gateway call itself happens after this
// returns, outside any transaction.
func (s *WalletService) Payout(ctx context.Context, req PayoutRequest) (*MovementResult, error) {
	if err := s.validateMovement(req.UserID, req.Amount, req.Destination); err != nil {
		return nil, err
	}
	reference := movementReference("PAY", req.ExternalReference)
	log := s.Logger.With("user_id", req.UserID, "reference", reference)

	res := &MovementResult{}
	err := db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		wallet, err := s.Wallets.GetByUserForUpdate(ctx, tx, req.UserID, s.Currency)
		if errors.Is(err, repository.ErrNotFound) {
			return &InsufficientBalanceError{Required: req.Amount, Current: decimal.Zero, Currency: s.Currency}
		}
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		if wallet.Status != models.WalletStatusActive {
			return ErrWalletInactive
		}
		if wallet.Balance.LessThan(req.Amount) {
			return &InsufficientBalanceError{Required: req.Amount, Current: wallet.Balance, Currency: s.Currency}
		}
		res.Entry, err = post(ctx, tx, s.Wallets, s.Entries, posting{
			wallet:      wallet,
			entryType:   models.EntryTypeDebit,
			category:    models.CategoryPayout,
			amount:      req.Amount,
			reference:   reference,
			description: fmt.Sprintf("Withdrawal to %s", req.Destination),
			externalRef: optional(req.ExternalReference),
		})
		if err != nil {
			return err
		}
		res.Float, err = s.Float.RecordTx(ctx, tx, ledger.Record{
			Reference:   reference,
			Direction:   models.DirectionOut,
			Amount:      req.Amount,
			Source:      models.ActorFloat,
			Destination: req.Destination,
			Purpose:     models.CategoryPayout,
			Currency:    s.Currency,
		})
		return err
	})
	if err != nil {
		return nil, s.fail(log, "payout failed", err)
	}
	log.Info("wallet paid out", "amount", req.Amount.StringFixed(money.Scale), "balance", res.Entry.BalanceAfter.StringFixed(money.Scale))

	enqueue(ctx, s.Notifier, s.Logger, models.Notification{
		UserID:  req.UserID,
		Message: fmt.Sprintf("%s is on its way to your %s account.", money.Format(req.Amount, s.Currency), req.Destination),
		Source:  models.NotificationSourceWallet,
	})
	return res, nil
}

// Balance returns the user's wallet. Users who never transacted have none.
func (s *WalletService) Balance(ctx context.Context, userID uuid.UUID) (*models.WalletAccount, error) {
	w, err := s.Reader.GetByUser(ctx, userID, s.Currency)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrWalletNotFound
	}
	return w, err
}

// Statement returns up to limit entries older than beforeSeq (0 = newest).
func (s *WalletService) Statement(ctx context.Context, userID uuid.UUID, limit int, beforeSeq int64) (*Statement, error) {
	w, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.History.ListByWallet(ctx, w.ID, limit, beforeSeq)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return &Statement{Wallet: w, Entries: entries}, nil
}

// Audit checks that walletID's balance is reconstructible from its ledger.
func (s *WalletService) Audit(ctx context.Context, walletID uuid.UUID) (*AuditReport, error) {
	w, err := s.Reader.GetByID(ctx, walletID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	report := &AuditReport{WalletID: w.ID, Balance: w.Balance, LastEntryBalance: decimal.Zero}
	last, err := s.History.LastForWallet(ctx, w.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("read last entry: %w", err)
	default:
		report.LastEntryBalance = last.BalanceAfter
	}
	report.LedgerSum, report.Entries, err = s.History.SumForWallet(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("sum ledger: %w", err)
	}
	report.Consistent = w.Balance.Equal(report.LastEntryBalance) && w.Balance.Equal(report.LedgerSum)
	if !report.Consistent {
		s.Logger.Error("wallet ledger mismatch", "wallet_id", w.ID,
			"balance", w.Balance.StringFixed(money.Scale),
			"last_entry_balance", report.LastEntryBalance.StringFixed(money.Scale),
			"ledger_sum", report.LedgerSum.StringFixed(money.Scale))
	}
	return report, nil
}

// AuditUser audits the wallet owned by userID.
func (s *WalletService) AuditUser(ctx context.Context, userID uuid.UUID) (*AuditReport, error) {
	w, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Audit(ctx, w.ID)
}

// AuditPlatform audits the platform wallet, if fees have been collected.
func (s *WalletService) AuditPlatform(ctx context.Context) (*AuditReport, error) {
	w, err := s.Reader.GetPlatform(ctx, s.Currency)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Audit(ctx, w.ID)
}

// SetStatus suspends, closes or reactivates a user's wallet.
func (s *WalletService) SetStatus(ctx context.Context, userID uuid.UUID, status string) (*models.WalletAccount, error) {
	if !models.ValidWalletStatus(status) {
		return nil, ErrInvalidStatus
	}
	var wallet *models.WalletAccount
	err := db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		var err error
		wallet, err = s.Wallets.GetByUserForUpdate(ctx, tx, userID, s.Currency)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrWalletNotFound
		}
		if err != nil {
			return err
		}
		if err := s.Reader.SetStatus(ctx, tx, wallet.ID, status); err != nil {
			return err
		}
		wallet.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("wallet status changed", "user_id", userID, "wallet_id", wallet.ID, "status", status)
	return wallet, nil
}

func (s *WalletService) validateMovement(userID uuid.UUID, amount decimal.Decimal, gateway string) error {
	if userID == uuid.Nil {
		return ErrWalletNotFound
	}
	if err := money.Validate(amount); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if gateway != models.ActorBank && gateway != models.ActorMpesa {
		return ErrInvalidGateway
	}
	return nil
}

func (s *WalletService) fail(log *slog.Logger, msg string, err error) error {
	var insufficient *InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		log.Info(msg, "required", insufficient.Required.StringFixed(money.Scale), "current", insufficient.Current.StringFixed(money.Scale))
		return err
	case errors.Is(err, repository.ErrAlreadyExists), errors.Is(err, ledger.ErrDuplicateReference):
		log.Warn(msg, "error", err)
		return ErrDuplicateExternalRef
	case errors.Is(err, ErrWalletInactive):
		log.Warn(msg, "error", err)
		return err
	}
	err = db.Classify(err)
	log.Error(msg, "error", err, "retryable", IsRetryable(err))
	return err
}

// movementReference keys gateway movements by the gateway's receipt so a
// replayed callback hits the unique reference instead of crediting twice.
func movementReference(prefix, external string) string {
	external = strings.ToUpper(strings.TrimSpace(external))
	if external == "" {
		return prefix + "-" + strings.ToUpper(uuid.NewString())
	}
	return prefix + "-" + external
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
