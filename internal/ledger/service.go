// Package ledger is the platform float ledger: the running balance of cash
// the platform holds at payment gateways, kept apart from user wallets.
package ledger

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
	"github.com/gigledger/backend/internal/models"
	"github.com/gigledger/backend/internal/money"
)

var (
	ErrInvalidDirection   = errors.New("direction must be 'in' or 'out'")
	ErrInvalidActor       = errors.New("source and destination must be one of bank, mpesa, user, float")
	ErrDuplicateReference = errors.New("float entry reference already recorded")
)

// Record is one gateway movement to append to the float ledger.
type Record struct {
	Reference   string          `json:"reference"`
	Direction   string          `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Purpose     string          `json:"purpose"`
	Status      string          `json:"status"`
	Currency    string          `json:"currency"`
}

// Mismatch is an entry whose stored running balance disagrees with the
// replayed sum of the entries before it.
type Mismatch struct {
	Seq       int64           `json:"seq"`
	Reference string          `json:"reference"`
	Stored    decimal.Decimal `json:"stored"`
	Expected  decimal.Decimal `json:"expected"`
}

type VerifyReport struct {
	Currency   string          `json:"currency"`
	Entries    int64           `json:"entries"`
	Balance    decimal.Decimal `json:"balance"`
	Expected   decimal.Decimal `json:"expected"`
	Mismatches []Mismatch      `json:"mismatches"`
}

// Consistent reports whether every stored running balance replayed cleanly.
func (r *VerifyReport) Consistent() bool {
	return len(r.Mismatches) == 0 && r.Balance.Equal(r.Expected)
}

type Service interface {
	Record(ctx context.Context, rec Record) (*models.FloatEntry, error)
	RecordTx(ctx context.Context, tx pgx.Tx, rec Record) (*models.FloatEntry, error)
	List(ctx context.Context, currency string, limit int, beforeSeq int64) ([]*models.FloatEntry, error)
	Balance(ctx context.Context, currency string) (decimal.Decimal, error)
	Verify(ctx context.Context, currency string) (*VerifyReport, error)
}

// Store is the persistence the float ledger needs; *Repository implements it.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockCurrency(ctx context.Context, tx pgx.Tx, currency string) error
	LastBalance(ctx context.Context, tx pgx.Tx, currency string) (decimal.Decimal, error)
	Insert(ctx context.Context, tx pgx.Tx, e *models.FloatEntry) error
	List(ctx context.Context, currency string, limit int, beforeSeq int64) ([]*models.FloatEntry, error)
	Replay(ctx context.Context, currency string, fn func(*models.FloatEntry) error) error
}

var _ Store = (*Repository)(nil)

type service struct {
	store    Store
	currency string
	log      *slog.Logger
}

// NewService returns the float ledger. currency is used for records that do
// not name one.
func NewService(store Store, currency string, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, currency: currency, log: log}
}

var _ Service = (*service)(nil)

func (s *service) Record(ctx context.Context, rec Record) (*models.FloatEntry, error) {
	var entry *models.FloatEntry
	err := db.WithTx(ctx, s.store, func(tx pgx.Tx) error {
		var err error
		entry, err = s.RecordTx(ctx, tx, rec)
		return err
	})
	if err != nil {
		if rejected(err) {
			s.log.Warn("float record rejected", "reference", rec.Reference, "error", err)
		} else {
			s.log.Error("float record failed", "reference", rec.Reference, "error", err)
		}
		return nil, err
	}
	s.log.Info("float entry recorded",
		"reference", entry.Reference, "direction", entry.Direction,
		"amount", entry.Amount.StringFixed(money.Scale), "balance", entry.Balance.StringFixed(money.Scale))
	return entry, nil
}

// RecordTx appends inside the caller's transaction. The advisory lock is
// held until that transaction ends.
func (s *service) RecordTx(ctx context.Context, tx pgx.Tx, rec Record) (*models.FloatEntry, error) {
	entry, err := s.newEntry(rec)
	if err != nil {
		return nil, err
	}
	if err := s.store.LockCurrency(ctx, tx, entry.Currency); err != nil {
		return nil, db.Classify(fmt.Errorf("lock float ledger: %w", err))
	}
	prev, err := s.store.LastBalance(ctx, tx, entry.Currency)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("read float balance: %w", err))
	}
	entry.Balance = prev.Add(entry.Signed())
	if entry.Balance.IsNegative() {
		s.log.Warn("float balance negative", "reference", entry.Reference, "balance", entry.Balance.StringFixed(money.Scale))
	}
	if err := s.store.Insert(ctx, tx, entry); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return nil, err
		}
		return nil, db.Classify(fmt.Errorf("insert float entry: %w", err))
	}
	return entry, nil
}

// rejected reports errors caused by the caller's record rather than storage.
func rejected(err error) bool {
	return errors.Is(err, ErrInvalidDirection) || errors.Is(err, ErrInvalidActor) ||
		errors.Is(err, ErrDuplicateReference) || errors.Is(err, money.ErrNonPositive) ||
		errors.Is(err, money.ErrTooPrecise) || errors.Is(err, money.ErrTooLarge) ||
		errors.Is(err, money.ErrBadCurrency)
}

func (s *service) newEntry(rec Record) (*models.FloatEntry, error) {
	if rec.Direction != models.DirectionIn && rec.Direction != models.DirectionOut {
		return nil, ErrInvalidDirection
	}
	if err := money.Validate(rec.Amount); err != nil {
		return nil, err
	}
	if !models.ValidActor(rec.Source) || !models.ValidActor(rec.Destination) {
		return nil, ErrInvalidActor
	}
	currency := rec.Currency
	if currency == "" {
		currency = s.currency
	}
	currency, err := money.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	status := strings.TrimSpace(rec.Status)
	if status == "" {
		status = models.FloatStatusCompleted
	}
	reference := strings.TrimSpace(rec.Reference)
	if reference == "" {
		reference = "FLT-" + strings.ToUpper(uuid.NewString())
	}
	return &models.FloatEntry{
		ID:          uuid.New(),
		Reference:   reference,
		Direction:   rec.Direction,
		Amount:      rec.Amount,
		Currency:    currency,
		Source:      rec.Source,
		Destination: rec.Destination,
		Purpose:     rec.Purpose,
		Status:      status,
	}, nil
}

func (s *service) List(ctx context.Context, currency string, limit int, beforeSeq int64) ([]*models.FloatEntry, error) {
	if currency == "" {
		currency = s.currency
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.List(ctx, currency, limit, beforeSeq)
}

func (s *service) Balance(ctx context.Context, currency string) (decimal.Decimal, error) {
	list, err := s.List(ctx, currency, 1, 0)
	if err != nil {
		return decimal.Zero, err
	}
	if len(list) == 0 {
		return decimal.Zero, nil
	}
	return list[0].Balance, nil
}

// Verify replays the ledger from its first entry and reports every running
// balance that does not equal the algebraic sum of the amounts before it.
func (s *service) Verify(ctx context.Context, currency string) (*VerifyReport, error) {
	if currency == "" {
		currency = s.currency
	}
	report := &VerifyReport{Currency: currency, Balance: decimal.Zero, Expected: decimal.Zero}
	err := s.store.Replay(ctx, currency, func(e *models.FloatEntry) error {
		report.Entries++
		report.Expected = report.Expected.Add(e.Signed())
		report.Balance = e.Balance
		if !e.Balance.Equal(report.Expected) {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Seq: e.Seq, Reference: e.Reference, Stored: e.Balance, Expected: report.Expected,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay float ledger: %w", err)
	}
	return report, nil
}
