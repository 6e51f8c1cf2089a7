package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/gigledger/backend/internal/ledger"
	"github.com/gigledger/backend/internal/models"
	"github.com/gigledger/backend/internal/repository"
	"github.com/gigledger/backend/internal/testutil"
)

// memDB keeps wallets, both ledgers and escrow rows in memory. Every write
// happens while the embedded TxBeginner is held, and a rollback restores the
// state captured at Begin.
type memDB struct {
	*testutil.TxBeginner

	wallets map[uuid.UUID]models.WalletAccount
	entries []*models.WalletLedgerEntry
	escrows []models.EscrowTransaction
	floats  []*models.FloatEntry

	// entryErr fails the nth CreateTx call (1-based) when set.
	entryErr   error
	entryFailN int
	entryCalls int
}

func newMemDB() *memDB {
	m := &memDB{wallets: map[uuid.UUID]models.WalletAccount{}}
	m.TxBeginner = &testutil.TxBeginner{Snapshot: m.snapshot}
	return m
}

func (m *memDB) snapshot() func() {
	wallets := make(map[uuid.UUID]models.WalletAccount, len(m.wallets))
	for k, v := range m.wallets {
		wallets[k] = v
	}
	escrows := append([]models.EscrowTransaction(nil), m.escrows...)
	nEntries, nFloats := len(m.entries), len(m.floats)
	return func() {
		m.wallets = wallets
		m.escrows = escrows
		m.entries = m.entries[:nEntries]
		m.floats = m.floats[:nFloats]
	}
}

// seed creates an active user wallet holding balance, outside any tx.
func (m *memDB) seed(userID uuid.UUID, balance string) uuid.UUID {
	id := uuid.New()
	uid := userID
	m.wallets[id] = models.WalletAccount{
		ID: id, UserID: &uid, Balance: decimal.RequireFromString(balance),
		Currency: "KES", Status: models.WalletStatusActive,
	}
	return id
}

func (m *memDB) balanceOf(userID uuid.UUID) decimal.Decimal {
	for _, w := range m.wallets {
		if w.UserID != nil && *w.UserID == userID {
			return w.Balance
		}
	}
	return decimal.Zero
}

func (m *memDB) platformBalance() decimal.Decimal {
	for _, w := range m.wallets {
		if w.UserID == nil {
			return w.Balance
		}
	}
	return decimal.Zero
}

// total is every wallet balance plus the funds still held in escrow.
func (m *memDB) total() decimal.Decimal {
	sum := decimal.Zero
	for _, w := range m.wallets {
		sum = sum.Add(w.Balance)
	}
	for _, e := range m.escrows {
		if e.Status == models.EscrowStatusHeld {
			sum = sum.Add(e.Amount)
		}
	}
	return sum
}

func (m *memDB) entriesFor(userID uuid.UUID) []*models.WalletLedgerEntry {
	var out []*models.WalletLedgerEntry
	for _, e := range m.entries {
		w := m.wallets[e.WalletID]
		if w.UserID != nil && *w.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// WalletStore / WalletReader

func (m *memDB) find(userID *uuid.UUID, currency string) (models.WalletAccount, bool) {
	for _, w := range m.wallets {
		if w.Currency != currency {
			continue
		}
		if userID == nil && w.UserID == nil {
			return w, true
		}
		if userID != nil && w.UserID != nil && *w.UserID == *userID {
			return w, true
		}
	}
	return models.WalletAccount{}, false
}

func (m *memDB) ensure(userID *uuid.UUID, currency string) uuid.UUID {
	if w, ok := m.find(userID, currency); ok {
		return w.ID
	}
	id := uuid.New()
	m.wallets[id] = models.WalletAccount{ID: id, UserID: userID, Balance: decimal.Zero, Currency: currency, Status: models.WalletStatusActive}
	return id
}

func (m *memDB) EnsureUserWallet(_ context.Context, _ pgx.Tx, userID uuid.UUID, currency string) (uuid.UUID, error) {
	return m.ensure(&userID, currency), nil
}

func (m *memDB) EnsurePlatformWallet(_ context.Context, _ pgx.Tx, currency string) (uuid.UUID, error) {
	return m.ensure(nil, currency), nil
}

func (m *memDB) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.WalletAccount, error) {
	return m.GetByID(ctx, id)
}

func (m *memDB) GetByUserForUpdate(ctx context.Context, _ pgx.Tx, userID uuid.UUID, currency string) (*models.WalletAccount, error) {
	return m.GetByUser(ctx, userID, currency)
}

func (m *memDB) GetByID(_ context.Context, id uuid.UUID) (*models.WalletAccount, error) {
	w, ok := m.wallets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

func (m *memDB) GetByUser(_ context.Context, userID uuid.UUID, currency string) (*models.WalletAccount, error) {
	w, ok := m.find(&userID, currency)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

func (m *memDB) GetPlatform(_ context.Context, currency string) (*models.WalletAccount, error) {
	w, ok := m.find(nil, currency)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

func (m *memDB) ApplyDelta(_ context.Context, _ pgx.Tx, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	w, ok := m.wallets[id]
	if !ok {
		return decimal.Zero, repository.ErrNotFound
	}
	next := w.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, &pgconn.PgError{Code: "23514", ConstraintName: "wallet_accounts_balance_check"}
	}
	w.Balance = next
	m.wallets[id] = w
	return next, nil
}

func (m *memDB) SetStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status string) error {
	w, ok := m.wallets[id]
	if !ok {
		return repository.ErrNotFound
	}
	w.Status = status
	m.wallets[id] = w
	return nil
}

// EntryStore / EntryReader

func (m *memDB) CreateTx(_ context.Context, _ pgx.Tx, e *models.WalletLedgerEntry) error {
	m.entryCalls++
	if m.entryErr != nil && m.entryCalls == m.entryFailN {
		return m.entryErr
	}
	for _, x := range m.entries {
		if x.Reference == e.Reference {
			return repository.ErrAlreadyExists
		}
	}
	e.Seq = int64(len(m.entries) + 1)
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memDB) ListByWallet(_ context.Context, walletID uuid.UUID, limit int, beforeSeq int64) ([]*models.WalletLedgerEntry, error) {
	var out []*models.WalletLedgerEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if e.WalletID == walletID && (beforeSeq == 0 || e.Seq < beforeSeq) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memDB) LastForWallet(ctx context.Context, walletID uuid.UUID) (*models.WalletLedgerEntry, error) {
	list, _ := m.ListByWallet(ctx, walletID, 1, 0)
	if len(list) == 0 {
		return nil, repository.ErrNotFound
	}
	return list[0], nil
}

func (m *memDB) SumForWallet(_ context.Context, walletID uuid.UUID) (decimal.Decimal, int64, error) {
	sum, n := decimal.Zero, int64(0)
	for _, e := range m.entries {
		if e.WalletID == walletID {
			sum = sum.Add(e.Signed())
			n++
		}
	}
	return sum, n, nil
}

// escrowDB adapts memDB to EscrowStore; CreateTx would otherwise clash with
// the wallet ledger method.
type escrowDB struct{ *memDB }

func (m escrowDB) CreateTx(_ context.Context, _ pgx.Tx, e *models.EscrowTransaction) error {
	for _, x := range m.escrows {
		if x.TaskID == e.TaskID && x.Status == models.EscrowStatusHeld {
			return repository.ErrAlreadyExists
		}
	}
	e.CreatedAt = time.Now()
	m.escrows = append(m.escrows, *e)
	return nil
}

func (m escrowDB) GetHeldByTaskForUpdate(_ context.Context, _ pgx.Tx, taskID uuid.UUID) (*models.EscrowTransaction, error) {
	for _, x := range m.escrows {
		if x.TaskID == taskID && x.Status == models.EscrowStatusHeld {
			return &x, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m escrowDB) SettleTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status string) (time.Time, error) {
	for i := range m.escrows {
		if m.escrows[i].ID == id && m.escrows[i].Status == models.EscrowStatusHeld {
			now := time.Now()
			m.escrows[i].Status = status
			m.escrows[i].SettledAt = &now
			return now, nil
		}
	}
	return time.Time{}, repository.ErrNotFound
}

func (m escrowDB) ListByTask(_ context.Context, taskID uuid.UUID) ([]*models.EscrowTransaction, error) {
	var out []*models.EscrowTransaction
	for i := len(m.escrows) - 1; i >= 0; i-- {
		if m.escrows[i].TaskID == taskID {
			x := m.escrows[i]
			out = append(out, &x)
		}
	}
	return out, nil
}

func (m escrowDB) GetByReference(_ context.Context, reference string) (*models.EscrowTransaction, error) {
	for _, x := range m.escrows {
		if x.Reference == reference {
			return &x, nil
		}
	}
	return nil, repository.ErrNotFound
}

// floatDB adapts memDB to ledger.Store.
type floatDB struct{ *memDB }

func (m floatDB) LockCurrency(context.Context, pgx.Tx, string) error { return nil }

func (m floatDB) LastBalance(_ context.Context, _ pgx.Tx, currency string) (decimal.Decimal, error) {
	for i := len(m.floats) - 1; i >= 0; i-- {
		if m.floats[i].Currency == currency {
			return m.floats[i].Balance, nil
		}
	}
	return decimal.Zero, nil
}

func (m floatDB) Insert(_ context.Context, _ pgx.Tx, e *models.FloatEntry) error {
	for _, x := range m.floats {
		if x.Reference == e.Reference {
			return ledger.ErrDuplicateReference
		}
	}
	e.Seq = int64(len(m.floats) + 1)
	m.floats = append(m.floats, e)
	return nil
}

func (m floatDB) List(_ context.Context, currency string, limit int, beforeSeq int64) ([]*models.FloatEntry, error) {
	var out []*models.FloatEntry
	for i := len(m.floats) - 1; i >= 0 && len(out) < limit; i-- {
		if e := m.floats[i]; e.Currency == currency && (beforeSeq == 0 || e.Seq < beforeSeq) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m floatDB) Replay(_ context.Context, currency string, fn func(*models.FloatEntry) error) error {
	for _, e := range m.floats {
		if e.Currency == currency {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordingNotifier captures notifications and the commit count observed at
// enqueue time.
type recordingNotifier struct {
	mu       sync.Mutex
	db       *memDB
	err      error
	sent     []models.Notification
	atCommit []int64
}

func (n *recordingNotifier) Enqueue(_ context.Context, msg models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	n.atCommit = append(n.atCommit, n.db.Commits())
	return nil
}

func (n *recordingNotifier) forUser(userID uuid.UUID) []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Notification
	for _, msg := range n.sent {
		if msg.UserID == userID {
			out = append(out, msg)
		}
	}
	return out
}

var errBoom = errors.New("boom")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEscrow(m *memDB) (*EscrowService, *recordingNotifier) {
	n := &recordingNotifier{db: m}
	svc := NewEscrowService(m, m, m, escrowDB{m}, n, quietLogger())
	return svc, n
}

func newTestWallet(m *memDB) (*WalletService, *recordingNotifier) {
	n := &recordingNotifier{db: m}
	svc := &WalletService{
		DB:       m,
		Wallets:  m,
		Reader:   m,
		Entries:  m,
		History:  m,
		Float:    ledger.NewService(floatDB{m}, "KES", quietLogger()),
		Notifier: n,
		Currency: "KES",
		Logger:   quietLogger(),
	}
	return svc, n
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
