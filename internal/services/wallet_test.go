package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigledger/backend/internal/models"
	"github.com/gigledger/backend/internal/money"
)

func topUp(t *testing.T, svc *WalletService, user uuid.UUID, amount, receipt string) *MovementResult {
	t.Helper()
	res, err := svc.TopUp(context.Background(), TopUpRequest{
		UserID: user, Amount: dec(amount), ExternalReference: receipt, Source: models.ActorMpesa,
	})
	require.NoError(t, err)
	return res
}

func TestTopUpCreditsWalletAndFloat(t *testing.T) {
	m := newMemDB()
	svc, notes := newTestWallet(m)
	user := uuid.New()

	res := topUp(t, svc, user, "1000.00", "qk71h2x9")

	assert.Equal(t, "TOP-QK71H2X9", res.Entry.Reference)
	assert.Equal(t, models.CategoryTopUp, res.Entry.Category)
	assert.Equal(t, "1000.00", res.Entry.BalanceAfter.StringFixed(2))
	require.NotNil(t, res.Entry.ExternalReference)
	assert.Equal(t, "qk71h2x9", *res.Entry.ExternalReference)

	assert.Equal(t, models.DirectionIn, res.Float.Direction)
	assert.Equal(t, models.ActorMpesa, res.Float.Source)
	assert.Equal(t, models.ActorFloat, res.Float.Destination)
	assert.Equal(t, "1000.00", res.Float.Balance.StringFixed(2))

	w, err := svc.Balance(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", w.Balance.StringFixed(2))

	require.Len(t, notes.forUser(user), 1)
	assert.Equal(t, models.NotificationSourceWallet, notes.sent[0].Source)
}

func TestTopUpDuplicateReceipt(t *testing.T) {
	m := newMemDB()
	svc, _ := newTestWallet(m)
	user := uuid.New()
	topUp(t, svc, user, "50", "RCPT-1")

	_, err := svc.TopUp(context.Background(), TopUpRequest{UserID: user, Amount: dec("50"), ExternalReference: "rcpt-1", Source: models.ActorBank})

	assert.ErrorIs(t, err, ErrDuplicateExternalRef)
	assert.Equal(t, "50.00", m.balanceOf(user).StringFixed(2))
	assert.Len(t, m.floats, 1)
}

func TestTopUpValidation(t *testing.T) {
	svc, _ := newTestWallet(newMemDB())
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.TopUp(ctx, TopUpRequest{UserID: user, Amount: dec("10"), Source: "paypal"})
	assert.ErrorIs(t, err, ErrInvalidGateway)
	_, err = svc.TopUp(ctx, TopUpRequest{UserID: user, Amount: dec("0"), Source: models.ActorBank})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.TopUp(ctx, TopUpRequest{UserID: user, Amount: dec("1e17"), Source: models.ActorBank})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.ErrorIs(t, err, money.ErrTooLarge)
	_, err = svc.TopUp(ctx, TopUpRequest{Amount: dec("10"), Source: models.ActorBank})
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestPayoutDebitsWalletAndFloat(t *testing.T) {
	m := newMemDB()
	svc, _ := newTestWallet(m)
	user := uuid.New()
	topUp(t, svc, user, "1000", "")

	res, err := svc.Payout(context.Background(), PayoutRequest{
		UserID: user, Amount: dec("300.50"), ExternalReference: "B2C-77", Destination: models.ActorMpesa,
	})
	require.NoError(t, err)

	assert.Equal(t, models.EntryTypeDebit, res.Entry.EntryType)
	assert.Equal(t, "699.50", res.Entry.BalanceAfter.StringFixed(2))
	assert.Equal(t, models.DirectionOut, res.Float.Direction)
	assert.Equal(t, models.ActorFloat, res.Float.Source)
	assert.Equal(t, "699.50", res.Float.Balance.StringFixed(2))
	assert.Equal(t, "699.50", m.balanceOf(user).StringFixed(2))
}

func TestPayoutInsufficientBalance(t *testing.T) {
	m := newMemDB()
	svc, notes := newTestWallet(m)
	user := uuid.New()
	topUp(t, svc, user, "100", "")

	_, err := svc.Payout(context.Background(), PayoutRequest{UserID: user, Amount: dec("600"), Destination: models.ActorBank})

	var ib *InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, "500.00", ib.Shortfall().StringFixed(2))
	assert.Equal(t, "100.00", m.balanceOf(user).StringFixed(2))
	assert.Len(t, m.floats, 1)
	assert.Len(t, notes.sent, 1)
}

func TestPayoutRequiresActiveWallet(t *testing.T) {
	m := newMemDB()
	svc, _ := newTestWallet(m)
	ctx := context.Background()
	user := uuid.New()
	topUp(t, svc, user, "100", "")

	w, err := svc.SetStatus(ctx, user, models.WalletStatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, models.WalletStatusSuspended, w.Status)

	_, err = svc.Payout(ctx, PayoutRequest{UserID: user, Amount: dec("10"), Destination: models.ActorBank})
	assert.ErrorIs(t, err, ErrWalletInactive)

	// Suspended wallets still receive money.
	topUp(t, svc, user, "5", "")
	assert.Equal(t, "105.00", m.balanceOf(user).StringFixed(2))
}

func TestSetStatus(t *testing.T) {
	m := newMemDB()
	svc, _ := newTestWallet(m)
	ctx := context.Background()

	_, err := svc.SetStatus(ctx, uuid.New(), "frozen")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = svc.SetStatus(ctx, uuid.New(), models.WalletStatusClosed)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestStatementPagination(t *testing.T) {
	m := newMemDB()
	svc, _ := newTestWallet(m)
	ctx := context.Background()
	user := uuid.New()
	for _, amt := range []string{"10", "20", "30", "40"} {
		topUp(t, svc, user, amt, "")
	}

	page, err := svc.Statement(ctx, user, 2, 0)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "100.00", page.Entries[0].BalanceAfter.StringFixed(2))
	assert.Equal(t, "60.00", page.Entries[1].BalanceAfter.StringFixed(2))

	next, err := svc.Statement(ctx, user, 2, page.Entries[1].Seq)
	require.NoError(t, err)
	require.Len(t, next.Entries, 2)
	assert.Equal(t, "30.00", next.Entries[0].BalanceAfter.StringFixed(2))
	assert.Equal(t, "10.00", next.Entries[1].BalanceAfter.StringFixed(2))

	_, err = svc.Statement(ctx, uuid.New(), 10, 0)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestAuditAfterEscrowCycle(t *testing.T) {
	m := newMemDB()
	wallets, _ := newTestWallet(m)
	escrow, _ := newTestEscrow(m)
	ctx := context.Background()
	payer, payee, task := uuid.New(), uuid.New(), uuid.New()

	topUp(t, wallets, payer, "1000", "")
	_, err := escrow.HoldFunds(ctx, HoldRequest{TaskID: task, PayerID: payer, PayeeID: payee, Amount: dec("600")})
	require.NoError(t, err)
	_, err = escrow.ReleaseFunds(ctx, ReleaseRequest{TaskID: task})
	require.NoError(t, err)

	for _, user := range []uuid.UUID{payer, payee} {
		report, err := wallets.AuditUser(ctx, user)
		require.NoError(t, err)
		assert.True(t, report.Consistent, "user %s: %+v", user, report)
	}
	platform, err := wallets.AuditPlatform(ctx)
	require.NoError(t, err)
	assert.True(t, platform.Consistent)
	assert.Equal(t, "90.00", platform.Balance.StringFixed(2))
	assert.Equal(t, int64(1), platform.Entries)

	payerReport, _ := wallets.AuditUser(ctx, payer)
	assert.Equal(t, "400.00", payerReport.LedgerSum.StringFixed(2))
	assert.Equal(t, int64(2), payerReport.Entries)
}

func TestAuditDetectsDrift(t *testing.T) {
	m := newMemDB()
	svc, _ := newTestWallet(m)
	user := uuid.New()
	topUp(t, svc, user, "100", "")

	id := m.seed(uuid.New(), "0")
	for wid, w := range m.wallets {
		if w.UserID != nil && *w.UserID == user {
			w.Balance = dec("150")
			m.wallets[wid] = w
		}
	}

	report, err := svc.AuditUser(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, "100.00", report.LedgerSum.StringFixed(2))
	assert.Equal(t, "150.00", report.Balance.StringFixed(2))

	empty, err := svc.Audit(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, empty.Consistent)
	assert.Equal(t, int64(0), empty.Entries)
}
