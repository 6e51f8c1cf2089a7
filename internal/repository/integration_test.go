package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigledger/backend/internal/db"
	"github.com/gigledger/backend/internal/ledger"
	"github.com/gigledger/backend/internal/models"
	"github.com/gigledger/backend/internal/repository"
	"github.com/gigledger/backend/internal/services"
)

// connect returns a migrated pool, or skips when TEST_DATABASE_URL is unset.
func connect(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))
	return pool
}

func TestEscrowCycleAgainstPostgres(t *testing.T) {
	pool := connect(t)
	ctx := context.Background()

	walletRepo := repository.NewWalletRepo(pool)
	entryRepo := repository.NewWalletLedgerRepo(pool)
	floatSvc := ledger.NewService(ledger.NewRepository(pool), "KES", nil)
	escrow := services.NewEscrowService(pool, walletRepo, entryRepo, repository.NewEscrowRepo(pool), nil, nil)
	wallets := services.NewWalletService(pool, walletRepo, entryRepo, floatSvc, nil, nil)

	payer, payee, task := uuid.New(), uuid.New(), uuid.New()
	_, err := wallets.TopUp(ctx, services.TopUpRequest{
		UserID: payer, Amount: decimal.NewFromInt(1000), ExternalReference: "it-" + payer.String()[:8], Source: models.ActorMpesa,
	})
	require.NoError(t, err)

	held, err := escrow.HoldFunds(ctx, services.HoldRequest{
		TaskID: task, TaskTitle: "Logo design", PayerID: payer, PayeeID: payee, Amount: decimal.NewFromInt(600),
	})
	require.NoError(t, err)
	assert.Equal(t, "90.00", held.PlatformFee.StringFixed(2))

	_, err = escrow.HoldFunds(ctx, services.HoldRequest{
		TaskID: task, TaskTitle: "Logo design", PayerID: payer, PayeeID: payee, Amount: decimal.NewFromInt(100),
	})
	assert.ErrorIs(t, err, services.ErrEscrowAlreadyHeld)

	released, err := escrow.ReleaseFunds(ctx, services.ReleaseRequest{
		TaskID: task, PayerID: payer, PayeeID: payee, Amount: decimal.NewFromInt(600),
	})
	require.NoError(t, err)
	assert.Equal(t, "510.00", released.DoerPay.StringFixed(2))

	payerWallet, err := wallets.Balance(ctx, payer)
	require.NoError(t, err)
	assert.Equal(t, "400.00", payerWallet.Balance.StringFixed(2))
	payeeWallet, err := wallets.Balance(ctx, payee)
	require.NoError(t, err)
	assert.Equal(t, "510.00", payeeWallet.Balance.StringFixed(2))

	report, err := wallets.AuditUser(ctx, payer)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestLedgerRowsAreImmutable(t *testing.T) {
	pool := connect(t)
	ctx := context.Background()

	wallets := services.NewWalletService(pool, repository.NewWalletRepo(pool), repository.NewWalletLedgerRepo(pool),
		ledger.NewService(ledger.NewRepository(pool), "KES", nil), nil, nil)
	user := uuid.New()
	res, err := wallets.TopUp(ctx, services.TopUpRequest{
		UserID: user, Amount: decimal.NewFromInt(50), ExternalReference: "imm-" + user.String()[:8], Source: models.ActorBank,
	})
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `UPDATE wallet_ledger_entries SET amount = 1 WHERE id = $1`, res.Entry.ID)
	assert.ErrorIs(t, db.Classify(err), db.ErrImmutableEntry)

	_, err = pool.Exec(ctx, `DELETE FROM wallet_ledger_entries WHERE id = $1`, res.Entry.ID)
	assert.ErrorIs(t, db.Classify(err), db.ErrImmutableEntry)

	_, err = pool.Exec(ctx, `DELETE FROM float_ledger_entries WHERE id = $1`, res.Float.ID)
	assert.ErrorIs(t, db.Classify(err), db.ErrImmutableEntry)
}

func TestBalanceCannotGoNegative(t *testing.T) {
	pool := connect(t)
	ctx := context.Background()
	walletRepo := repository.NewWalletRepo(pool)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	id, err := walletRepo.EnsureUserWallet(ctx, tx, uuid.New(), "KES")
	require.NoError(t, err)
	_, err = walletRepo.ApplyDelta(ctx, tx, id, decimal.NewFromInt(-1))
	assert.True(t, db.IsCheckViolation(err))
}

// scratchCurrency returns a random currency code so concurrent runs against
// the same database do not share a float ledger.
func scratchCurrency() string {
	id := uuid.New()
	return string([]byte{'A' + id[0]%26, 'A' + id[1]%26, 'A' + id[2]%26})
}

func TestConcurrentFloatRecordsChainBalances(t *testing.T) {
	pool := connect(t)
	ctx := context.Background()
	svc := ledger.NewService(ledger.NewRepository(pool), "KES", nil)
	currency := scratchCurrency()

	start, err := svc.Balance(ctx, currency)
	require.NoError(t, err)

	const n = 20
	prefix := "CONC-" + uuid.NewString()[:8]
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Record(ctx, ledger.Record{
				Reference: fmt.Sprintf("%s-%02d", prefix, i), Direction: models.DirectionIn,
				Amount: decimal.NewFromInt(1), Currency: currency,
				Source: models.ActorMpesa, Destination: models.ActorFloat,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := svc.List(ctx, currency, 500, 0)
	require.NoError(t, err)
	var ours []*models.FloatEntry
	for _, e := range entries {
		if len(e.Reference) > len(prefix) && e.Reference[:len(prefix)] == prefix {
			ours = append(ours, e)
		}
	}
	require.Len(t, ours, n)
	sort.Slice(ours, func(i, j int) bool { return ours[i].Seq < ours[j].Seq })

	seen := make(map[string]bool, n)
	for i, e := range ours {
		want := start.Add(decimal.NewFromInt(int64(i + 1)))
		assert.True(t, e.Balance.Equal(want), "entry %d balance %s, want %s", i, e.Balance, want)
		assert.False(t, seen[e.Balance.String()], "balance %s appears twice", e.Balance)
		seen[e.Balance.String()] = true
	}

	report, err := svc.Verify(ctx, currency)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestConcurrentReleasePaysOnce(t *testing.T) {
	pool := connect(t)
	ctx := context.Background()

	walletRepo := repository.NewWalletRepo(pool)
	entryRepo := repository.NewWalletLedgerRepo(pool)
	escrow := services.NewEscrowService(pool, walletRepo, entryRepo, repository.NewEscrowRepo(pool), nil, nil)
	wallets := services.NewWalletService(pool, walletRepo, entryRepo,
		ledger.NewService(ledger.NewRepository(pool), "KES", nil), nil, nil)

	payer, payee, task := uuid.New(), uuid.New(), uuid.New()
	_, err := wallets.TopUp(ctx, services.TopUpRequest{
		UserID: payer, Amount: decimal.NewFromInt(1000), ExternalReference: "cr-" + payer.String()[:8], Source: models.ActorBank,
	})
	require.NoError(t, err)
	_, err = escrow.HoldFunds(ctx, services.HoldRequest{
		TaskID: task, TaskTitle: "Paint fence", PayerID: payer, PayeeID: payee, Amount: decimal.NewFromInt(600),
	})
	require.NoError(t, err)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		missing   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := escrow.ReleaseFunds(ctx, services.ReleaseRequest{TaskID: task})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, services.ErrMissingHeldTransaction):
				missing++
			default:
				t.Errorf("unexpected release error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, missing)

	payeeWallet, err := wallets.Balance(ctx, payee)
	require.NoError(t, err)
	assert.Equal(t, "510.00", payeeWallet.Balance.StringFixed(2))
	statement, err := wallets.Statement(ctx, payee, 50, 0)
	require.NoError(t, err)
	assert.Len(t, statement.Entries, 1)
	report, err := wallets.AuditUser(ctx, payee)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}
