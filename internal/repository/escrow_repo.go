package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigledger/backend/internal/db"
	"github.com/gigledger/backend/internal/models"
)

const escrowColumns = `id, task_id, task_title, reference, payer_id, payee_id, amount, platform_fee, fee_rate, currency, status, created_at, settled_at`

// oneHeldPerTask is the partial unique index guarding double holds.
const oneHeldPerTask = "escrow_transactions_one_held_per_task"

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func scanEscrow(row pgx.Row) (*models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	err := row.Scan(&e.ID, &e.TaskID, &e.TaskTitle, &e.Reference, &e.PayerID, &e.PayeeID, &e.Amount, &e.PlatformFee,
		&e.FeeRate, &e.Currency, &e.Status, &e.CreatedAt, &e.SettledAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateTx inserts a held escrow transaction. Returns ErrAlreadyExists when
// the task already has funds held.
func (r *EscrowRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO escrow_transactions (id, task_id, task_title, reference, payer_id, payee_id, amount, platform_fee, fee_rate, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, e.ID, e.TaskID, e.TaskTitle, e.Reference, e.PayerID, e.PayeeID, e.Amount, e.PlatformFee, e.FeeRate, e.Currency, e.Status).
		Scan(&e.CreatedAt)
	if db.IsUniqueViolation(err, oneHeldPerTask) {
		return ErrAlreadyExists
	}
	return err
}

// GetHeldByTaskForUpdate locks the task's held escrow row. Returns
// ErrNotFound when nothing is held, including after a concurrent release
// that committed while this call waited on the lock.
func (r *EscrowRepo) GetHeldByTaskForUpdate(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := scanEscrow(tx.QueryRow(ctx, `
		SELECT `+escrowColumns+`
		FROM escrow_transactions WHERE task_id = $1 AND status = 'held'
		FOR UPDATE
	`, taskID))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// SettleTx moves a held row to a terminal status.
func (r *EscrowRepo) SettleTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) (time.Time, error) {
	var settledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE escrow_transactions SET status = $2, settled_at = now()
		WHERE id = $1 AND status = 'held'
		RETURNING settled_at
	`, id, status).Scan(&settledAt)
	return settledAt, notFound(err)
}

func (r *EscrowRepo) GetByReference(ctx context.Context, reference string) (*models.EscrowTransaction, error) {
	e, err := scanEscrow(r.pool.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions WHERE reference = $1
	`, reference))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (r *EscrowRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.EscrowTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrow_transactions WHERE task_id = $1 ORDER BY created_at DESC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EscrowTransaction
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
