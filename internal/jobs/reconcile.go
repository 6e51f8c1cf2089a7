package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/gigledger/backend/internal/ledger"
	"github.com/gigledger/backend/internal/money"
	"github.com/gigledger/backend/internal/services"
)

// ReconcileArgs triggers a replay of the float ledger and an audit of the
// platform wallet.
type ReconcileArgs struct {
	Currency string `json:"currency"`
}

func (ReconcileArgs) Kind() string { return "ledger_reconcile" }

func (ReconcileArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 3,
		UniqueOpts:  river.UniqueOpts{ByArgs: true, ByPeriod: time.Minute},
	}
}

type FloatVerifier interface {
	Verify(ctx context.Context, currency string) (*ledger.VerifyReport, error)
}

type PlatformAuditor interface {
	AuditPlatform(ctx context.Context) (*services.AuditReport, error)
}

// ReconcileWorker reports drift; it never corrects a ledger. A mismatch is
// logged at error level and the job completes so it is not retried.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	float    FloatVerifier
	platform PlatformAuditor
	log      *slog.Logger
}

func NewReconcileWorker(float FloatVerifier, platform PlatformAuditor, log *slog.Logger) *ReconcileWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ReconcileWorker{float: float, platform: platform, log: log}
}

func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileArgs]) error {
	log := w.log.With("job_id", job.ID, "currency", job.Args.Currency)

	report, err := w.float.Verify(ctx, job.Args.Currency)
	if err != nil {
		return fmt.Errorf("verify float ledger: %w", err)
	}
	if report.Consistent() {
		log.Info("float ledger reconciled", "entries", report.Entries, "balance", report.Balance.StringFixed(money.Scale))
	} else {
		for _, m := range report.Mismatches {
			log.Error("float ledger mismatch", "seq", m.Seq, "reference", m.Reference,
				"stored", m.Stored.StringFixed(money.Scale), "expected", m.Expected.StringFixed(money.Scale))
		}
	}

	if w.platform == nil {
		return nil
	}
	audit, err := w.platform.AuditPlatform(ctx)
	switch {
	case errors.Is(err, services.ErrWalletNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("audit platform wallet: %w", err)
	case audit.Consistent:
		log.Info("platform wallet reconciled", "entries", audit.Entries, "balance", audit.Balance.StringFixed(money.Scale))
	}
	return nil
}

// PeriodicReconcile schedules a reconciliation every interval, starting
// when the river client starts.
func PeriodicReconcile(interval time.Duration, currency string) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return ReconcileArgs{Currency: currency}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
