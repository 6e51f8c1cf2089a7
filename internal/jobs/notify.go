package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/gigledger/backend/internal/models"
)

// NotifyArgs is a notification waiting to be written to a user's inbox.
type NotifyArgs struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Message   string     `json:"message"`
	Source    string     `json:"source"`
	Important bool       `json:"important"`
	SenderID  *uuid.UUID `json:"sender_id,omitempty"`
}

func (NotifyArgs) Kind() string { return "ledger_notify" }

// InsertOpts keeps the queue small: a notification that cannot be stored
// after a handful of attempts is dropped.
func (NotifyArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

func (a NotifyArgs) notification() models.Notification {
	return models.Notification{
		ID:        a.ID,
		UserID:    a.UserID,
		Message:   a.Message,
		Source:    a.Source,
		Important: a.Important,
		SenderID:  a.SenderID,
	}
}

// Notifier delivers a notification; *repository.NotificationRepo implements
// it by writing to the inbox table.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type NotifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	notifier Notifier
	log      *slog.Logger
}

func NewNotifyWorker(n Notifier, log *slog.Logger) *NotifyWorker {
	if log == nil {
		log = slog.Default()
	}
	return &NotifyWorker{notifier: n, log: log}
}

func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	if job.Args.UserID == uuid.Nil {
		w.log.Warn("dropping notification without recipient", "job_id", job.ID)
		return river.JobCancel(errors.New("notification has no user_id"))
	}
	if err := w.notifier.Notify(ctx, job.Args.notification()); err != nil {
		return fmt.Errorf("store notification %s: %w", job.Args.ID, err)
	}
	return nil
}

func (w *NotifyWorker) Timeout(*river.Job[NotifyArgs]) time.Duration {
	return 10 * time.Second
}

// Inserter is the part of *river.Client used to enqueue jobs.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverEnqueuer schedules notifications as river jobs. It inserts outside the
// financial transaction, so a notification can only exist for a committed
// ledger change.
type RiverEnqueuer struct {
	client Inserter
}

func NewRiverEnqueuer(client Inserter) *RiverEnqueuer {
	return &RiverEnqueuer{client: client}
}

func (e *RiverEnqueuer) Enqueue(ctx context.Context, n models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := e.client.Insert(ctx, NotifyArgs{
		ID:        n.ID,
		UserID:    n.UserID,
		Message:   n.Message,
		Source:    n.Source,
		Important: n.Important,
		SenderID:  n.SenderID,
	}, nil)
	if err != nil {
		return fmt.Errorf("insert notify job: %w", err)
	}
	return nil
}
