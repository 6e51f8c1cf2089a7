package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigledger/backend/internal/models"
)

// NotificationRepo is the inbox the default notifier writes to. Delivery to
// devices happens elsewhere.
type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

// Notify stores n in the user's inbox.
func (r *NotificationRepo) Notify(ctx context.Context, n models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, message, source, important, sender_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.UserID, n.Message, n.Source, n.Important, n.SenderID)
	return err
}
