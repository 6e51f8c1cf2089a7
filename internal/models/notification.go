package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification sources emitted by the ledger.
const (
	NotificationSourceEscrow = "escrow"
	NotificationSourceWallet = "wallet"
)

type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Message   string     `json:"message"`
	Source    string     `json:"source"`
	Important bool       `json:"important"`
	SenderID  *uuid.UUID `json:"sender_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
