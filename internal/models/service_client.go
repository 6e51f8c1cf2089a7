package models

import (
	"time"

	"github.com/google/uuid"
)

// Scopes granted to collaborator service clients.
const (
	ScopeEscrow  = "escrow"
	ScopeGateway = "gateway"
	ScopeWallet  = "wallet"
)

// ServiceClient is a collaborator allowed to call the ledger (the task
// workflow, payment gateway callback handlers, the back-office console).
type ServiceClient struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	SecretHash string    `json:"-"`
	Scopes     []string  `json:"scopes"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasScope reports whether the client was granted scope.
func (c *ServiceClient) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
