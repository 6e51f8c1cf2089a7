package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigledger/backend/internal/db"
	"github.com/gigledger/backend/internal/models"
	"github.com/gigledger/backend/internal/repository"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// Create inserts a new service client.
func (r *Repository) Create(ctx context.Context, c *models.ServiceClient) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO service_clients (id, name, secret_hash, scopes, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, c.ID, c.Name, c.SecretHash, c.Scopes, c.Active).Scan(&c.CreatedAt)
	if db.IsUniqueViolation(err, "") {
		return repository.ErrAlreadyExists
	}
	return err
}

// GetByName returns the client with its secret hash for token exchange.
func (r *Repository) GetByName(ctx context.Context, name string) (*models.ServiceClient, error) {
	var c models.ServiceClient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, secret_hash, scopes, active, created_at
		FROM service_clients WHERE name = $1
	`, name).Scan(&c.ID, &c.Name, &c.SecretHash, &c.Scopes, &c.Active, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
