package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gigledger/backend/internal/models"
	"github.com/gigledger/backend/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrDuplicateClient    = errors.New("service client already registered")
	ErrInvalidScope       = errors.New("unknown scope")
)

const issuer = "gigledger"

// Claims identify the service client behind a request.
type Claims struct {
	jwt.RegisteredClaims
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// ClientID is the service client id carried in the subject.
func (c *Claims) ClientID() uuid.UUID {
	id, _ := uuid.Parse(c.Subject)
	return id
}

func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Scopes      []string  `json:"scopes"`
}

type Service interface {
	RegisterClient(ctx context.Context, name, secret string, scopes []string) (*models.ServiceClient, error)
	IssueToken(ctx context.Context, name, secret string) (*Token, error)
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// Store is the service_clients access the auth service needs.
type Store interface {
	Create(ctx context.Context, c *models.ServiceClient) error
	GetByName(ctx context.Context, name string) (*models.ServiceClient, error)
}

type service struct {
	store  Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(store Store, secret []byte, ttl time.Duration) *service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &service{store: store, secret: secret, ttl: ttl, now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

func (s *service) RegisterClient(ctx context.Context, name, secret string, scopes []string) (*models.ServiceClient, error) {
	name = strings.TrimSpace(name)
	if name == "" || secret == "" {
		return nil, ErrInvalidCredentials
	}
	for _, sc := range scopes {
		if sc != models.ScopeEscrow && sc != models.ScopeGateway && sc != models.ScopeWallet {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, sc)
		}
	}
	if scopes == nil {
		scopes = []string{}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	c := &models.ServiceClient{
		ID:         uuid.New(),
		Name:       name,
		SecretHash: string(hash),
		Scopes:     scopes,
		Active:     true,
	}
	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrDuplicateClient
		}
		return nil, err
	}
	return c, nil
}

// IssueToken exchanges client credentials for a signed HS256 token carrying
// the client's scopes.
func (s *service) IssueToken(ctx context.Context, name, secret string) (*Token, error) {
	c, err := s.store.GetByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   c.ID.String(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Name:   c.Name,
		Scopes: c.Scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: exp, Scopes: c.Scopes}, nil
}

func (s *service) ValidateToken(_ context.Context, token string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || c.ClientID() == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return c, nil
}
