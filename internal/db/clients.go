package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/model"
)

// ErrClientNotFound is returned when no API client has the requested id.
var ErrClientNotFound = errors.New("api client not found")

// ClientStore reads API clients for the token exchange.
type ClientStore struct {
	pool *pgxpool.Pool
}

// NewClientStore creates a new ClientStore.
func NewClientStore(pool *pgxpool.Pool) *ClientStore {
	return &ClientStore{pool: pool}
}

// LookupClient loads an API client by id.
func (s *ClientStore) LookupClient(ctx context.Context, clientID string) (*model.APIClient, error) {
	var c model.APIClient
	err := s.pool.QueryRow(ctx,
		`SELECT client_id, key_hash, role, is_active
		 FROM api_clients
		 WHERE client_id = $1`,
		clientID,
	).Scan(&c.ClientID, &c.KeyHash, &c.Role, &c.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("lookup client: %w", err)
	}
	return &c, nil
}
