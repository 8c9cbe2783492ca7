package repository

import (
	"context"

	"github.com/streamtube/account-service/internal/domain"
)

// AccountRepository defines the interface for account persistence operations.
type AccountRepository interface {
	// Create inserts a new account into the store.
	Create(ctx context.Context, account *domain.Account) error

	// GetByID retrieves an account by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Account, error)

	// GetByUsernameOrEmail retrieves an account matching either unique field.
	GetByUsernameOrEmail(ctx context.Context, username, email string) (*domain.Account, error)

	// Update modifies an existing account in the store.
	Update(ctx context.Context, account *domain.Account) error
}

// SessionStore manages the single refresh-token slot per account. The stored
// value is a token digest, never the token itself. Equality of digests is
// how a submitted refresh token is matched against the live session.
type SessionStore interface {
	// Install overwrites the slot unconditionally. Used on login; installing
	// a new session invalidates any previous one network-wide.
	Install(ctx context.Context, accountID, tokenDigest string) error

	// Replace swaps the slot from currentDigest to nextDigest atomically.
	// Returns apperr.ErrSessionConflict when the stored digest no longer
	// matches currentDigest, i.e. a concurrent rotation won the race.
	Replace(ctx context.Context, accountID, currentDigest, nextDigest string) error

	// Get returns the stored digest, or the empty string when the account
	// has no active session.
	Get(ctx context.Context, accountID string) (string, error)

	// Clear empties the slot. Clearing an already-empty slot is not an error.
	Clear(ctx context.Context, accountID string) error
}
