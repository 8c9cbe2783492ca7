package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/streamtube/account-service/internal/apperr"
)

// SessionStore implements repository.SessionStore as a projection over the
// accounts table: the single refresh-token slot is the
// current_refresh_token column. Replace uses a compare-and-swap UPDATE so a
// lost rotation race surfaces as a conflict instead of a silent overwrite.
type SessionStore struct {
	db DB
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(db DB) *SessionStore {
	return &SessionStore{db: db}
}

// Install overwrites the refresh-token slot unconditionally.
func (s *SessionStore) Install(ctx context.Context, accountID, tokenDigest string) error {
	query := `UPDATE accounts SET current_refresh_token = $1, updated_at = $2 WHERE id = $3`

	ct, err := s.db.Exec(ctx, query, tokenDigest, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("install session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}

	return nil
}

// Replace swaps the slot from currentDigest to nextDigest. The WHERE clause
// carries the expected value, so a concurrent rotation that already changed
// the slot makes this a zero-row update.
func (s *SessionStore) Replace(ctx context.Context, accountID, currentDigest, nextDigest string) error {
	query := `
		UPDATE accounts
		SET current_refresh_token = $1, updated_at = $2
		WHERE id = $3 AND current_refresh_token = $4`

	ct, err := s.db.Exec(ctx, query, nextDigest, time.Now().UTC(), accountID, currentDigest)
	if err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.ErrSessionConflict
	}

	return nil
}

// Get returns the stored digest, or the empty string when no session is active.
func (s *SessionStore) Get(ctx context.Context, accountID string) (string, error) {
	query := `SELECT current_refresh_token FROM accounts WHERE id = $1`

	var digest string
	if err := s.db.QueryRow(ctx, query, accountID).Scan(&digest); err != nil {
		return "", fmt.Errorf("get session: %w", err)
	}

	return digest, nil
}

// Clear empties the slot. Clearing an account with no active session is a no-op.
func (s *SessionStore) Clear(ctx context.Context, accountID string) error {
	query := `UPDATE accounts SET current_refresh_token = '', updated_at = $1 WHERE id = $2`

	if _, err := s.db.Exec(ctx, query, time.Now().UTC(), accountID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	return nil
}
