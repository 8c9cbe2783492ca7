package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamtube/account-service/internal/apperr"
	"github.com/streamtube/account-service/internal/domain"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func testAccount() *domain.Account {
	now := time.Now().UTC()
	return &domain.Account{
		ID:           "acc-1",
		Username:     "alice",
		Email:        "alice@example.com",
		FullName:     "Alice Adams",
		PasswordHash: "$2a$04$digest",
		AvatarURL:    "https://cdn.example.com/avatar.png",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func accountRows(a *domain.Account) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "username", "email", "full_name", "password_hash",
		"avatar_url", "cover_image_url", "current_refresh_token",
		"created_at", "updated_at",
	}).AddRow(
		a.ID, a.Username, a.Email, a.FullName, a.PasswordHash,
		a.AvatarURL, a.CoverImageURL, a.RefreshToken,
		a.CreatedAt, a.UpdatedAt,
	)
}

func TestAccountRepository_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)
	account := testAccount()

	mock.ExpectExec("INSERT INTO accounts").
		WithArgs(
			account.ID, account.Username, account.Email, account.FullName,
			account.PasswordHash, account.AvatarURL, account.CoverImageURL,
			account.RefreshToken, account.CreatedAt, account.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), account)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_Create_UniqueViolation(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)
	account := testAccount()

	mock.ExpectExec("INSERT INTO accounts").
		WithArgs(
			account.ID, account.Username, account.Email, account.FullName,
			account.PasswordHash, account.AvatarURL, account.CoverImageURL,
			account.RefreshToken, account.CreatedAt, account.UpdatedAt,
		).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "idx_accounts_username" (SQLSTATE 23505)`))

	err := repo.Create(context.Background(), account)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 409, apperr.HTTPStatus(err))
}

func TestAccountRepository_GetByID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)
	account := testAccount()

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs(account.ID).
		WillReturnRows(accountRows(account))

	got, err := repo.GetByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Username, got.Username)
	assert.Equal(t, account.PasswordHash, got.PasswordHash)
}

func TestAccountRepository_GetByID_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "username", "email", "full_name", "password_hash",
			"avatar_url", "cover_image_url", "current_refresh_token",
			"created_at", "updated_at",
		}))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAccountRepository_GetByUsernameOrEmail(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)
	account := testAccount()

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs(account.Username, account.Email).
		WillReturnRows(accountRows(account))

	got, err := repo.GetByUsernameOrEmail(context.Background(), account.Username, account.Email)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
}

func TestAccountRepository_Update(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)
	account := testAccount()

	mock.ExpectExec("UPDATE accounts").
		WithArgs(
			account.Username, account.Email, account.FullName,
			account.PasswordHash, account.AvatarURL, account.CoverImageURL,
			pgxmock.AnyArg(), account.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.Update(context.Background(), account)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_Update_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)
	account := testAccount()

	mock.ExpectExec("UPDATE accounts").
		WithArgs(
			account.Username, account.Email, account.FullName,
			account.PasswordHash, account.AvatarURL, account.CoverImageURL,
			pgxmock.AnyArg(), account.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), account)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
