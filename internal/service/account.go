// Package service implements the account business logic: registration,
// credential login, refresh-token rotation, and profile management.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamtube/account-service/internal/apperr"
	"github.com/streamtube/account-service/internal/auth"
	"github.com/streamtube/account-service/internal/domain"
	"github.com/streamtube/account-service/internal/media"
	"github.com/streamtube/account-service/internal/repository"
)

var refreshRotations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "refresh_rotation_total",
		Help: "Refresh token rotation attempts by outcome",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(refreshRotations)
}

// EventSink receives account lifecycle notifications. Emission is
// fire-and-forget; implementations must not fail the calling request.
type EventSink interface {
	AccountRegistered(ctx context.Context, account *domain.Account)
	AccountUpdated(ctx context.Context, accountID string, fields []string)
	PasswordChanged(ctx context.Context, accountID string)
}

// RegisterInput carries everything needed to create an account. Avatar is
// mandatory; CoverImage may be nil.
type RegisterInput struct {
	Username        string
	Email           string
	FullName        string
	Password        string
	Avatar          io.Reader
	AvatarName      string
	CoverImage      io.Reader
	CoverImageName  string
}

// LoginInput identifies an account by username or email plus password.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult is what a successful login hands back to the transport layer.
type LoginResult struct {
	Account *domain.Account
	Tokens  domain.TokenPair
}

// AccountService orchestrates accounts, sessions, and tokens.
type AccountService struct {
	accounts repository.AccountRepository
	sessions repository.SessionStore
	hasher   *auth.PasswordHasher
	issuer   *auth.TokenIssuer
	uploader media.Uploader
	events   EventSink
	logger   *slog.Logger
}

func NewAccountService(
	accounts repository.AccountRepository,
	sessions repository.SessionStore,
	hasher *auth.PasswordHasher,
	issuer *auth.TokenIssuer,
	uploader media.Uploader,
	events EventSink,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		issuer:   issuer,
		uploader: uploader,
		events:   events,
		logger:   logger,
	}
}

// hashToken digests a refresh token for storage. The session slot holds the
// digest so a database leak does not hand out usable tokens.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Register creates an account. Username and email must be unused, and an
// avatar file is required. The created account is returned without tokens;
// the client logs in separately.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*domain.Account, error) {
	if in.Avatar == nil {
		return nil, apperr.MissingAsset("avatar")
	}

	existing, err := s.accounts.GetByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Internal(fmt.Errorf("check existing account: %w", err))
	}
	if existing != nil {
		return nil, apperr.Conflict("account with this username or email already exists")
	}

	avatarURL, err := s.uploader.Upload(ctx, "avatar", in.AvatarName, in.Avatar)
	if err != nil {
		return nil, err
	}

	var coverURL string
	if in.CoverImage != nil {
		coverURL, err = s.uploader.Upload(ctx, "cover", in.CoverImageName, in.CoverImage)
		if err != nil {
			return nil, err
		}
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:            uuid.New().String(),
		Username:      in.Username,
		Email:         in.Email,
		FullName:      in.FullName,
		PasswordHash:  passwordHash,
		AvatarURL:     avatarURL,
		CoverImageURL: coverURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account registered",
		slog.String("account_id", account.ID),
		slog.String("username", account.Username),
	)
	s.events.AccountRegistered(ctx, account)

	return account.Public(), nil
}

// Login verifies credentials and installs a fresh session. Logging in again
// replaces any existing session, so the previous refresh token stops working
// everywhere.
func (s *AccountService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	account, err := s.accounts.GetByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("account")
		}
		return nil, apperr.Internal(fmt.Errorf("lookup account: %w", err))
	}

	if !s.hasher.Verify(in.Password, account.PasswordHash) {
		return nil, apperr.Unauthorized("invalid account credentials")
	}

	tokens, err := s.issueTokens(account)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Install(ctx, account.ID, hashToken(tokens.RefreshToken)); err != nil {
		return nil, apperr.Internal(fmt.Errorf("install session: %w", err))
	}

	s.logger.InfoContext(ctx, "account logged in", slog.String("account_id", account.ID))

	return &LoginResult{Account: account.Public(), Tokens: tokens}, nil
}

// Refresh rotates the session: it verifies the presented refresh token,
// matches it against the stored slot, and atomically swaps in a new pair.
// A token that fails the slot comparison is treated as replayed and rejected.
// Losing the swap race returns a retryable conflict.
func (s *AccountService) Refresh(ctx context.Context, presented string) (*domain.TokenPair, error) {
	if presented == "" {
		return nil, apperr.Unauthorized("refresh token is required")
	}

	claims, err := s.issuer.VerifyRefresh(presented)
	if err != nil {
		return nil, apperr.Unauthorized("refresh token is expired or invalid")
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("account")
		}
		return nil, apperr.Internal(fmt.Errorf("lookup account: %w", err))
	}

	currentDigest := hashToken(presented)
	storedDigest, err := s.sessions.Get(ctx, account.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("read session: %w", err))
	}
	if storedDigest == "" || storedDigest != currentDigest {
		refreshRotations.WithLabelValues("replayed").Inc()
		s.logger.WarnContext(ctx, "refresh token replay rejected, session revoked",
			slog.String("account_id", account.ID),
		)
		// A rotated-away token showing up again means it leaked or a client
		// went out of sync. Kill the session so everyone re-authenticates.
		if clearErr := s.sessions.Clear(ctx, account.ID); clearErr != nil {
			s.logger.ErrorContext(ctx, "failed to revoke session after replay",
				slog.String("account_id", account.ID),
				slog.String("error", clearErr.Error()),
			)
		}
		return nil, apperr.Unauthorized("refresh token is no longer valid")
	}

	tokens, err := s.issueTokens(account)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Replace(ctx, account.ID, currentDigest, hashToken(tokens.RefreshToken)); err != nil {
		if errors.Is(err, apperr.ErrSessionConflict) {
			refreshRotations.WithLabelValues("conflict").Inc()
			return nil, apperr.SessionConflict()
		}
		return nil, apperr.Internal(fmt.Errorf("rotate session: %w", err))
	}

	refreshRotations.WithLabelValues("rotated").Inc()
	s.logger.InfoContext(ctx, "session rotated", slog.String("account_id", account.ID))

	return &tokens, nil
}

// Logout clears the session slot. Logging out twice is fine.
func (s *AccountService) Logout(ctx context.Context, accountID string) error {
	if err := s.sessions.Clear(ctx, accountID); err != nil {
		return apperr.Internal(fmt.Errorf("clear session: %w", err))
	}
	s.logger.InfoContext(ctx, "account logged out", slog.String("account_id", accountID))
	return nil
}

// ChangePassword re-hashes the password after verifying the old one, then
// clears the session so every device has to log in again.
func (s *AccountService) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.NotFound("account")
		}
		return apperr.Internal(fmt.Errorf("lookup account: %w", err))
	}

	if !s.hasher.Verify(oldPassword, account.PasswordHash) {
		return apperr.Unauthorized("old password is incorrect")
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	account.PasswordHash = newHash
	account.UpdatedAt = time.Now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return err
	}

	if err := s.sessions.Clear(ctx, accountID); err != nil {
		return apperr.Internal(fmt.Errorf("clear session: %w", err))
	}

	s.logger.InfoContext(ctx, "password changed", slog.String("account_id", accountID))
	s.events.PasswordChanged(ctx, accountID)

	return nil
}

// GetAccount returns the sanitized view of an account.
func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("account")
		}
		return nil, apperr.Internal(fmt.Errorf("lookup account: %w", err))
	}
	return account.Public(), nil
}

// UpdateDetails changes the full name and email of an account.
func (s *AccountService) UpdateDetails(ctx context.Context, accountID, fullName, email string) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("account")
		}
		return nil, apperr.Internal(fmt.Errorf("lookup account: %w", err))
	}

	account.FullName = fullName
	account.Email = email
	account.UpdatedAt = time.Now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}

	s.events.AccountUpdated(ctx, accountID, []string{"full_name", "email"})

	return account.Public(), nil
}

// UpdateAvatar uploads a new avatar image and stores its public URL.
func (s *AccountService) UpdateAvatar(ctx context.Context, accountID, filename string, content io.Reader) (*domain.Account, error) {
	if content == nil {
		return nil, apperr.MissingAsset("avatar")
	}
	return s.updateImage(ctx, accountID, "avatar", filename, content)
}

// UpdateCoverImage uploads a new cover image and stores its public URL.
func (s *AccountService) UpdateCoverImage(ctx context.Context, accountID, filename string, content io.Reader) (*domain.Account, error) {
	if content == nil {
		return nil, apperr.MissingAsset("cover image")
	}
	return s.updateImage(ctx, accountID, "cover", filename, content)
}

func (s *AccountService) updateImage(ctx context.Context, accountID, kind, filename string, content io.Reader) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("account")
		}
		return nil, apperr.Internal(fmt.Errorf("lookup account: %w", err))
	}

	url, err := s.uploader.Upload(ctx, kind, filename, content)
	if err != nil {
		return nil, err
	}

	var field string
	switch kind {
	case "avatar":
		account.AvatarURL = url
		field = "avatar_url"
	case "cover":
		account.CoverImageURL = url
		field = "cover_image_url"
	}
	account.UpdatedAt = time.Now().UTC()

	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}

	s.events.AccountUpdated(ctx, accountID, []string{field})

	return account.Public(), nil
}

func (s *AccountService) issueTokens(account *domain.Account) (domain.TokenPair, error) {
	access, err := s.issuer.IssueAccess(account.ID, account.Username, account.Email)
	if err != nil {
		return domain.TokenPair{}, apperr.Internal(fmt.Errorf("issue access token: %w", err))
	}
	refresh, err := s.issuer.IssueRefresh(account.ID)
	if err != nil {
		return domain.TokenPair{}, apperr.Internal(fmt.Errorf("issue refresh token: %w", err))
	}
	return domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
