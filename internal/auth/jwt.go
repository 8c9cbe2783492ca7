package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "account-service"

// Token verification failure modes. Both are terminal for the current
// request; callers map them to 401 and never retry.
var (
	// ErrTokenExpired indicates a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid indicates a malformed token or a bad signature.
	ErrTokenInvalid = errors.New("token invalid")
)

// AccessClaims are the claims carried by a short-lived access token.
type AccessClaims struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims carried by a long-lived refresh token. Only
// the account identifier is embedded, to limit blast radius if a token is
// replayed before revocation.
type RefreshClaims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies access and refresh tokens. Access and
// refresh tokens use distinct secrets so one kind never validates as the
// other.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewTokenIssuer creates a token issuer with the given secrets and lifetimes.
func NewTokenIssuer(accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// IssueAccess creates a signed access token carrying accountID, username, and email.
func (t *TokenIssuer) IssueAccess(accountID, username, email string) (string, error) {
	now := time.Now().UTC()
	claims := &AccessClaims{
		AccountID: accountID,
		Username:  username,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessExpiry)),
			Issuer:    issuer,
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

// IssueRefresh creates a signed refresh token carrying only the accountID.
func (t *TokenIssuer) IssueRefresh(accountID string) (string, error) {
	now := time.Now().UTC()
	claims := &RefreshClaims{
		AccountID: accountID,
		// The jti makes every minted token unique even within the same
		// second, so rotation always produces a fresh digest.
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.refreshExpiry)),
			Issuer:    issuer,
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}

	return signed, nil
}

// VerifyAccess checks signature and expiry of an access token and returns
// its claims. Returns ErrTokenExpired or ErrTokenInvalid.
func (t *TokenIssuer) VerifyAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, t.keyFunc(t.accessSecret))
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// VerifyRefresh checks signature and expiry of a refresh token and returns
// its claims. Returns ErrTokenExpired or ErrTokenInvalid.
func (t *TokenIssuer) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, t.keyFunc(t.refreshSecret))
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// RefreshExpiry exposes the refresh token lifetime so stores can align TTLs.
func (t *TokenIssuer) RefreshExpiry() time.Duration {
	return t.refreshExpiry
}

func (t *TokenIssuer) keyFunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}
}

func classify(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
}
