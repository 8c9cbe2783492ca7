package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/streamtube/account-service/internal/apperr"
	"github.com/streamtube/account-service/internal/auth"
	"github.com/streamtube/account-service/internal/domain"
	"github.com/streamtube/account-service/internal/logging"
	"github.com/streamtube/account-service/internal/service"
)

type contextKey string

const accountContextKey contextKey = "account"

// AccountFromContext returns the authenticated account attached by
// RequireAuth, or nil outside the protected route group.
func AccountFromContext(ctx context.Context) *domain.Account {
	if acc, ok := ctx.Value(accountContextKey).(*domain.Account); ok {
		return acc
	}
	return nil
}

// RequireAuth verifies the access token and loads the account it names. The
// accessToken cookie is checked first; the Authorization Bearer header is a
// fallback for non-browser clients. Every failure mode is a plain 401, so
// callers cannot probe which accounts exist.
func RequireAuth(issuer *auth.TokenIssuer, svc *service.AccountService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractAccessToken(r)
			if token == "" {
				respondError(w, r, apperr.Unauthorized("authentication required"))
				return
			}

			claims, err := issuer.VerifyAccess(token)
			if err != nil {
				respondError(w, r, apperr.Unauthorized("access token is expired or invalid"))
				return
			}

			account, err := svc.GetAccount(r.Context(), claims.AccountID)
			if err != nil {
				respondError(w, r, apperr.Unauthorized("access token is expired or invalid"))
				return
			}

			ctx := context.WithValue(r.Context(), accountContextKey, account)
			ctx = logging.WithAccountID(ctx, account.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(accessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// CORS answers preflight requests and sets the allow headers for the
// configured origins. An empty origin list disables cross-origin access.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
