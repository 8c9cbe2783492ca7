package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamtube/account-service/internal/apperr"
	"github.com/streamtube/account-service/internal/auth"
	"github.com/streamtube/account-service/internal/domain"
	"github.com/streamtube/account-service/internal/health"
	"github.com/streamtube/account-service/internal/service"
)

// memRepo is an in-memory account repository for end-to-end handler tests.
type memRepo struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
}

func newMemRepo() *memRepo {
	return &memRepo{accounts: make(map[string]*domain.Account)}
}

func (r *memRepo) Create(_ context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Username == a.Username || existing.Email == a.Email {
			return apperr.Conflict("account with this username or email already exists")
		}
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) GetByUsernameOrEmail(_ context.Context, username, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Username == username || a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (r *memRepo) Update(_ context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.ID]; !ok {
		return apperr.NotFound("account")
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

// memSessions is an in-memory single-slot session store.
type memSessions struct {
	mu    sync.Mutex
	slots map[string]string
}

func newMemSessions() *memSessions {
	return &memSessions{slots: make(map[string]string)}
}

func (s *memSessions) Install(_ context.Context, accountID, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[accountID] = digest
	return nil
}

func (s *memSessions) Replace(_ context.Context, accountID, currentDigest, nextDigest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots[accountID] != currentDigest {
		return apperr.ErrSessionConflict
	}
	s.slots[accountID] = nextDigest
	return nil
}

func (s *memSessions) Get(_ context.Context, accountID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[accountID], nil
}

func (s *memSessions) Clear(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, accountID)
	return nil
}

type fakeUploader struct{}

func (fakeUploader) Upload(_ context.Context, kind, filename string, _ io.Reader) (string, error) {
	return fmt.Sprintf("https://cdn.example.com/%s/%s", kind, filename), nil
}

type noopEvents struct{}

func (noopEvents) AccountRegistered(context.Context, *domain.Account) {}
func (noopEvents) AccountUpdated(context.Context, string, []string)   {}
func (noopEvents) PasswordChanged(context.Context, string)            {}

type apiFixture struct {
	router *chi.Mux
	issuer *auth.TokenIssuer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	issuer := auth.NewTokenIssuer(
		"test-access-secret-0123456789abcdef",
		"test-refresh-secret-0123456789abcdef",
		15*time.Minute, time.Hour,
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := service.NewAccountService(
		newMemRepo(),
		newMemSessions(),
		auth.NewPasswordHasherWithCost(4),
		issuer,
		fakeUploader{},
		noopEvents{},
		logger,
	)

	router := NewRouter(RouterConfig{
		Service:        svc,
		Issuer:         issuer,
		Health:         health.NewHandler(),
		Logger:         logger,
		AllowedOrigins: []string{"https://app.example.com"},
	})

	return &apiFixture{router: router, issuer: issuer}
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func multipartRegister(t *testing.T, fields map[string]string, withAvatar bool) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withAvatar {
		part, err := mw.CreateFormFile("avatar", "avatar.png")
		require.NoError(t, err)
		_, err = part.Write([]byte("fake png bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	return &buf, mw.FormDataContentType()
}

func (f *apiFixture) register(t *testing.T) {
	t.Helper()

	body, contentType := multipartRegister(t, map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"fullName": "Alice Adams",
		"password": "password123",
	}, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", contentType)
	rec := f.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *apiFixture) login(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login",
		strings.NewReader(`{"username":"alice","password":"password123"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec
}

func cookieByName(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegisterEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	body, contentType := multipartRegister(t, map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"fullName": "Alice Adams",
		"password": "password123",
	}, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", contentType)
	rec := f.do(req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var envelope struct {
		StatusCode int             `json:"statusCode"`
		Data       json.RawMessage `json:"data"`
		Message    string          `json:"message"`
		Success    bool            `json:"success"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, http.StatusCreated, envelope.StatusCode)
	assert.True(t, envelope.Success)

	// No password material and no tokens in the response.
	assert.NotContains(t, string(envelope.Data), "password")
	assert.NotContains(t, rec.Body.String(), "accessToken")
	assert.Empty(t, rec.Result().Cookies())
}

func TestRegisterEndpoint_MissingAvatar(t *testing.T) {
	f := newAPIFixture(t)

	body, contentType := multipartRegister(t, map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"fullName": "Alice Adams",
		"password": "password123",
	}, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", contentType)
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "avatar file is required")
}

func TestRegisterEndpoint_ValidationFailure(t *testing.T) {
	f := newAPIFixture(t)

	body, contentType := multipartRegister(t, map[string]string{
		"username": "al",
		"email":    "not-an-email",
		"fullName": "Alice Adams",
		"password": "short",
	}, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", contentType)
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope struct {
		StatusCode int      `json:"statusCode"`
		Data       any      `json:"data"`
		Errors     []string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Nil(t, envelope.Data)
	assert.NotEmpty(t, envelope.Errors)
}

func TestRegisterEndpoint_DuplicateUsername(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)

	body, contentType := multipartRegister(t, map[string]string{
		"username": "alice",
		"email":    "other@example.com",
		"fullName": "Other Alice",
		"password": "password123",
	}, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", contentType)
	rec := f.do(req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)

	rec := f.login(t)

	access := cookieByName(t, rec, "accessToken")
	refresh := cookieByName(t, rec, "refreshToken")
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, "/", access.Path)

	claims, err := f.issuer.VerifyAccess(access.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
}

func TestLoginEndpoint_WrongPassword(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login",
		strings.NewReader(`{"username":"alice","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginEndpoint_MissingIdentifier(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login",
		strings.NewReader(`{"password":"password123"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "username or email is required")
}

func TestLoginEndpoint_UnknownAccount(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login",
		strings.NewReader(`{"username":"ghost","password":"password123"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshEndpoint_RotatesTokens(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	loginRec := f.login(t)
	refresh := cookieByName(t, loginRec, "refreshToken")
	require.NotNil(t, refresh)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token", nil)
	req.AddCookie(refresh)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rotated := cookieByName(t, rec, "refreshToken")
	require.NotNil(t, rotated)
	assert.NotEqual(t, refresh.Value, rotated.Value)

	// The old token was rotated out: replaying it is rejected.
	replay := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token", nil)
	replay.AddCookie(refresh)
	replayRec := f.do(replay)
	assert.Equal(t, http.StatusUnauthorized, replayRec.Code)
}

func TestSecondLoginInvalidatesFirstSession(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)

	firstLogin := f.login(t)
	firstRefresh := cookieByName(t, firstLogin, "refreshToken")
	require.NotNil(t, firstRefresh)

	secondLogin := f.login(t)
	secondRefresh := cookieByName(t, secondLogin, "refreshToken")
	require.NotNil(t, secondRefresh)

	// The first device's refresh token was overwritten by the second login.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token", nil)
	req.AddCookie(firstRefresh)
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)
}

func TestRefreshEndpoint_TokenFromBody(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	loginRec := f.login(t)
	refresh := cookieByName(t, loginRec, "refreshToken")
	require.NotNil(t, refresh)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token",
		strings.NewReader(fmt.Sprintf(`{"refreshToken":%q}`, refresh.Value)))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRefreshEndpoint_NoToken(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token", nil)
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedEndpoint_CookieAuth(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	loginRec := f.login(t)
	access := cookieByName(t, loginRec, "accessToken")
	require.NotNil(t, access)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil)
	req.AddCookie(access)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"username":"alice"`)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestProtectedEndpoint_BearerAuth(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	loginRec := f.login(t)
	access := cookieByName(t, loginRec, "accessToken")
	require.NotNil(t, access)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil)
	req.Header.Set("Authorization", "Bearer "+access.Value)
	rec := f.do(req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestProtectedEndpoint_NoToken(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil)
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedEndpoint_ForgedToken(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)

	forger := auth.NewTokenIssuer(
		"attacker-access-secret-0123456789ab",
		"attacker-refresh-secret-0123456789a",
		15*time.Minute, time.Hour,
	)
	forged, err := forger.IssueAccess("acc-1", "alice", "alice@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	loginRec := f.login(t)
	access := cookieByName(t, loginRec, "accessToken")
	refresh := cookieByName(t, loginRec, "refreshToken")
	require.NotNil(t, access)
	require.NotNil(t, refresh)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/logout", nil)
	req.AddCookie(access)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge)
		assert.Empty(t, c.Value)
	}

	// The refresh token no longer works after logout.
	refreshReq := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token", nil)
	refreshReq.AddCookie(refresh)
	refreshRec := f.do(refreshReq)
	assert.Equal(t, http.StatusUnauthorized, refreshRec.Code)

	// Logging out again with a still-valid access token is harmless.
	again := httptest.NewRequest(http.MethodDelete, "/api/v1/users/logout", nil)
	again.AddCookie(access)
	assert.Equal(t, http.StatusOK, f.do(again).Code)
}

func TestChangePasswordEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	loginRec := f.login(t)
	access := cookieByName(t, loginRec, "accessToken")
	refresh := cookieByName(t, loginRec, "refreshToken")
	require.NotNil(t, access)
	require.NotNil(t, refresh)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/change-password",
		strings.NewReader(`{"oldPassword":"password123","newPassword":"even-better-password"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(access)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The session was cleared, so the old refresh token is dead.
	refreshReq := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token", nil)
	refreshReq.AddCookie(refresh)
	assert.Equal(t, http.StatusUnauthorized, f.do(refreshReq).Code)

	// Old password no longer logs in; the new one does.
	badLogin := httptest.NewRequest(http.MethodPost, "/api/v1/users/login",
		strings.NewReader(`{"username":"alice","password":"password123"}`))
	badLogin.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, f.do(badLogin).Code)

	goodLogin := httptest.NewRequest(http.MethodPost, "/api/v1/users/login",
		strings.NewReader(`{"username":"alice","password":"even-better-password"}`))
	goodLogin.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusOK, f.do(goodLogin).Code)
}

func TestChangePasswordEndpoint_WrongOldPassword(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	loginRec := f.login(t)
	access := cookieByName(t, loginRec, "accessToken")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/change-password",
		strings.NewReader(`{"oldPassword":"wrong","newPassword":"even-better-password"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(access)
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "old password is incorrect")
}

func TestUpdateDetailsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	loginRec := f.login(t)
	access := cookieByName(t, loginRec, "accessToken")

	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/update-account-details",
		strings.NewReader(`{"fullName":"Alice B. Adams","email":"alice.b@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(access)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Alice B. Adams")
	assert.Contains(t, rec.Body.String(), "alice.b@example.com")
}

func TestUpdateAvatarEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	loginRec := f.login(t)
	access := cookieByName(t, loginRec, "accessToken")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("avatar", "new-avatar.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("new png bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/update-avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(access)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "https://cdn.example.com/avatar/new-avatar.png")
}

func TestUpdateAvatarEndpoint_MissingFile(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	loginRec := f.login(t)
	access := cookieByName(t, loginRec, "accessToken")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("unrelated", "field"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/update-avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(access)
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "avatar file is required")
}

func TestErrorEnvelopeShape(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil)
	rec := f.do(req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Contains(t, envelope, "statusCode")
	assert.Contains(t, envelope, "message")
	assert.Contains(t, envelope, "error")
	assert.Equal(t, "null", string(envelope["data"]))
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/users/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := f.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSUnknownOrigin(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login",
		strings.NewReader(`{"username":"alice","password":"password123"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example.com")
	rec := f.do(req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	live := f.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, live.Code)

	ready := f.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, ready.Code)
}
