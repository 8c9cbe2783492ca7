package http

import (
	"mime/multipart"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/streamtube/account-service/internal/apperr"
	"github.com/streamtube/account-service/internal/domain"
	"github.com/streamtube/account-service/internal/service"
)

const maxUploadBytes = 16 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type registerRequest struct {
	Username string `validate:"required,min=3,max=30,alphanum"`
	Email    string `validate:"required,email"`
	FullName string `validate:"required,min=1,max=100"`
	Password string `validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

type loginResponse struct {
	Account      *domain.Account `json:"account"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
}

// AuthHandler serves registration, login, token rotation, and the other
// credential endpoints.
type AuthHandler struct {
	svc *service.AccountService
}

func NewAuthHandler(svc *service.AccountService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Register handles POST /api/v1/users/register. The body is multipart form
// data: text fields plus a mandatory avatar file and an optional coverImage.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, r, apperr.Validation("request must be multipart/form-data"))
		return
	}

	req := registerRequest{
		Username: r.FormValue("username"),
		Email:    r.FormValue("email"),
		FullName: r.FormValue("fullName"),
		Password: r.FormValue("password"),
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, r, validationError(err))
		return
	}

	in := service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	}

	avatar, avatarHeader, err := r.FormFile("avatar")
	if err == nil {
		defer closeFile(avatar)
		in.Avatar = avatar
		in.AvatarName = avatarHeader.Filename
	}

	cover, coverHeader, err := r.FormFile("coverImage")
	if err == nil {
		defer closeFile(cover)
		in.CoverImage = cover
		in.CoverImageName = coverHeader.Filename
	}

	account, err := h.svc.Register(r.Context(), in)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusCreated, "account registered successfully", account)
}

// Login handles POST /api/v1/users/login. It accepts a username or an email
// plus the password, sets both token cookies, and also returns the tokens in
// the body for non-browser clients.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Username == "" && req.Email == "" {
		respondError(w, r, apperr.Validation("username or email is required"))
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, r, validationError(err))
		return
	}

	result, err := h.svc.Login(r.Context(), service.LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	setAuthCookies(w, result.Tokens)
	respond(w, http.StatusOK, "logged in successfully", loginResponse{
		Account:      result.Account,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
	})
}

// Refresh handles POST /api/v1/users/refresh-token. The refresh token comes
// from the refreshToken cookie or, failing that, the JSON body.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := ""
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		token = cookie.Value
	}
	if token == "" && r.Body != nil {
		var req refreshRequest
		// A missing or malformed body is treated the same as no token.
		if err := decodeJSON(w, r, &req); err == nil {
			token = req.RefreshToken
		}
	}

	tokens, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		respondError(w, r, err)
		return
	}

	setAuthCookies(w, *tokens)
	respond(w, http.StatusOK, "access token refreshed", tokens)
}

// Logout handles DELETE /api/v1/users/logout. It clears the session slot and
// expires both cookies. Repeating the call is harmless.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	if account == nil {
		respondError(w, r, apperr.Unauthorized("authentication required"))
		return
	}

	if err := h.svc.Logout(r.Context(), account.ID); err != nil {
		respondError(w, r, err)
		return
	}

	clearAuthCookies(w)
	respond(w, http.StatusOK, "logged out successfully", nil)
}

// ChangePassword handles POST /api/v1/users/change-password. A successful
// change clears the session, so the client must log in again.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	if account == nil {
		respondError(w, r, apperr.Unauthorized("authentication required"))
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, r, validationError(err))
		return
	}

	if err := h.svc.ChangePassword(r.Context(), account.ID, req.OldPassword, req.NewPassword); err != nil {
		respondError(w, r, err)
		return
	}

	clearAuthCookies(w)
	respond(w, http.StatusOK, "password changed successfully", nil)
}

func closeFile(f multipart.File) {
	_ = f.Close()
}
