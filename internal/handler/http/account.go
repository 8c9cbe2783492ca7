package http

import (
	"net/http"

	"github.com/streamtube/account-service/internal/apperr"
	"github.com/streamtube/account-service/internal/service"
)

type updateDetailsRequest struct {
	FullName string `json:"fullName" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email"`
}

// AccountHandler serves the profile endpoints behind authentication.
type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

// CurrentUser handles GET /api/v1/users/current-user. The account was
// already loaded by the auth middleware.
func (h *AccountHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	if account == nil {
		respondError(w, r, apperr.Unauthorized("authentication required"))
		return
	}

	respond(w, http.StatusOK, "current account fetched successfully", account)
}

// UpdateDetails handles PUT /api/v1/users/update-account-details.
func (h *AccountHandler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	if account == nil {
		respondError(w, r, apperr.Unauthorized("authentication required"))
		return
	}

	var req updateDetailsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, r, validationError(err))
		return
	}

	updated, err := h.svc.UpdateDetails(r.Context(), account.ID, req.FullName, req.Email)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusOK, "account details updated successfully", updated)
}

// UpdateAvatar handles PUT /api/v1/users/update-avatar with a multipart
// avatar file.
func (h *AccountHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "avatar")
}

// UpdateCoverImage handles PUT /api/v1/users/update-cover-image with a
// multipart coverImage file.
func (h *AccountHandler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "coverImage")
}

func (h *AccountHandler) updateImage(w http.ResponseWriter, r *http.Request, field string) {
	account := AccountFromContext(r.Context())
	if account == nil {
		respondError(w, r, apperr.Unauthorized("authentication required"))
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, r, apperr.Validation("request must be multipart/form-data"))
		return
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		if field == "avatar" {
			respondError(w, r, apperr.MissingAsset("avatar"))
		} else {
			respondError(w, r, apperr.MissingAsset("cover image"))
		}
		return
	}
	defer closeFile(file)

	var updated any
	if field == "avatar" {
		updated, err = h.svc.UpdateAvatar(r.Context(), account.ID, header.Filename, file)
	} else {
		updated, err = h.svc.UpdateCoverImage(r.Context(), account.ID, header.Filename, file)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusOK, "account image updated successfully", updated)
}
