package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"switchboard/internal/content"
	"switchboard/internal/models"
)

type ProfileStore interface {
	UpsertUser(profile models.Profile) error
	UpsertCompany(profile models.Profile) error
}

type tokenIssuer interface {
	Issue(p models.Principal) (string, time.Time, error)
}

// AdminHandler serves the operator surface. It is only reachable on the
// admin listener and carries no authentication of its own.
type AdminHandler struct {
	issuer tokenIssuer
	store  ProfileStore
	log    *slog.Logger
}

func NewAdminHandler(issuer tokenIssuer, store ProfileStore, log *slog.Logger) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{issuer: issuer, store: store, log: log.With("component", "admin")}
}

type ProfileRequest struct {
	ID    string `json:"id" validate:"required,id"`
	Name  string `json:"name" validate:"required,max=200"`
	Image string `json:"image,omitempty" validate:"omitempty,url"`
}

func decodeProfile(w http.ResponseWriter, r *http.Request) (models.Profile, bool) {
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return models.Profile{}, false
	}
	req.Name = content.Sanitize(req.Name)
	if err := content.Validate(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return models.Profile{}, false
	}
	return models.Profile{ID: req.ID, Name: req.Name, Image: req.Image}, true
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	profile, ok := decodeProfile(w, r)
	if !ok {
		return
	}
	if err := h.store.UpsertUser(profile); err != nil {
		h.log.Error("failed to store user", "user_id", profile.ID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create user: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, models.APIResponse{
		Message: fmt.Sprintf("User %s saved", profile.ID),
		Data:    profile,
	})
}

func (h *AdminHandler) AddCompanyHandler(w http.ResponseWriter, r *http.Request) {
	profile, ok := decodeProfile(w, r)
	if !ok {
		return
	}
	if err := h.store.UpsertCompany(profile); err != nil {
		h.log.Error("failed to store company", "company_id", profile.ID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create company: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, models.APIResponse{
		Message: fmt.Sprintf("Company %s saved", profile.ID),
		Data:    profile,
	})
}

func (h *AdminHandler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := content.Validate(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}

	token, expiresAt, err := h.issuer.Issue(models.Principal{ID: req.ID, Role: req.Role})
	if err != nil {
		h.log.Error("failed to issue token", "principal_id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{
		Data: models.TokenResponse{Token: token, ExpiresAt: expiresAt},
	})
}
