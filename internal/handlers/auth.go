package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/glimpse/backend/internal/auth"
	"github.com/glimpse/backend/internal/logging"
	"github.com/glimpse/backend/internal/models"
)

// AuthHandler implements user authentication endpoints.
type AuthHandler struct {
	Auth AuthService
}

// SignUp handles POST /api/v1/auth/signup requests.
func (h AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid signup payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	user, tokens, err := h.Auth.SignUp(ctx, req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.authError(w, r, "signup", err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, authResponse{User: &user, Tokens: tokens})
}

// Login handles POST /api/v1/auth/login requests.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid login payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "email and password are required"})
		return
	}

	user, tokens, err := h.Auth.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		h.authError(w, r, "login", err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, authResponse{User: &user, Tokens: tokens})
}

// Refresh exchanges a refresh token for a new session.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	tokens, err := h.Auth.Refresh(ctx, token)
	if err != nil {
		h.authError(w, r, "refresh", err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, authResponse{Tokens: tokens})
}

// Logout revokes a refresh token and ends the user's session state.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	if err := h.Auth.SignOut(r.Context(), token); err != nil {
		h.authError(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h AuthHandler) refreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid refresh payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return "", false
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "refresh token is required"})
		return "", false
	}
	return token, true
}

func (h AuthHandler) authError(w http.ResponseWriter, r *http.Request, action string, err error) {
	ctx := r.Context()
	status := http.StatusInternalServerError
	message := "authentication service unavailable"
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrEmailInUse):
		status, message = http.StatusConflict, "account already exists"
	case errors.Is(err, auth.ErrInvalidCredentials):
		status, message = http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, auth.ErrSessionNotFound), errors.Is(err, auth.ErrRefreshTokenExpired):
		status, message = http.StatusUnauthorized, "session expired"
	}
	logging.FromContext(ctx).Warn(action+" failed", "status", status, "error", err)
	respondJSON(ctx, w, status, map[string]string{"error": message})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	User   *models.User         `json:"user,omitempty"`
	Tokens models.SessionTokens `json:"tokens"`
}
