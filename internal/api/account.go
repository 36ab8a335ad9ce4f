package api

import (
	"errors"
	"net/http"

	"github.com/tahcohcat/fishtrip-achievements/internal/models"
	"github.com/tahcohcat/fishtrip-achievements/internal/services"
)

// POST /register - Create an account and sign it in
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.users.CreateUser(r.Context(), &req)
	if errors.Is(err, services.ErrUserExists) {
		WriteProblem(w, http.StatusConflict, "user exists", err.Error(), nil)
		return
	}
	if err != nil {
		h.internalError(w, err, "Failed to create user")
		return
	}

	// New accounts start with every achievement visible at zero progress.
	if _, err := h.achievements.InitializeUser(r.Context(), user.ID); err != nil {
		h.logger.WithField("user", user.ID).WithError(err).Warn("Failed to initialize achievements for new user")
	}

	if err := h.sessions.SignIn(w, r, user.ID); err != nil {
		h.internalError(w, err, "Failed to start session")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "user": user})
}

// POST /login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.users.AuthenticateUser(r.Context(), &req)
	if err != nil {
		WriteProblem(w, http.StatusUnauthorized, "invalid credentials", "username or password is incorrect", nil)
		return
	}
	if err := h.sessions.SignIn(w, r, user.ID); err != nil {
		h.internalError(w, err, "Failed to start session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": user})
}

// POST /logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(w, r); err != nil {
		h.internalError(w, err, "Failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
