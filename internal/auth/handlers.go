package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/models"
)

const (
	msgSignupConfirm = "Sign up successful. Check your email to verify your account."
	msgSignedUp      = "Signup & signin successful"
	msgSignedIn      = "Signin successful"
	msgSignedOut     = "Signed out"
	msgResetSent     = "Password reset email sent! Please check your inbox and follow the instructions to reset your password."
	msgPasswordReset = "Password reset successful! Redirecting to login..."
	msgVerified      = "Email verified! Redirecting…"
	msgVerifyFailed  = "Verification failed. Please log in."
)

// RegisterRoutes mounts the /auth endpoints
func (c *Client) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/signup", c.Signup)
	mux.HandleFunc("POST /auth/signin", c.Signin)
	mux.HandleFunc("POST /auth/signout", c.Signout)
	mux.HandleFunc("POST /auth/reset-password", c.ResetPasswordHandler)
	mux.HandleFunc("POST /auth/update-password", c.UpdatePasswordHandler)
	mux.HandleFunc("GET /auth/callback", c.Callback)
	mux.HandleFunc("POST /auth/callback", c.Callback)
}

func (c *Client) Signup(w http.ResponseWriter, r *http.Request) {
	var req models.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := c.SignUp(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrDomainNotAllowed):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res := models.AuthResponse{Message: msgSignupConfirm}
	if sess != nil {
		res = models.AuthResponse{Message: msgSignedUp, Session: toResponse(sess)}
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *Client) Signin(w http.ResponseWriter, r *http.Request) {
	var req models.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := c.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Signin failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.AuthResponse{Message: msgSignedIn, Session: toResponse(sess)})
}

func (c *Client) Signout(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := c.SignOut(r.Context(), token); err != nil {
		c.logger.Warn("signout failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.AuthResponse{Message: msgSignedOut})
}

func (c *Client) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	if err := c.ResetPassword(r.Context(), req.Email); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.AuthResponse{Message: msgResetSent})
}

// UpdatePasswordHandler expects the recovery token from the reset link as
// the bearer token
func (c *Client) UpdatePasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req models.UpdatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := c.UpdatePassword(r.Context(), BearerToken(r), req.Password, req.ConfirmPassword)
	switch {
	case errors.Is(err, ErrInvalidResetLink):
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	case errors.Is(err, ErrPasswordMismatch), errors.Is(err, ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.AuthResponse{Message: msgPasswordReset})
}

// Callback finishes email verification. GET takes code and code_verifier
// from the query, POST from a JSON body
func (c *Client) Callback(w http.ResponseWriter, r *http.Request) {
	var req models.CallbackRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		req.Code = r.URL.Query().Get("code")
		req.CodeVerifier = r.URL.Query().Get("code_verifier")
	}

	if req.Code == "" {
		writeError(w, http.StatusBadRequest, msgVerifyFailed)
		return
	}

	sess, err := c.ExchangeCode(r.Context(), req.Code, req.CodeVerifier)
	if err != nil {
		c.logger.Info("code exchange failed", zap.Error(err))
		writeError(w, http.StatusUnauthorized, msgVerifyFailed)
		return
	}
	writeJSON(w, http.StatusOK, models.AuthResponse{Message: msgVerified, Session: toResponse(sess)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
