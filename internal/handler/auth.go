package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/db"
	"github.com/jharjadi/pro-rag/answer-api-go/internal/model"
	"github.com/jharjadi/pro-rag/answer-api-go/internal/service"
)

// ClientLookup finds API clients by id.
type ClientLookup interface {
	LookupClient(ctx context.Context, clientID string) (*model.APIClient, error)
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	clients ClientLookup
	authSvc *service.AuthService
}

// NewAuthHandler creates a new AuthHandler. clients may be nil, in which
// case token exchange is unavailable.
func NewAuthHandler(clients ClientLookup, authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{
		clients: clients,
		authSvc: authSvc,
	}
}

// tokenRequest is the POST /v1/auth/token request body.
type tokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// tokenResponse is the POST /v1/auth/token response body.
type tokenResponse struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
	Role     string `json:"role"`
}

// Token handles POST /v1/auth/token.
// Validates an API key against the api_clients table and returns a signed JWT.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.clients == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "token exchange requires DATABASE_URL")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if req.ClientID == "" || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "client_id and api_key are required")
		return
	}

	client, err := h.clients.LookupClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, db.ErrClientNotFound) {
			// Don't reveal whether the client exists
			slog.Debug("token exchange failed: client not found", "client_id", req.ClientID)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid client credentials")
			return
		}
		slog.Error("token exchange: database error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "authentication failed")
		return
	}

	if !client.IsActive {
		slog.Debug("token exchange failed: client deactivated", "client_id", req.ClientID)
		writeError(w, http.StatusUnauthorized, "unauthorized", "client is deactivated")
		return
	}

	if err := h.authSvc.CheckAPIKey(client.KeyHash, req.APIKey); err != nil {
		slog.Debug("token exchange failed: wrong api key", "client_id", req.ClientID)
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid client credentials")
		return
	}

	token, err := h.authSvc.SignToken(client.ClientID, client.Role)
	if err != nil {
		slog.Error("token exchange: failed to sign token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "authentication failed")
		return
	}

	slog.Info("client token issued",
		"event", "client_token",
		"client_id", client.ClientID,
		"role", client.Role,
	)

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:    token,
		ClientID: client.ClientID,
		Role:     client.Role,
	})
}
