package api

import (
	"encoding/json"
	"net/http"

	"github.com/nova-gateway/gateway/internal/domain"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Secret   string `json:"secret" validate:"required"`
}

type loginResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   int             `json:"expires_in"`
	User        domain.Principal `json:"user"`
}

// handleLogin backs POST /auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, domain.ErrMalformed)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeGatewayError(w, domain.ErrMalformed)
		return
	}

	p, err := s.auth.VerifyCredentials(req.Username, req.Secret)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	token, claims, err := s.auth.IssueToken(p, s.tokenTTL)
	if err != nil {
		writeGatewayError(w, domain.Internal(err))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.tokenTTL.Seconds()),
		User:        domain.Principal{Username: claims.Username, Email: claims.Email, Tier: claims.Tier},
	})
}
