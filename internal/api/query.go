package api

import (
	"encoding/json"
	"net/http"

	"github.com/nova-gateway/gateway/internal/domain"
)

type queryRequest struct {
	Query     string `json:"query" validate:"required"`
	MaxTokens int    `json:"max_tokens"`
	Stream    bool   `json:"stream"`
}

// handleQuery backs POST /v1/query: the full C4 dispatch.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, domain.ErrMalformed)
		return
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 512
	}
	if err := s.validate.Struct(req); err != nil {
		writeGatewayError(w, domain.ErrMalformed)
		return
	}

	result, err := s.router.Route(r.Context(), req.Query, req.MaxTokens)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type analyzeRequest struct {
	Query string `json:"query" validate:"required"`
}

// handleAnalyze backs POST /v1/analyze: analysis and decision only, no
// dispatch.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, domain.ErrMalformed)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeGatewayError(w, domain.ErrMalformed)
		return
	}

	analysis, decision := s.router.Analyse(req.Query)
	writeJSON(w, http.StatusOK, map[string]any{
		"query_analysis":  analysis,
		"routing_decision": decision,
	})
}
