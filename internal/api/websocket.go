package api

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/nova-gateway/gateway/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsInbound struct {
	Query     string `json:"query"`
	MaxTokens int    `json:"max_tokens"`
}

type wsFrame struct {
	Type   string        `json:"type"`
	Result *domain.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
	Kind   string        `json:"kind,omitempty"`
}

// handleWebSocket backs WS /ws?token=…. The token is verified once at
// accept time; every inbound message is rate-limit admitted before
// dispatch to the router. Disconnect cancels any in-flight fan-out for
// this connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	claims, err := s.auth.VerifyToken(token)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	principal, ok := s.auth.ByUsername(claims.Username)
	if !ok {
		writeGatewayError(w, domain.ErrUnauthorised)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// A dedicated reader keeps reading while a message is being routed, so a
	// disconnect is observed even mid fan-out.
	inbound := make(chan wsInbound)
	go func() {
		defer close(inbound)
		for {
			var in wsInbound
			if err := conn.ReadJSON(&in); err != nil {
				cancel() // observed disconnect: cancel any in-flight fan-out
				return
			}
			select {
			case inbound <- in:
			case <-ctx.Done():
				return
			}
		}
	}()

	for in := range inbound {
		if in.MaxTokens == 0 {
			in.MaxTokens = 512
		}

		ok, remaining, retryAfterS := s.ratelimit.Admit(principal.Username, principal.Tier)
		if !ok {
			ge := domain.RateLimited(remaining, retryAfterS)
			_ = conn.WriteJSON(wsFrame{Type: "error", Error: ge.Error(), Kind: string(ge.Kind)})
			continue
		}

		result, err := s.router.Route(ctx, in.Query, in.MaxTokens)
		if err != nil {
			ge := domain.AsGatewayError(err)
			_ = conn.WriteJSON(wsFrame{Type: "error", Error: ge.Error(), Kind: string(ge.Kind)})
			continue
		}
		if err := conn.WriteJSON(wsFrame{Type: "result", Result: &result}); err != nil {
			return
		}
	}
}
