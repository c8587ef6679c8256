// Package auth implements C7: the principal store and the two verification
// paths (API key, bearer token) the gateway accepts.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nova-gateway/gateway/internal/domain"
)

// Store holds the read-only-after-startup principal catalogue and signs
// session tokens with a process-local symmetric secret.
type Store struct {
	secret     []byte
	byUsername map[string]domain.Principal
	byAPIKey   map[string]domain.Principal
}

// New constructs a Store over a fixed set of principals.
func New(secret []byte, principals []domain.Principal) *Store {
	s := &Store{
		secret:     secret,
		byUsername: make(map[string]domain.Principal, len(principals)),
		byAPIKey:   make(map[string]domain.Principal, len(principals)),
	}
	for _, p := range principals {
		s.byUsername[p.Username] = p
		s.byAPIKey[p.APIKey] = p
	}
	return s
}

// ByAPIKey looks up a principal by exact API key match.
func (s *Store) ByAPIKey(key string) (domain.Principal, bool) {
	p, ok := s.byAPIKey[key]
	return p, ok
}

// ByUsername looks up a principal by username.
func (s *Store) ByUsername(username string) (domain.Principal, bool) {
	p, ok := s.byUsername[username]
	return p, ok
}

// VerifyCredentials is the password-verification seam. The core leaves the
// real implementation out of scope; this demo-mode hook accepts any
// non-empty secret for a known username.
func (s *Store) VerifyCredentials(username, secret string) (domain.Principal, error) {
	p, ok := s.byUsername[username]
	if !ok {
		return domain.Principal{}, domain.ErrUnauthorised
	}
	if secret == "" {
		return domain.Principal{}, domain.ErrUnauthorised
	}
	return p, nil
}

type claims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Tier     string `json:"tier"`
	jwt.RegisteredClaims
}

// IssueToken signs a new session token for p, valid for lifetime.
func (s *Store) IssueToken(p domain.Principal, lifetime time.Duration) (string, domain.TokenClaims, error) {
	expiresAt := time.Now().Add(lifetime)
	tc := domain.TokenClaims{Username: p.Username, Email: p.Email, Tier: p.Tier, ExpiresAt: expiresAt}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: p.Username,
		Email:    p.Email,
		Tier:     string(p.Tier),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", domain.TokenClaims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, tc, nil
}

// VerifyToken verifies signature and expiry, returning the embedded claims.
// Expiry is strict-less-than: a token valid at exactly its expiry instant
// is rejected as expired. Claims validation (including jwt/v5's own exp
// check) is disabled here and done exclusively below, so an expired token
// maps to ErrTokenExpired rather than being swallowed into ErrTokenInvalid
// by the library's own parse-time rejection.
func (s *Store) VerifyToken(tokenString string) (domain.TokenClaims, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())

	if err != nil || !token.Valid {
		return domain.TokenClaims{}, domain.ErrTokenInvalid
	}

	tc := domain.TokenClaims{
		Username:  c.Username,
		Email:     c.Email,
		Tier:      domain.Tier(c.Tier),
		ExpiresAt: c.ExpiresAt.Time,
	}
	if tc.Expired(time.Now()) {
		return domain.TokenClaims{}, domain.ErrTokenExpired
	}
	return tc, nil
}

// Authenticate tries the API key path then the bearer token path, in that
// order, per the specification.
func (s *Store) Authenticate(apiKey, bearerToken string) (domain.Principal, error) {
	if apiKey != "" {
		if p, ok := s.ByAPIKey(apiKey); ok {
			return p, nil
		}
	}
	if bearerToken != "" {
		claims, err := s.VerifyToken(bearerToken)
		if err != nil {
			return domain.Principal{}, err
		}
		p, ok := s.ByUsername(claims.Username)
		if !ok {
			return domain.Principal{}, domain.ErrUnauthorised
		}
		return p, nil
	}
	return domain.Principal{}, domain.ErrUnauthorised
}
