package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"treasury-service/internal/authz"
)

type contextKey int

const (
	principalKey contextKey = iota
	requestIDKey
)

// Claims is the token payload issued by the identity provider.
type Claims struct {
	Email    string  `json:"email"`
	Role     string  `json:"role"`
	ChurchID int64   `json:"church_id,omitempty"`
	FundIDs  []int64 `json:"fund_ids,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and attaches the principal to
// the request context.
type Authenticator struct {
	secret []byte
	logger *zap.Logger
}

func NewAuthenticator(secret string, logger *zap.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), logger: logger}
}

// Middleware rejects requests carrying an invalid token. Requests without a
// token pass through with no principal and are refused by the services.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			respondWithError(w, http.StatusUnauthorized, "unauthenticated", "authorization header must be a bearer token")
			return
		}
		principal, err := a.Verify(raw)
		if err != nil {
			a.logger.Debug("token rejected", zap.String("request_id", requestIDFrom(r.Context())), zap.Error(err))
			respondWithError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
	})
}

// Verify parses a signed token into a principal.
func (a *Authenticator) Verify(raw string) (*authz.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	role, err := authz.ParseRole(claims.Role)
	if err != nil {
		return nil, err
	}
	return &authz.Principal{
		ID:       claims.Subject,
		Email:    claims.Email,
		Role:     role,
		ChurchID: claims.ChurchID,
		FundIDs:  claims.FundIDs,
	}, nil
}

// Sign issues a token for p valid for ttl. Used by local tooling and tests;
// production tokens come from the identity provider.
func (a *Authenticator) Sign(p *authz.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:    p.Email,
		Role:     p.Role.String(),
		ChurchID: p.ChurchID,
		FundIDs:  p.FundIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// principalFrom returns the verified principal of the request, or nil.
func principalFrom(ctx context.Context) *authz.Principal {
	p, _ := ctx.Value(principalKey).(*authz.Principal)
	return p
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
