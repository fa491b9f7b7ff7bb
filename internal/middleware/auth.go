// Package middleware provides HTTP middleware for the ledger service
package middleware

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/errors"
	"github.com/R3E-Network/token_ledger/internal/httputil"
	"github.com/R3E-Network/token_ledger/internal/logging"
	"github.com/R3E-Network/token_ledger/internal/token"
)

// Claims represents JWT claims. NeoAddress identifies the ledger caller.
type Claims struct {
	NeoAddress string `json:"neo_address"`
	jwt.RegisteredClaims
}

type callerKey struct{}

// WithCaller stores the authenticated account in ctx.
func WithCaller(ctx context.Context, caller util.Uint160) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Caller returns the authenticated account, if any.
func Caller(ctx context.Context) (util.Uint160, bool) {
	caller, ok := ctx.Value(callerKey{}).(util.Uint160)
	return caller, ok && !token.IsNull(caller)
}

// AuthMiddleware provides JWT authentication
type AuthMiddleware struct {
	publicKey *rsa.PublicKey
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(publicKey *rsa.PublicKey, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		publicKey: publicKey,
		logger:    logger,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, errors.Unauthenticated("missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			m.respondError(w, r, errors.Unauthenticated("invalid Authorization header format"))
			return
		}

		claims, caller, err := m.validateToken(parts[1])
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := WithCaller(r.Context(), caller)
		ctx = logging.WithUserID(ctx, claims.NeoAddress)

		m.logger.WithContext(ctx).WithField("caller", claims.NeoAddress).Debug("Authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validateToken verifies an RS* token and decodes its caller.
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, util.Uint160, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", t.Header["alg"])
		}
		return m.publicKey, nil
	})
	if err != nil {
		return nil, token.Null, errors.InvalidToken(err)
	}
	if !parsed.Valid {
		return nil, token.Null, errors.InvalidToken(nil)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, token.Null, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}

	caller, err := token.ParseAccount(claims.NeoAddress)
	if err != nil || token.IsNull(caller) {
		return nil, token.Null, errors.InvalidToken(err).WithDetails("reason", "neo_address claim is missing or invalid")
	}
	return claims, caller, nil
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("authentication failed", err)
	}

	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
		"error":  err.Error(),
	})
}

// RequireCaller rejects requests that reached it without an authenticated
// caller.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := Caller(r.Context()); !ok {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
