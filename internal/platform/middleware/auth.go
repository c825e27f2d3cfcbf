package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
	"cardgate/pkg/platform/httputil"
)

// JWTValidator defines the interface for validating bearer tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator.
type JWTClaims struct {
	MemberID string
}

type contextKeyMemberID struct{}

// ContextKeyMemberID is exported for tests that build contexts directly.
var ContextKeyMemberID = contextKeyMemberID{}

// GetMemberID retrieves the authenticated member ID from the context. Returns
// the nil ID when no member is authenticated.
func GetMemberID(ctx context.Context) id.MemberID {
	memberID, ok := ctx.Value(ContextKeyMemberID).(id.MemberID)
	if !ok {
		return id.MemberID{}
	}
	return memberID
}

// WithMemberID injects a member ID into the context. Test helper for handlers
// exercised without the full middleware chain.
func WithMemberID(ctx context.Context, memberID id.MemberID) context.Context {
	return context.WithValue(ctx, ContextKeyMemberID, memberID)
}

// RequireAuth rejects requests without a valid bearer token and puts the
// member ID in context for handlers.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access, missing token",
					"request_id", GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access, invalid token",
					"request_id", GetRequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}
			memberID, err := id.ParseMemberID(claims.MemberID)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access, malformed member claim",
					"request_id", GetRequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithMemberID(ctx, memberID)))
		})
	}
}

// RequireSystemKey guards service-credential endpoints with a shared secret in
// the X-System-Key header.
func RequireSystemKey(systemKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-System-Key")
			if systemKey == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(systemKey)) != 1 {
				logger.WarnContext(r.Context(), "unauthorized system access",
					"request_id", GetRequestID(r.Context()),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid system key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
