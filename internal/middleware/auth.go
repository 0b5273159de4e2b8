package middleware

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/pocketledger/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey is the context key for the external user id of a verified token.
	UserIDKey contextKey = "user_id"
	// EmailKey is the context key for the verified user's email.
	EmailKey contextKey = "email"
	// TokenKey is the context key for the raw token, forwarded to the replicator.
	TokenKey contextKey = "token"
)

// GetUserID extracts the user ID from the context.
// Returns empty string if not found.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// GetEmail extracts the user email from the context.
func GetEmail(ctx context.Context) string {
	email, _ := ctx.Value(EmailKey).(string)
	return email
}

// AuthState returns the auth provider state and credentials proven by the
// request, or auth.SignedOut.
func AuthState(ctx context.Context) (auth.State, auth.Credentials) {
	userID := GetUserID(ctx)
	if userID == "" {
		return auth.SignedOut, auth.Credentials{}
	}
	token, _ := ctx.Value(TokenKey).(string)
	return auth.State{IsSignedIn: true, ExternalUserID: userID}, auth.Credentials{Token: token}
}

// bearerToken returns the token of an "Authorization: Bearer <token>"
// header. ok is false when the header is absent.
func bearerToken(header string) (token string, ok bool, err error) {
	if header == "" {
		return "", false, nil
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", true, auth.ErrInvalidToken
	}
	return parts[1], true, nil
}

func withClaims(ctx context.Context, claims *auth.Claims, token string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, claims.UserID())
	ctx = context.WithValue(ctx, EmailKey, claims.Email)
	return context.WithValue(ctx, TokenKey, token)
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(verifier auth.Verifier) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			token, ok, err := bearerToken(req.Header().Get("Authorization"))
			if !ok {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
			}
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			claims, err := verifier.Validate(token)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			return next(withClaims(ctx, claims, token), req)
		}
	}
}

// OptionalAuth adds the verified user to the context when a valid token is
// present and lets every request through. Guests use the API without one.
func OptionalAuth(verifier auth.Verifier) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			token, ok, err := bearerToken(req.Header().Get("Authorization"))
			if ok && err == nil {
				if claims, err := verifier.Validate(token); err == nil {
					ctx = withClaims(ctx, claims, token)
				}
			}
			return next(ctx, req)
		}
	}
}
