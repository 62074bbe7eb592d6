package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jobboard/aicredits/internal/auth"
	"github.com/jobboard/aicredits/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// CallerKey is the context key for the resolved auth.Caller
	CallerKey ContextKey = "caller"

	// RequestIDKey is the context key for the request ID
	RequestIDKey ContextKey = "requestID"
)

// Identity resolves the caller from a bearer token. No token means a guest;
// a token that fails verification is rejected with 401.
func Identity(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := auth.Guest()

			if header := r.Header.Get("Authorization"); header != "" {
				token, ok := strings.CutPrefix(header, "Bearer ")
				if !ok || token == "" {
					utils.RespondWithError(w, http.StatusUnauthorized, "unauthorized", "Malformed authorization header")
					return
				}
				userID, err := auth.ParseUserToken(token, secret)
				if err != nil {
					utils.RespondWithError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
					return
				}
				caller = auth.Registered(userID)
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// WithCaller stores caller in ctx
func WithCaller(ctx context.Context, caller auth.Caller) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// CallerFrom returns the caller stored in ctx, or a guest
func CallerFrom(ctx context.Context) auth.Caller {
	if c, ok := ctx.Value(CallerKey).(auth.Caller); ok {
		return c
	}
	return auth.Guest()
}

// RequireUser rejects guests with 401
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CallerFrom(r.Context()).IsGuest() {
			utils.RespondWithError(w, http.StatusUnauthorized, "unauthorized", "Sign in required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServiceToken guards internal routes with a shared bearer token. An empty
// configured token rejects every request.
func ServiceToken(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if expected == "" || token == "" || !utils.SecureCompare(token, expected) {
				utils.RespondWithError(w, http.StatusUnauthorized, "unauthorized", "Invalid service token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID assigns each request an ID, reusing a valid inbound X-Request-ID
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		if err != nil {
			id = uuid.New()
		}
		w.Header().Set("X-Request-ID", id.String())
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDKey, id)))
	})
}

// RequestIDFrom returns the request ID stored in ctx, or uuid.Nil
func RequestIDFrom(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(RequestIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
