package auth

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type ctxKey string

const callerKey ctxKey = "caller"

func CallerFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(callerKey)
	name, ok := v.(string)
	return name, ok
}

// RequireService admits either a service JWT (Authorization: Bearer) or a
// static ops key (X-Api-Key, compared against a bcrypt hash from config).
func RequireService(jwtSvc *JWT, apiKeyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if k := r.Header.Get("X-Api-Key"); k != "" && apiKeyHash != "" {
				if bcrypt.CompareHashAndPassword([]byte(apiKeyHash), []byte(k)) == nil {
					ctx := context.WithValue(r.Context(), callerKey, "ops-key")
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			h := r.Header.Get("Authorization")
			if strings.HasPrefix(h, "Bearer ") {
				name, err := jwtSvc.Verify(strings.TrimPrefix(h, "Bearer "))
				if err == nil {
					ctx := context.WithValue(r.Context(), callerKey, name)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}
