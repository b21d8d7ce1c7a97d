package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/agentrelay/agentrelay/pkg/models"
)

type contextKey string

// identityKey is the context key for the caller identity.
const identityKey contextKey = "identity"

// IdentityExtractor resolves the caller's identity and locale from request
// headers and stores it in the context. Authentication itself happens
// upstream; this layer only carries the result.
//
// User ID comes from X-User-Id, locale from X-Locale then Accept-Language.
func IdentityExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := models.Identity{
			UserID: strings.TrimSpace(r.Header.Get("X-User-Id")),
			Locale: requestLocale(r),
		}
		if identity.UserID == "" {
			identity.UserID = "anonymous"
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLocale(r *http.Request) string {
	if l := strings.TrimSpace(r.Header.Get("X-Locale")); l != "" {
		return l
	}
	accept := r.Header.Get("Accept-Language")
	if accept == "" {
		return ""
	}
	// First language tag, quality values stripped.
	first := strings.Split(accept, ",")[0]
	return strings.TrimSpace(strings.Split(first, ";")[0])
}

// GetIdentity retrieves the caller identity from the request context.
func GetIdentity(ctx context.Context) models.Identity {
	if v, ok := ctx.Value(identityKey).(models.Identity); ok {
		return v
	}
	return models.Identity{UserID: "anonymous"}
}
