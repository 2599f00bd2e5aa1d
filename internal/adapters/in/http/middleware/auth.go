// Package middleware provides HTTP middleware shared across adapters.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/boundaries/in"
	"github.com/coreforge/registry/internal/domain"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the bearer token claims RegistryAuth verified
// for this request, or nil for a request requiresAuth exempts.
func ClaimsFromContext(ctx context.Context) *domain.TokenClaims {
	claims, _ := ctx.Value(claimsContextKey{}).(*domain.TokenClaims)
	return claims
}

// RegistryAuth middleware enforces bearer-token authentication and
// per-request scope authorization on every /v2/ request, following the
// Docker Registry v2 bearer token specification: a request with no token
// is challenged with a WWW-Authenticate header pointing at the token
// server, and a request with a token lacking the scope its method and
// path imply is rejected as forbidden.
func RegistryAuth(tokenSvc in.TokenService, tokenRealm, service string, log zerowrap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requiresAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				sendUnauthorized(w, tokenRealm, service, log, r)
				return
			}

			claims, err := tokenSvc.Verify(r.Context(), token)
			if err != nil {
				log.Debug().
					Err(err).
					Str(zerowrap.FieldMethod, r.Method).
					Str(zerowrap.FieldPath, r.URL.Path).
					Msg("bearer token verification failed")
				sendUnauthorized(w, tokenRealm, service, log, r)
				return
			}

			if !checkScopeAccess(r, claims, log) {
				log.Warn().
					Str("subject", claims.Subject).
					Str(zerowrap.FieldMethod, r.Method).
					Str(zerowrap.FieldPath, r.URL.Path).
					Msg("token does not grant required scope")
				sendForbidden(w, log, r)
				return
			}

			r = r.WithContext(context.WithValue(r.Context(), claimsContextKey{}, claims))
			next.ServeHTTP(w, r)
		})
	}
}

// requiresAuth exempts the /v2/ base endpoint (every client probes it
// unauthenticated before requesting a scoped token), the /v2/token endpoint
// that issues those tokens, and every path outside /v2/ and /extensions/v2/.
func requiresAuth(path string) bool {
	if path == "/v2/" || path == "/v2" || path == "/v2/token" || strings.HasPrefix(path, "/v2/token/") {
		return false
	}
	return strings.HasPrefix(path, "/v2/") || strings.HasPrefix(path, "/extensions/v2/")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(authHeader, "Bearer "), true
}

// checkScopeAccess derives the repository name and required action from
// the request's method and path, then checks claims' granted scopes for a
// match, following the same repository-name-extraction and wildcard
// matching rules domain.Scope.CanAccess implements.
func checkScopeAccess(r *http.Request, claims *domain.TokenClaims, log zerowrap.Logger) bool {
	if r.URL.Path == "/v2/_catalog" {
		return hasCatalogAccess(claims)
	}

	repoName, ok := repositoryFromPath(r.URL.Path)
	if !ok {
		return true
	}

	action := actionForMethod(r.Method)
	for _, scope := range claims.Access {
		if scope.CanAccess(repoName, action) {
			return true
		}
	}

	log.Debug().
		Str("repository", repoName).
		Str("action", action).
		Msg("no granted scope covers this request")
	return false
}

func hasCatalogAccess(claims *domain.TokenClaims) bool {
	for _, scope := range claims.Access {
		if scope.Type == domain.ScopeTypeRegistry && scope.Name == "catalog" {
			return true
		}
	}
	return false
}

// repositoryFromPath extracts the repository name from a /v2/{name}/... or
// /extensions/v2/{name}/... request path.
func repositoryFromPath(path string) (string, bool) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(path, "/extensions/v2/"), "/v2/")
	for _, marker := range []string{"/manifests/", "/blobs/uploads/", "/blobs/", "/tags/list", "/signatures/"} {
		if idx := strings.Index(trimmed, marker); idx != -1 {
			return trimmed[:idx], true
		}
	}
	return "", false
}

func actionForMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return domain.ScopeActionPull
	case http.MethodDelete:
		return domain.ScopeActionDelete
	default:
		return domain.ScopeActionPush
	}
}

func sendUnauthorized(w http.ResponseWriter, tokenRealm, service string, log zerowrap.Logger, r *http.Request) {
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+tokenRealm+`",service="`+service+`"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)

	log.Warn().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "http").
		Str(zerowrap.FieldMethod, r.Method).
		Str(zerowrap.FieldPath, r.URL.Path).
		Str(zerowrap.FieldClientIP, r.RemoteAddr).
		Msg("unauthorized registry access attempt")
}

func sendForbidden(w http.ResponseWriter, log zerowrap.Logger, r *http.Request) {
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	http.Error(w, "Forbidden", http.StatusForbidden)

	log.Warn().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "http").
		Str(zerowrap.FieldMethod, r.Method).
		Str(zerowrap.FieldPath, r.URL.Path).
		Str(zerowrap.FieldClientIP, r.RemoteAddr).
		Msg("forbidden registry access attempt")
}
