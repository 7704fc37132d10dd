package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/medocr/docflow/scope"
)

// Request headers carrying the caller's tenant and identity.
const (
	HeaderOrgID   = "X-Org-ID"
	HeaderActorID = "X-Actor-ID"
)

// guard applies bearer authentication and copies the scope headers into
// the request context.
func (a *API) guard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token != "" && !bearerMatches(r.Header.Get("Authorization"), a.token) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := r.Context()
		if org := strings.TrimSpace(r.Header.Get(HeaderOrgID)); org != "" {
			ctx = scope.WithOrg(ctx, org)
		}
		if actor := strings.TrimSpace(r.Header.Get(HeaderActorID)); actor != "" {
			ctx = scope.WithActor(ctx, actor)
		}
		next(w, r.WithContext(ctx))
	})
}

// bearerMatches compares the bearer credential with token in constant time.
func bearerMatches(header, token string) bool {
	got, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
