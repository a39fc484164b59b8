package http

import (
	"context"
	"net/http"
	"net/url"
)

// RequestVerifier authenticates a request and returns the access key
// that signed it. partflow.SignatureVerifier implements this.
type RequestVerifier interface {
	Verify(method, path string, query url.Values, headers http.Header) (string, error)
}

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFromContext returns the access key that authenticated the
// request, or the empty string for unauthenticated access.
func PrincipalFromContext(ctx context.Context) string {
	principal, _ := ctx.Value(principalKey).(string)
	return principal
}

// AuthMiddleware creates middleware that enforces AWS Signature V4
// authentication and stores the verified access key in the request
// context. Pass nil to disable authentication (public access).
func AuthMiddleware(verifier RequestVerifier) func(http.Handler) http.Handler {
	if verifier == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Copy headers and add Host (Go stores Host separately from Header)
			headers := r.Header.Clone()
			headers.Set("Host", r.Host)

			principal, err := verifier.Verify(r.Method, r.URL.Path, r.URL.Query(), headers)
			if err != nil {
				HandleError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
