package middleware

import "net/http"

// VersionHeader carries the server build version on every response.
const VersionHeader = "X-Sleuth-Version"

// Version returns middleware that stamps responses with the build version.
func Version(version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(VersionHeader, version)
			next.ServeHTTP(w, r)
		})
	}
}
