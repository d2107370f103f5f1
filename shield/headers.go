package shield

import "net/http"

// Content security policies. The API answers JSON only. Saved files are
// served sandboxed: an archived page keeps its styles and images but can
// neither run script nor act as the API origin.
const (
	APIPolicy   = "default-src 'none'; frame-ancestors 'none'"
	FilesPolicy = "sandbox; default-src 'none'; img-src 'self' data: https:; " +
		"style-src 'self' 'unsafe-inline' https:; font-src 'self' data: https:; frame-ancestors 'none'"
)

// SecurityHeaders sets nosniff, DENY framing, no referrer and the given CSP.
// Applied again on an inner route, it replaces the outer policy.
func SecurityHeaders(policy string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			if policy != "" {
				h.Set("Content-Security-Policy", policy)
			}
			next.ServeHTTP(w, r)
		})
	}
}
