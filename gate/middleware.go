package gate

import (
	"net/http"
	"strings"
)

// Exempt paths skip the content-type screen here and schema validation
// in their handlers (DecodeLenient): the signin payload is passed
// through to the credential check untouched, and the payment provider
// posts webhook bodies we must accept verbatim for signature
// verification.
var defaultExemptPaths = []string{
	"/api/v1/auth/signin",
	"/api/v1/donations/webhook",
}

// Middleware returns an http middleware that sanitizes query values on
// every request and requires a JSON content type on mutating requests.
// Extra exempt path prefixes can be supplied on top of the defaults.
func (g *Gate) Middleware(exempt ...string) func(http.Handler) http.Handler {
	exemptPaths := append(append([]string(nil), defaultExemptPaths...), exempt...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			changed := false
			for key, values := range query {
				for i, value := range values {
					if clean := g.policy.Sanitize(value); clean != value {
						values[i] = clean
						changed = true
					}
				}
				query[key] = values
			}
			if changed {
				r.URL.RawQuery = query.Encode()
			}

			if r.Method != http.MethodGet && r.Method != http.MethodHead && !isExempt(r.URL.Path, exemptPaths) {
				if r.ContentLength != 0 && !hasJSONContentType(r) {
					http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isExempt(path string, exempt []string) bool {
	for _, prefix := range exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func hasJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct)) == "application/json"
}
