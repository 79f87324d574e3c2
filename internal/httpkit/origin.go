package httpkit

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginMatches reports whether the Origin header value is allowed, given
// as a hostname (WEBSITE_HOSTNAME) or a full origin. A hostname matches the
// header verbatim or as the host of scheme://host[:port].
//
// With httpsOnly the origin must use https, and a bare hostname admits only
// the default port.
func OriginMatches(origin, allowed string, httpsOnly bool) bool {
	if origin == "" || allowed == "" {
		return false
	}
	if !httpsOnly && strings.EqualFold(origin, allowed) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if httpsOnly && !strings.EqualFold(u.Scheme, "https") {
		return false
	}

	switch {
	case strings.EqualFold(origin, allowed), strings.EqualFold(u.Host, allowed):
		return true
	case strings.EqualFold(u.Hostname(), allowed):
		return !httpsOnly || u.Port() == "" || u.Port() == "443"
	default:
		return false
	}
}

// OriginGuard rejects requests whose Origin does not match allowed with 403
// {"error":"Unauthorized origin"}. A missing Origin is rejected as well.
func OriginGuard(allowed string, httpsOnly bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !OriginMatches(r.Header.Get("Origin"), allowed, httpsOnly) {
				WriteJSON(w, http.StatusForbidden, map[string]string{"error": "Unauthorized origin"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
