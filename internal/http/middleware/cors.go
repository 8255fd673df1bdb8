package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const corsMaxAgeSeconds = 600

var (
	corsAllowedMethods = strings.Join([]string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodOptions,
	}, ", ")
	corsAllowedHeaders = strings.Join([]string{
		"Accept",
		"Authorization",
		"Content-Type",
		"Idempotency-Key",
		"X-Request-Id",
	}, ", ")
	// Submissions answer 202 with Retry-After; dashboards poll with it.
	corsExposedHeaders = strings.Join([]string{
		"Retry-After",
		"X-Request-Id",
	}, ", ")
)

type CORSConfig struct {
	// AllowedOrigins holds exact origins, "*" or wildcard subdomain patterns
	// such as "https://*.leadintel.dev".
	AllowedOrigins []string
}

type originMatcher struct {
	any      bool
	exact    map[string]struct{}
	suffixes []originSuffix
}

type originSuffix struct {
	scheme string
	domain string
}

func newOriginMatcher(origins []string) originMatcher {
	matcher := originMatcher{exact: map[string]struct{}{}}
	for _, raw := range origins {
		origin := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(raw), "/"))
		switch {
		case origin == "":
		case origin == "*":
			matcher.any = true
		case strings.Contains(origin, "://*."):
			scheme, domain, _ := strings.Cut(origin, "://*")
			matcher.suffixes = append(matcher.suffixes, originSuffix{scheme: scheme + "://", domain: domain})
		default:
			matcher.exact[origin] = struct{}{}
		}
	}
	return matcher
}

func (m originMatcher) allows(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		host, ok := strings.CutPrefix(origin, suffix.scheme)
		if ok && strings.HasSuffix(host, suffix.domain) && len(host) > len(suffix.domain) {
			return true
		}
	}
	return false
}

func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	matcher := newOriginMatcher(cfg.AllowedOrigins)
	maxAge := strconv.Itoa(corsMaxAgeSeconds)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || !matcher.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			if matcher.any {
				header.Set("Access-Control-Allow-Origin", "*")
			} else {
				header.Set("Access-Control-Allow-Origin", origin)
			}
			header.Set("Access-Control-Expose-Headers", corsExposedHeaders)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				header.Add("Vary", "Access-Control-Request-Method")
				header.Add("Vary", "Access-Control-Request-Headers")
				header.Set("Access-Control-Allow-Methods", corsAllowedMethods)
				header.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				header.Set("Access-Control-Max-Age", maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
