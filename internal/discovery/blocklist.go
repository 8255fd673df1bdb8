package discovery

import (
	"net/url"
	"strings"
)

// DefaultBlocklist lists social and media hosts whose pages are not useful
// research sources. Subdomains are blocked too.
var DefaultBlocklist = []string{
	"linkedin.com",
	"facebook.com",
	"fb.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"youtube.com",
	"youtu.be",
	"pinterest.com",
	"snapchat.com",
	"threads.net",
}

// FilterBlocked drops invalid URLs, duplicates and URLs whose host matches
// the blocklist. Order is preserved.
func FilterBlocked(urls []string, blocklist []string) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		host, ok := hostOf(raw)
		if !ok || isBlocked(host, blocklist) {
			continue
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		out = append(out, raw)
	}
	return out
}

func hostOf(raw string) (string, bool) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", false
	}
	return host, true
}

func isBlocked(host string, blocklist []string) bool {
	host = strings.TrimPrefix(host, "www.")
	for _, blocked := range blocklist {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}
