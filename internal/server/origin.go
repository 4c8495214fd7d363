package server

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy is the set of browser origins allowed to open a websocket.
// Origins are compared as lowercase scheme://host[:port] with default ports
// dropped, so "https://chat.example:443" and "https://CHAT.example" match.
type originPolicy struct {
	any     bool
	origins map[string]struct{}
}

// newOriginPolicy builds a policy from configured origins. "*" allows every
// origin; entries that are not absolute URLs are logged and ignored. The
// canonical forms are returned for the applied config.
func newOriginPolicy(configured []string) (originPolicy, []string) {
	policy := originPolicy{origins: make(map[string]struct{}, len(configured))}
	var canonical []string

	for _, entry := range configured {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*":
			policy.any = true
			continue
		}

		origin, ok := canonicalOrigin(entry)
		if !ok {
			slog.Warn("ignoring invalid allowed origin", "origin", entry)
			continue
		}
		if _, dup := policy.origins[origin]; !dup {
			policy.origins[origin] = struct{}{}
			canonical = append(canonical, origin)
		}
	}
	return policy, canonical
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	canonical, ok := canonicalOrigin(origin)
	if !ok {
		return false
	}
	if p.any {
		return true
	}
	_, ok = p.origins[canonical]
	return ok
}

func canonicalOrigin(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if h, port, err := net.SplitHostPort(host); err == nil {
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			host = h
			if strings.Contains(h, ":") {
				host = "[" + h + "]"
			}
		}
	}
	return scheme + "://" + host, true
}

// checkOrigin is the upgrader's CheckOrigin. Requests without an Origin
// header are refused.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	configMu.RLock()
	allowed := activeOrigins.allows(origin)
	configMu.RUnlock()

	if !allowed {
		slog.Warn("websocket origin rejected", "origin", origin, "addr", r.RemoteAddr)
	}
	return allowed
}
