// Package server dispatches requests to separate sites by host name.
package server

import (
	"net"
	"net/http"
	"slices"
	"strings"
)

// HostRouter sends each request to the handler registered for its Host and
// falls back to the default handler otherwise. A host registered as
// "*.example.com" matches every subdomain of example.com; when wildcards
// overlap the longest one wins.
type HostRouter struct {
	exact    map[string]http.Handler
	suffixes []hostSuffix
	fallback http.Handler
}

type hostSuffix struct {
	suffix  string
	handler http.Handler
}

// NewHostRouter creates a router that serves unmatched hosts with fallback.
func NewHostRouter(fallback http.Handler) *HostRouter {
	return &HostRouter{
		exact:    make(map[string]http.Handler),
		fallback: fallback,
	}
}

// Handle registers handler for host.
func (h *HostRouter) Handle(host string, handler http.Handler) {
	host = canonicalHost(host)
	if host == "" {
		return
	}
	if suffix, ok := strings.CutPrefix(host, "*."); ok {
		h.addSuffix("."+suffix, handler)
		return
	}
	h.exact[host] = handler
}

// addSuffix keeps suffixes ordered longest first. Registering a suffix again
// replaces its handler.
func (h *HostRouter) addSuffix(suffix string, handler http.Handler) {
	for i := range h.suffixes {
		if h.suffixes[i].suffix == suffix {
			h.suffixes[i].handler = handler
			return
		}
	}
	h.suffixes = append(h.suffixes, hostSuffix{suffix: suffix, handler: handler})
	slices.SortStableFunc(h.suffixes, func(a, b hostSuffix) int {
		return len(b.suffix) - len(a.suffix)
	})
}

func (h *HostRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.match(r.Host).ServeHTTP(w, r)
}

func (h *HostRouter) match(rawHost string) http.Handler {
	host := canonicalHost(rawHost)
	if handler, ok := h.exact[host]; ok {
		return handler
	}
	for _, s := range h.suffixes {
		if strings.HasSuffix(host, s.suffix) {
			return s.handler
		}
	}
	return h.fallback
}

// canonicalHost lowercases the host and strips any port.
func canonicalHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
