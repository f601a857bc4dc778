package filter

import (
	"net/http"
	"strings"
)

// ExtractOrigin returns the Origin header when present, otherwise the
// origin the dispatch was addressed to.
func ExtractOrigin(dispatchOrigin string, headers http.Header) string {
	if origin := headers.Get("Origin"); origin != "" {
		return origin
	}
	return dispatchOrigin
}

// ExtractDomain reduces any of "scheme://host[:port]", "host:port" or
// "host" to a dot-prefixed bare domain, e.g. ".sub.plt.local".
// Dot-prefixing makes suffix matching precise: ".plt.local" matches
// "sub.plt.local" but not "notplt.local".
// Returns "" when the input is empty.
func ExtractDomain(originOrHost string) string {
	host := strings.TrimPrefix(originOrHost, "http://")
	host = strings.TrimPrefix(host, "https://")
	host, _, _ = strings.Cut(host, ":")
	if host == "" {
		return ""
	}
	return "." + host
}
