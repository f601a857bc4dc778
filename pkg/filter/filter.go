// Package filter holds the pure admit/drop predicates applied to each
// intercepted transaction. No I/O happens here; the state machine in
// pkg/interceptor consumes the verdicts.
package filter

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Verdict is the outcome of a predicate: admitted or dropped, with a
// human-readable reason when dropped.
type Verdict struct {
	Admitted bool
	Reason   string
}

var admitted = Verdict{Admitted: true}

func dropped(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// RequestInfo is the request-side view of a transaction handed to the
// predicates and to user-supplied overrides.
type RequestInfo struct {
	Method  string
	URL     string // origin + path, query and fragment excluded
	Origin  string
	Domain  string // dot-prefixed bare domain; empty when not derivable or when no matching domains are configured
	Headers http.Header
}

// ResponseInfo is the response-side view of a transaction.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
}

// Rules is the compiled form of the option lists. Compile once per
// interceptor; the zero value admits nothing useful, so always build
// via NewRules.
type Rules struct {
	matchingDomains     []string
	skipRequestHeaders  map[string]struct{}
	skipResponseHeaders map[string]struct{}
	skipCookieNames     map[string]struct{}
	acceptStatus        func(int) bool
	maxResponseSize     int64
}

// RulesConfig carries the already-defaulted option lists into NewRules.
// Header and cookie names are expected lowercase; domains are expected
// dot-prefixed lowercase suffixes.
type RulesConfig struct {
	MatchingDomains         []string
	SkippingRequestHeaders  []string
	SkippingResponseHeaders []string
	SkippingCookieNames     []string
	AcceptStatus            func(int) bool
	MaxResponseSize         int64
}

// NewRules compiles option lists into lookup sets.
func NewRules(cfg RulesConfig) *Rules {
	return &Rules{
		matchingDomains:     cfg.MatchingDomains,
		skipRequestHeaders:  toSet(cfg.SkippingRequestHeaders),
		skipResponseHeaders: toSet(cfg.SkippingResponseHeaders),
		skipCookieNames:     toSet(cfg.SkippingCookieNames),
		acceptStatus:        cfg.AcceptStatus,
		maxResponseSize:     cfg.MaxResponseSize,
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

// AdmitRequest decides whether a request is worth reporting at all.
// It short-circuits on the first disqualifier.
func (r *Rules) AdmitRequest(req *RequestInfo) Verdict {
	if req.Method != http.MethodGet {
		return dropped("method %s not intercepted", req.Method)
	}
	if !MatchesDomain(req.Domain, r.matchingDomains) {
		return dropped("domain %q not matched", req.Domain)
	}
	for key := range req.Headers {
		if _, skip := r.skipRequestHeaders[strings.ToLower(key)]; skip {
			return dropped("request header %s present", strings.ToLower(key))
		}
	}
	if cookie := req.Headers.Get("Cookie"); cookie != "" {
		for _, name := range cookieNames(cookie) {
			if _, skip := r.skipCookieNames[strings.ToLower(name)]; skip {
				return dropped("session cookie %s present", strings.ToLower(name))
			}
		}
	}
	return admitted
}

// AdmitResponse decides whether an admitted request's response should
// be mirrored. A response without Content-Length is admitted: size
// screening is best-effort at stream start.
func (r *Rules) AdmitResponse(resp *ResponseInfo) Verdict {
	if r.acceptStatus != nil && !r.acceptStatus(resp.StatusCode) {
		return dropped("status %d not intercepted", resp.StatusCode)
	}
	for key := range resp.Headers {
		if _, skip := r.skipResponseHeaders[strings.ToLower(key)]; skip {
			return dropped("response header %s present", strings.ToLower(key))
		}
	}
	for _, setCookie := range resp.Headers.Values("Set-Cookie") {
		name, _, _ := strings.Cut(setCookie, "=")
		if _, skip := r.skipCookieNames[strings.ToLower(strings.TrimSpace(name))]; skip {
			return dropped("session cookie %s set", strings.ToLower(strings.TrimSpace(name)))
		}
	}
	if cl := resp.Headers.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(cl, 10, 64); err == nil && size > r.maxResponseSize {
			return dropped("content length %d exceeds limit %d", size, r.maxResponseSize)
		}
	}
	return admitted
}

// MatchesDomain reports whether a dot-prefixed domain carries any of
// the configured suffixes. An empty suffix list matches everything; an
// empty domain matches nothing against a non-empty list.
func MatchesDomain(domain string, suffixes []string) bool {
	if len(suffixes) == 0 {
		return true
	}
	if domain == "" {
		return false
	}
	for _, suffix := range suffixes {
		if strings.HasSuffix(domain, suffix) {
			return true
		}
	}
	return false
}

// cookieNames extracts cookie names from a Cookie request header value.
func cookieNames(header string) []string {
	parts := strings.Split(header, ";")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, _, _ := strings.Cut(part, "=")
		names = append(names, strings.TrimSpace(name))
	}
	return names
}
