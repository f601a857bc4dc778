// Package api defines the public configuration surface of the traffic
// interceptor.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/platformatic/traffic-interceptor/internal/errx"
	"github.com/platformatic/traffic-interceptor/pkg/filter"
	"github.com/platformatic/traffic-interceptor/pkg/logging"
)

const (
	// DefaultMaxResponseSize caps mirrored response bodies at 5 MiB.
	DefaultMaxResponseSize = 5 * 1024 * 1024
	// DefaultBloomFilterSize is the expected number of distinct request
	// identities per interceptor instance.
	DefaultBloomFilterSize = 1000
	// DefaultBloomFilterErrorRate is the target false-positive rate of
	// the dedup filter.
	DefaultBloomFilterErrorRate = 0.01
)

// DefaultSkippingRequestHeaders lists request headers whose presence
// marks a transaction as conditional or authenticated; such requests
// are never mirrored.
var DefaultSkippingRequestHeaders = []string{
	"cache-control",
	"pragma",
	"if-none-match",
	"if-modified-since",
	"authorization",
	"proxy-authorization",
}

// DefaultSkippingResponseHeaders lists response headers whose presence
// marks a response as cacheable-variant or credential-bearing.
var DefaultSkippingResponseHeaders = []string{
	"etag",
	"last-modified",
	"expires",
	"cache-control",
	"authorization",
	"proxy-authenticate",
	"www-authenticate",
	"set-cookie",
}

// DefaultSkippingCookieSessionIDs lists cookie names that indicate an
// auth or session token in either direction.
var DefaultSkippingCookieSessionIDs = []string{
	"jsessionid",
	"phpsessid",
	"asp.net_sessionid",
	"connect.sid",
	"sid",
	"ssid",
	"auth_token",
	"access_token",
	"csrf_token",
	"xsrf-token",
	"x-csrf-token",
	"session",
	"refreshtoken",
	"token",
	"sessionid",
	"csrftoken",
	"authtoken",
	"accesstoken",
}

// TrafficInspector addresses the remote collector.
type TrafficInspector struct {
	URL          string `json:"url"`
	PathSendBody string `json:"path_send_body,omitempty"`
	PathSendMeta string `json:"path_send_meta,omitempty"`
}

// BloomFilter sizes the dedup filter.
type BloomFilter struct {
	Size      int     `json:"size,omitempty"`
	ErrorRate float64 `json:"error_rate,omitempty"`
}

// Options configures one interceptor instance. Zero-valued fields take
// the defaults above; the instance deep-copies everything at
// construction, so the caller may reuse or mutate the struct afterward.
type Options struct {
	// Labels are attached to every mirrored transaction.
	Labels map[string]string `json:"labels,omitempty"`

	TrafficInspector TrafficInspector `json:"traffic_inspector"`
	BloomFilter      BloomFilter      `json:"bloom_filter,omitempty"`

	// MaxResponseSize drops responses declaring a larger Content-Length.
	MaxResponseSize int64 `json:"max_response_size,omitempty"`

	// MatchingDomains restricts interception to dot-prefixed lowercase
	// domain suffixes, e.g. ".plt.local". Nil matches all domains.
	MatchingDomains []string `json:"matching_domains,omitempty"`

	SkippingRequestHeaders   []string `json:"skipping_request_headers,omitempty"`
	SkippingResponseHeaders  []string `json:"skipping_response_headers,omitempty"`
	SkippingCookieSessionIDs []string `json:"skipping_cookie_session_ids,omitempty"`

	// InterceptResponseStatusCodes overrides the default 2xx window.
	InterceptResponseStatusCodes func(statusCode int) bool `json:"-"`

	// InterceptRequest and InterceptResponse replace the built-in
	// admission predicates entirely when set.
	InterceptRequest  func(*filter.RequestInfo) bool  `json:"-"`
	InterceptResponse func(*filter.ResponseInfo) bool `json:"-"`

	// Logger receives debug/error logs. Defaults to slog.Default().
	Logger *slog.Logger `json:"-"`

	// Emitter, when non-nil, receives structured per-transaction events.
	Emitter *logging.Emitter `json:"-"`
}

// Validate checks option invariants. Called by the interceptor factory;
// construction refuses on any error.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.TrafficInspector.URL) == "" {
		return errx.With(ErrInvalidOptions, ": traffic_inspector.url is required")
	}
	if o.BloomFilter.Size < 0 {
		return errx.With(ErrInvalidOptions, ": bloom_filter.size must be >= 1")
	}
	if o.BloomFilter.ErrorRate < 0 || o.BloomFilter.ErrorRate >= 1 {
		return errx.With(ErrInvalidOptions, ": bloom_filter.error_rate must be in (0, 1)")
	}
	if o.MaxResponseSize < 0 {
		return errx.With(ErrInvalidOptions, ": max_response_size must be positive")
	}
	if o.MatchingDomains != nil {
		if len(o.MatchingDomains) == 0 {
			return errx.With(ErrInvalidOptions, ": matching_domains must not be empty when set")
		}
		for i, domain := range o.MatchingDomains {
			if strings.TrimSpace(domain) == "" {
				return errx.With(ErrInvalidOptions,
					fmt.Sprintf(": matching_domains[%d] is empty", i))
			}
		}
	}
	return nil
}

// WithDefaults returns a deep copy with every unset field replaced by
// its default.
func (o *Options) WithDefaults() *Options {
	out := *o

	out.Labels = make(map[string]string, len(o.Labels))
	for k, v := range o.Labels {
		out.Labels[k] = v
	}

	if out.BloomFilter.Size == 0 {
		out.BloomFilter.Size = DefaultBloomFilterSize
	}
	if out.BloomFilter.ErrorRate == 0 {
		out.BloomFilter.ErrorRate = DefaultBloomFilterErrorRate
	}
	if out.MaxResponseSize == 0 {
		out.MaxResponseSize = DefaultMaxResponseSize
	}

	out.MatchingDomains = lowered(o.MatchingDomains)
	out.SkippingRequestHeaders = listOrDefault(o.SkippingRequestHeaders, DefaultSkippingRequestHeaders)
	out.SkippingResponseHeaders = listOrDefault(o.SkippingResponseHeaders, DefaultSkippingResponseHeaders)
	out.SkippingCookieSessionIDs = listOrDefault(o.SkippingCookieSessionIDs, DefaultSkippingCookieSessionIDs)

	if out.InterceptResponseStatusCodes == nil {
		out.InterceptResponseStatusCodes = func(code int) bool {
			return code >= 200 && code < 300
		}
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

func listOrDefault(list, def []string) []string {
	if list == nil {
		list = def
	}
	return lowered(list)
}

func lowered(list []string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = strings.ToLower(s)
	}
	return out
}

// ParseOptions decodes an Options struct from JSON, e.g. a config file
// handed to the CLI.
func ParseOptions(data []byte) (*Options, error) {
	var opts Options
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil, errx.Wrap(ErrInvalidOptions, err)
	}
	return &opts, nil
}
