package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() *Options {
	return &Options{
		TrafficInspector: TrafficInspector{
			URL:          "http://collector.local:9090",
			PathSendBody: "/requests",
			PathSendMeta: "/meta",
		},
	}
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, validOptions().Validate())

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing collector URL", func(o *Options) { o.TrafficInspector.URL = "" }},
		{"blank collector URL", func(o *Options) { o.TrafficInspector.URL = "   " }},
		{"negative bloom size", func(o *Options) { o.BloomFilter.Size = -1 }},
		{"error rate at one", func(o *Options) { o.BloomFilter.ErrorRate = 1 }},
		{"negative error rate", func(o *Options) { o.BloomFilter.ErrorRate = -0.5 }},
		{"negative max size", func(o *Options) { o.MaxResponseSize = -1 }},
		{"empty matching domains", func(o *Options) { o.MatchingDomains = []string{} }},
		{"blank matching domain entry", func(o *Options) { o.MatchingDomains = []string{".ok", " "} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.mutate(opts)
			assert.ErrorIs(t, opts.Validate(), ErrInvalidOptions)
		})
	}
}

func TestOptions_ZeroValuesPassValidation(t *testing.T) {
	// Unset numeric fields mean "use the default"; only explicit bad
	// values refuse construction.
	opts := validOptions()
	assert.NoError(t, opts.Validate())
	assert.Zero(t, opts.BloomFilter.Size)
	assert.Zero(t, opts.MaxResponseSize)
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := validOptions().WithDefaults()

	assert.Equal(t, DefaultBloomFilterSize, opts.BloomFilter.Size)
	assert.Equal(t, DefaultBloomFilterErrorRate, opts.BloomFilter.ErrorRate)
	assert.Equal(t, int64(DefaultMaxResponseSize), opts.MaxResponseSize)
	assert.Equal(t, DefaultSkippingRequestHeaders, opts.SkippingRequestHeaders)
	assert.Equal(t, DefaultSkippingResponseHeaders, opts.SkippingResponseHeaders)
	assert.Equal(t, DefaultSkippingCookieSessionIDs, opts.SkippingCookieSessionIDs)
	assert.Nil(t, opts.MatchingDomains)
	assert.NotNil(t, opts.Labels)
	assert.NotNil(t, opts.Logger)
	require.NotNil(t, opts.InterceptResponseStatusCodes)
	assert.True(t, opts.InterceptResponseStatusCodes(200))
	assert.True(t, opts.InterceptResponseStatusCodes(299))
	assert.False(t, opts.InterceptResponseStatusCodes(199))
	assert.False(t, opts.InterceptResponseStatusCodes(300))
}

func TestOptions_WithDefaults_KeepsExplicitValues(t *testing.T) {
	opts := validOptions()
	opts.BloomFilter = BloomFilter{Size: 50, ErrorRate: 0.2}
	opts.MaxResponseSize = 1024
	opts.SkippingRequestHeaders = []string{"X-Custom"}

	normalized := opts.WithDefaults()
	assert.Equal(t, 50, normalized.BloomFilter.Size)
	assert.Equal(t, 0.2, normalized.BloomFilter.ErrorRate)
	assert.Equal(t, int64(1024), normalized.MaxResponseSize)
	assert.Equal(t, []string{"x-custom"}, normalized.SkippingRequestHeaders,
		"explicit lists are kept and lowercased")
}

func TestOptions_WithDefaults_DeepCopiesLabels(t *testing.T) {
	opts := validOptions()
	opts.Labels = map[string]string{"app": "one"}

	normalized := opts.WithDefaults()
	opts.Labels["app"] = "mutated"
	opts.Labels["extra"] = "x"

	assert.Equal(t, "one", normalized.Labels["app"])
	assert.NotContains(t, normalized.Labels, "extra")
}

func TestOptions_WithDefaults_LowercasesDomains(t *testing.T) {
	opts := validOptions()
	opts.MatchingDomains = []string{".PLT.Local"}

	normalized := opts.WithDefaults()
	assert.Equal(t, []string{".plt.local"}, normalized.MatchingDomains)
}

func TestParseOptions(t *testing.T) {
	data := []byte(`{
		"labels": {"app": "demo"},
		"traffic_inspector": {
			"url": "http://collector.local:9090",
			"path_send_body": "/requests",
			"path_send_meta": "/meta"
		},
		"bloom_filter": {"size": 500, "error_rate": 0.05},
		"max_response_size": 1048576,
		"matching_domains": [".plt.local"]
	}`)

	opts, err := ParseOptions(data)
	require.NoError(t, err)
	assert.Equal(t, "demo", opts.Labels["app"])
	assert.Equal(t, "http://collector.local:9090", opts.TrafficInspector.URL)
	assert.Equal(t, 500, opts.BloomFilter.Size)
	assert.Equal(t, 0.05, opts.BloomFilter.ErrorRate)
	assert.Equal(t, int64(1048576), opts.MaxResponseSize)
	assert.Equal(t, []string{".plt.local"}, opts.MatchingDomains)
	assert.NoError(t, opts.Validate())
}

func TestParseOptions_Invalid(t *testing.T) {
	_, err := ParseOptions([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
