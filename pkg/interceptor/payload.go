package interceptor

import (
	"net/http"
	"strings"
)

// Wire shapes for the collector. The body POST carries the request and
// response descriptors in headers; the meta POST carries them in the
// JSON payload together with the finalized body hash.

type metaPayload struct {
	Timestamp int64        `json:"timestamp"`
	Request   metaRequest  `json:"request"`
	Response  metaResponse `json:"response"`
}

type metaRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type metaResponse struct {
	Code     int               `json:"code"`
	Headers  map[string]string `json:"headers"`
	BodyHash string            `json:"bodyHash"`
	BodySize int64             `json:"bodySize"`
}

type requestDescriptor struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type responseDescriptor struct {
	Headers map[string]string `json:"headers"`
}

// flattenHeader reduces an http.Header to single-valued lowercase-keyed
// pairs, joining repeated values the way they would appear on the wire.
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return out
}
