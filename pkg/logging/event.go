package logging

import (
	"encoding/json"
	"time"
)

// Event is the canonical structured event emitted per transaction
// outcome. Required fields: Timestamp, InstanceID, EventType, Summary.
// Optional fields use omitempty tags.
type Event struct {
	Timestamp  time.Time       `json:"ts"`
	InstanceID string          `json:"instance_id"`
	EventType  string          `json:"event_type"`
	Summary    string          `json:"summary"`
	Component  string          `json:"component,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Event type constants.
const (
	EventTransactionSkipped = "transaction_skipped"
	EventTransactionAborted = "transaction_aborted"
	EventBodyMirrored       = "body_mirrored"
	EventMetaSent           = "meta_sent"
	EventMirrorError        = "mirror_error"
)

// SkipData is the data payload for transaction_skipped events.
type SkipData struct {
	URL    string `json:"url"`
	Stage  string `json:"stage"` // "request", "bloom filter", "response"
	Reason string `json:"reason,omitempty"`
}

// BodyMirroredData is the data payload for body_mirrored events.
type BodyMirroredData struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	BodyBytes  int64  `json:"body_bytes"`
	DurationMS int64  `json:"duration_ms"`
}

// MetaSentData is the data payload for meta_sent events.
type MetaSentData struct {
	URL      string `json:"url"`
	Code     int    `json:"code"`
	BodyHash string `json:"body_hash"`
	BodySize int64  `json:"body_size"`
}

// AbortedData is the data payload for transaction_aborted events.
type AbortedData struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// MirrorErrorData is the data payload for mirror_error events.
type MirrorErrorData struct {
	URL      string `json:"url"`
	Endpoint string `json:"endpoint"` // "body" or "meta"
	Error    string `json:"error"`
}
