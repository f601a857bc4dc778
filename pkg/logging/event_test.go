package logging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalToMap(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestEvent_WireFieldPresence(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		present []string
		absent  []string
	}{
		{
			name: "required fields only",
			event: Event{
				Timestamp:  time.Date(2026, 8, 6, 14, 30, 0, 123000000, time.UTC),
				InstanceID: "ti-9f8e7d6c",
				EventType:  EventBodyMirrored,
				Summary:    "GET http://app/dummy -> 200 (17 bytes)",
			},
			present: []string{"ts", "instance_id", "event_type", "summary"},
			absent:  []string{"component", "tags", "data"},
		},
		{
			name: "all optionals set",
			event: Event{
				Timestamp:  time.Now().UTC(),
				InstanceID: "test",
				EventType:  EventMirrorError,
				Summary:    "test",
				Component:  "interceptor",
				Tags:       []string{"body"},
				Data:       json.RawMessage(`{"endpoint":"body"}`),
			},
			present: []string{"ts", "instance_id", "event_type", "summary", "component", "tags", "data"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := marshalToMap(t, &tt.event)
			for _, key := range tt.present {
				assert.Contains(t, m, key)
			}
			for _, key := range tt.absent {
				assert.NotContains(t, m, key)
			}
		})
	}
}

func TestEvent_TimestampIsRFC3339Nano(t *testing.T) {
	ts := time.Date(2026, 8, 6, 14, 30, 0, 123456789, time.UTC)
	m := marshalToMap(t, &Event{Timestamp: ts, InstanceID: "i", EventType: "t", Summary: "s"})

	parsed, err := time.Parse(time.RFC3339Nano, m["ts"].(string))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestDataPayloads_WireShape(t *testing.T) {
	tests := []struct {
		name    string
		payload interface{}
		present []string
		absent  []string
	}{
		{
			name:    "skip without reason",
			payload: &SkipData{URL: "http://app/dummy", Stage: "request"},
			present: []string{"url", "stage"},
			absent:  []string{"reason"},
		},
		{
			name:    "body mirrored with zero bytes",
			payload: &BodyMirroredData{URL: "http://app/empty", StatusCode: 204},
			present: []string{"url", "status_code", "body_bytes", "duration_ms"},
		},
		{
			name:    "meta sent",
			payload: &MetaSentData{URL: "http://app/x", Code: 200, BodyHash: "42", BodySize: 17},
			present: []string{"url", "code", "body_hash", "body_size"},
		},
		{
			name:    "aborted",
			payload: &AbortedData{URL: "http://app/x", Error: "context canceled"},
			present: []string{"url", "error"},
		},
		{
			name:    "mirror error",
			payload: &MirrorErrorData{URL: "http://app/x", Endpoint: "meta", Error: "boom"},
			present: []string{"url", "endpoint", "error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := marshalToMap(t, tt.payload)
			for _, key := range tt.present {
				assert.Contains(t, m, key)
			}
			for _, key := range tt.absent {
				assert.NotContains(t, m, key)
			}
		})
	}
}

func TestEventTypeConstants(t *testing.T) {
	assert.Equal(t, "transaction_skipped", EventTransactionSkipped)
	assert.Equal(t, "transaction_aborted", EventTransactionAborted)
	assert.Equal(t, "body_mirrored", EventBodyMirrored)
	assert.Equal(t, "meta_sent", EventMetaSent)
	assert.Equal(t, "mirror_error", EventMirrorError)
}
