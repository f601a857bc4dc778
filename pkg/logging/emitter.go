package logging

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/platformatic/traffic-interceptor/internal/errx"
)

// Sink consumes structured events. Implementations must be safe for
// concurrent use; Write must not retain the event past its return.
type Sink interface {
	Write(event *Event) error
	Close() error
}

// Emitter stamps per-instance metadata onto typed events and fans them
// out to every registered sink. Delivery is best-effort and
// non-exclusive: a failing sink never starves the others, and the
// returned error aggregates everything that went wrong.
//
// A nil *Emitter is safe to hold; callers guard emission with:
//
//	if emitter != nil {
//	    _ = emitter.Emit(...)
//	}
type Emitter struct {
	instanceID string
	sinks      []Sink
	now        func() time.Time
}

// NewEmitter creates an emitter stamping instanceID onto every event.
func NewEmitter(instanceID string, sinks ...Sink) *Emitter {
	return &Emitter{
		instanceID: instanceID,
		sinks:      sinks,
		now:        time.Now,
	}
}

// Emit builds an event and writes it to all sinks.
//
// Parameters:
//   - eventType: one of the Event* constants (e.g., EventBodyMirrored)
//   - summary: human-readable one-line summary
//   - component: the emitting component name (empty string if none)
//   - tags: optional tags for filtering (nil is fine)
//   - data: the typed data struct (e.g., *SkipData); nil for no payload
//
// A payload that fails to marshal does not suppress the event: it is
// delivered without data and the marshal failure joins the returned
// error. Callers treat emission as best-effort and discard the error
// with _ =.
func (e *Emitter) Emit(eventType, summary, component string, tags []string, data interface{}) error {
	event := &Event{
		Timestamp:  e.now().UTC(),
		InstanceID: e.instanceID,
		EventType:  eventType,
		Summary:    summary,
		Component:  component,
		Tags:       tags,
	}

	var errs []error
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			errs = append(errs, errx.Wrap(ErrMarshalData, err))
		} else {
			event.Data = raw
		}
	}

	for _, sink := range e.sinks {
		if err := sink.Write(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink, aggregating their errors.
func (e *Emitter) Close() error {
	var errs []error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
