// Package watchevent defines the tagged event variants that cross the
// boundary between the Watch Multiplexer and a UI subscriber.
package watchevent

import (
	"encoding/json"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Kind discriminates the variant of an Event. The wire tag is "event",
// matching the original Tauri backend's serde(tag = "event", content =
// "data") encoding.
type Kind string

const (
	// KindInit marks the start (or restart) of a collection watch. Subscribers
	// should discard any prior state they were holding.
	KindInit Kind = "init"
	// KindInitApply carries one object observed during the initial list.
	KindInitApply Kind = "initApply"
	// KindInitDone marks the end of the initial list; the cache is authoritative.
	KindInitDone Kind = "initDone"
	// KindApply carries an object that was created or updated post-init.
	KindApply Kind = "apply"
	// KindDelete carries an object that was removed.
	KindDelete Kind = "delete"
	// KindSingleGone reports that a single-object watch's target is absent.
	KindSingleGone Kind = "singleGone"
	// KindError carries a transport-level problem the UI should surface.
	KindError Kind = "error"
)

// Event is a value-typed, freely clonable sum type. Only the fields relevant
// to its Kind are populated.
type Event struct {
	Kind    Kind
	Object  *unstructured.Unstructured
	Message string
}

// Init returns the bracket event that opens a collection watch's initial list.
func Init() Event { return Event{Kind: KindInit} }

// InitApply returns an event for one object observed during the initial list.
func InitApply(obj *unstructured.Unstructured) Event {
	return Event{Kind: KindInitApply, Object: obj}
}

// InitDone returns the bracket event that closes a collection watch's initial list.
func InitDone() Event { return Event{Kind: KindInitDone} }

// Apply returns an event for an object created or updated post-init.
func Apply(obj *unstructured.Unstructured) Event {
	return Event{Kind: KindApply, Object: obj}
}

// Delete returns an event for an object that was removed.
func Delete(obj *unstructured.Unstructured) Event {
	return Event{Kind: KindDelete, Object: obj}
}

// SingleGone returns the event reporting a single-object watch's target is absent.
func SingleGone() Event { return Event{Kind: KindSingleGone} }

// Error returns an in-stream, non-fatal transport error event.
func Error(message string) Event { return Event{Kind: KindError, Message: message} }

// UID returns the object's metadata.uid, or "" if this event carries no object.
func (e Event) UID() string {
	if e.Object == nil {
		return ""
	}
	return string(e.Object.GetUID())
}

// wireEvent is the camelCase JSON shape handed to the UI: a discriminator
// field "event" and a payload field "data".
type wireEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// MarshalJSON encodes the event in the {"event": ..., "data": ...} shape.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{Event: string(e.Kind)}
	switch e.Kind {
	case KindInitApply, KindApply, KindDelete:
		w.Data = e.Object.Object
	case KindError:
		w.Data = map[string]string{"message": e.Message}
	}
	return json.Marshal(w)
}
