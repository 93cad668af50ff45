package realtimedb

import (
	"bytes"
	"encoding/json"
	"errors"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

var ErrInvalidPayloadJSON = errors.New("payload json is not valid")
var ErrNoPayload = errors.New("event has no payload")

var jsonNull = []byte("null")

// EventKind is the kind of change a listener subscribes to.
type EventKind int

const (
	ValueChanged EventKind = iota + 1
	ChildAdded
	ChildRemoved
	ChildChanged
)

func (k EventKind) String() string {
	switch k {
	case ValueChanged:
		return "value_changed"
	case ChildAdded:
		return "child_added"
	case ChildRemoved:
		return "child_removed"
	case ChildChanged:
		return "child_changed"
	default:
		return "unknown"
	}
}

// IsValid reports whether k is one of the four defined kinds.
func (k EventKind) IsValid() bool {
	return k >= ValueChanged && k <= ChildChanged
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, bool) {
	for _, k := range []EventKind{ValueChanged, ChildAdded, ChildRemoved, ChildChanged} {
		if k.String() == s {
			return k, true
		}
	}

	return 0, false
}

// Listener receives change events. Listeners run on their own goroutine, one per registration.
type Listener func(ChangeEvent)

// ChangeEvents is an alias type for a slice of ChangeEvent
type ChangeEvents = []ChangeEvent

// ChangeEvent is one notification delivered to listeners.
//
// Path is the location of the change relative to the listened Reference ("/" for the Reference itself).
// Key is the affected direct child of the listened Reference, empty when the Reference itself was replaced.
// A nil Payload means the location was deleted or holds null.
type ChangeEvent struct {
	kind    EventKind
	path    string
	key     string
	payload json.RawMessage
}

// BuildChangeEvent is a factory method for ChangeEvent.
//
// Returns ErrInvalidPayloadJSON if payload is neither nil nor valid JSON. A literal null payload is stored as nil.
func BuildChangeEvent(kind EventKind, path string, key string, payload []byte) (ChangeEvent, error) {
	if payload != nil && !gjson.ValidBytes(payload) {
		return ChangeEvent{}, ErrInvalidPayloadJSON
	}

	if bytes.Equal(bytes.TrimSpace(payload), jsonNull) {
		payload = nil
	}

	if path == "" {
		path = pathSeparator
	}

	return ChangeEvent{
		kind:    kind,
		path:    path,
		key:     key,
		payload: payload,
	}, nil
}

func (e ChangeEvent) Kind() EventKind {
	return e.kind
}

func (e ChangeEvent) Path() string {
	return e.path
}

func (e ChangeEvent) Key() string {
	return e.key
}

func (e ChangeEvent) Payload() json.RawMessage {
	return e.payload
}

// Exists reports whether the event carries a non-null payload.
func (e ChangeEvent) Exists() bool {
	return e.payload != nil
}

// Decode unmarshals the payload into v.
func (e ChangeEvent) Decode(v any) error {
	if e.payload == nil {
		return ErrNoPayload
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(e.payload, v); err != nil {
		return errors.Join(ErrParse, err)
	}

	return nil
}
