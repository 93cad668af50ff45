package httpengine

import (
	"slices"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

// snapshotAPI keeps numbers as written by the server and sorts object keys when encoding.
var snapshotAPI = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
	UseNumber:   true,
}.Froze()

func decodeValue(raw []byte) any {
	var value any
	if err := snapshotAPI.Unmarshal(raw, &value); err != nil {
		return nil
	}

	return value
}

func encodeValue(value any) []byte {
	if value == nil {
		return nil
	}

	raw, err := snapshotAPI.Marshal(value)
	if err != nil {
		return nil
	}

	return raw
}

// setValue stores value at the path given by segments below root and returns the new root.
// A nil value removes the entry, and objects left empty are removed as well.
func setValue(root any, segments []string, value any) any {
	if len(segments) == 0 {
		return value
	}

	var node map[string]any
	switch current := root.(type) {
	case map[string]any:
		node = current
	case []any:
		node = make(map[string]any, len(current))
		for i, child := range current {
			if child != nil {
				node[strconv.Itoa(i)] = child
			}
		}
	default:
		node = make(map[string]any)
	}

	child := setValue(node[segments[0]], segments[1:], value)
	if child == nil {
		delete(node, segments[0])
	} else {
		node[segments[0]] = child
	}

	if len(node) == 0 {
		return nil
	}

	return node
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, pathSeparator)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, pathSeparator)
}

// children returns the direct children of value in key order. Arrays are keyed by index.
func children(value any) ([]string, []any) {
	switch node := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(node))
		for key := range node {
			keys = append(keys, key)
		}
		slices.Sort(keys)

		values := make([]any, 0, len(keys))
		for _, key := range keys {
			values = append(values, node[key])
		}

		return keys, values

	case []any:
		keys := make([]string, 0, len(node))
		values := make([]any, 0, len(node))
		for i, child := range node {
			if child == nil {
				continue
			}
			keys = append(keys, strconv.Itoa(i))
			values = append(values, child)
		}

		return keys, values

	default:
		return nil, nil
	}
}

// replay returns the events that bring a listener of kind, attached to an already running stream,
// up to the current state: the value for ValueChanged and every existing child for ChildAdded.
// It returns nothing before the first snapshot arrived, since that snapshot reaches the listener anyway.
func (c *classifier) replay(kind realtimedb.EventKind) realtimedb.ChangeEvents {
	if !c.haveRoot {
		return nil
	}

	events := make(realtimedb.ChangeEvents, 0)

	switch kind {
	case realtimedb.ValueChanged:
		_ = appendEvent(&events, realtimedb.ValueChanged, pathSeparator, "", encodeValue(c.value))

	case realtimedb.ChildAdded:
		keys, values := children(c.value)
		for i, key := range keys {
			raw := encodeValue(values[i])
			if raw == nil {
				continue
			}
			_ = appendEvent(&events, realtimedb.ChildAdded, pathSeparator+key, key, c.childPayload(raw))
		}

	default:
		// removals and changes only exist relative to an earlier state
	}

	return events
}
