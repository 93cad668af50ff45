package httpengine

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/gjson"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

const (
	pathSeparator  = "/"
	frameFieldPath = "path"
	frameFieldBody = "data"
	unknownDigest  = 0
)

var (
	errMalformedFrame   = fmt.Errorf("%w: malformed frame", realtimedb.ErrParse)
	errPatchNotAnObject = errors.New("patch data is not an object")
	shallowPayload      = []byte("true")
	nullPayload         = []byte("null")
)

// classifier turns put and patch frames into change events.
//
// It remembers a content digest per direct child of the listened location, which lets it tell
// added from changed children and detect removals when a full snapshot arrives. The state lives as long as the
// connection, so the snapshot the server replays after a reconnect only yields events for what actually changed.
//
// It also keeps the current value of the listened location, from which replay serves listeners that attach later.
type classifier struct {
	shallow bool

	known           map[string]uint64
	haveRoot        bool
	rootIsContainer bool
	rootDigest      uint64
	value           any
}

func newClassifier(shallow bool) *classifier {
	return &classifier{
		shallow: shallow,
		known:   make(map[string]uint64),
	}
}

// classify decodes the data of a put or patch frame and returns the resulting events in delivery order.
func (c *classifier) classify(event string, data []byte) (realtimedb.ChangeEvents, error) {
	if !gjson.ValidBytes(data) {
		return nil, errMalformedFrame
	}

	path := gjson.GetBytes(data, frameFieldPath)
	if path.Type != gjson.String || !strings.HasPrefix(path.String(), pathSeparator) {
		return nil, fmt.Errorf("%w: missing path", errMalformedFrame)
	}

	body := gjson.GetBytes(data, frameFieldBody)
	payload := nullPayload
	if body.Exists() {
		payload = []byte(body.Raw)
	}

	switch event {
	case frameEventPut:
		return c.put(path.String(), payload)
	case frameEventPatch:
		return c.patch(path.String(), payload)
	default:
		return nil, fmt.Errorf("%w: unexpected event %q", errMalformedFrame, event)
	}
}

func (c *classifier) put(path string, payload []byte) (realtimedb.ChangeEvents, error) {
	if path == pathSeparator {
		return c.putRoot(payload)
	}

	childKey := firstSegment(path)

	events := make(realtimedb.ChangeEvents, 0, 2)
	if err := appendEvent(&events, realtimedb.ValueChanged, path, childKey, payload); err != nil {
		return nil, err
	}

	if err := c.putChild(&events, path, payload); err != nil {
		return nil, err
	}

	c.value = setValue(c.value, pathSegments(path), decodeValue(payload))

	return events, nil
}

// putRoot handles a snapshot of the whole listened location.
func (c *classifier) putRoot(payload []byte) (realtimedb.ChangeEvents, error) {
	root := gjson.ParseBytes(payload)
	isContainer := root.IsObject() || root.IsArray()
	digest := xxhash.Sum64(payload)

	childEvents := make(realtimedb.ChangeEvents, 0)
	seen := make(map[string]struct{})

	err := forEachChild(root, func(key string, raw []byte) error {
		seen[key] = struct{}{}
		return c.setChild(&childEvents, pathSeparator+key, key, raw)
	})
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0)
	for key := range c.known {
		if _, ok := seen[key]; !ok {
			removed = append(removed, key)
		}
	}
	slices.Sort(removed)

	for _, key := range removed {
		delete(c.known, key)
		if err := appendEvent(&childEvents, realtimedb.ChildRemoved, pathSeparator+key, key, nil); err != nil {
			return nil, err
		}
	}

	unchanged := c.haveRoot && len(childEvents) == 0 &&
		((isContainer && c.rootIsContainer) || (!isContainer && !c.rootIsContainer && digest == c.rootDigest))

	c.haveRoot = true
	c.rootIsContainer = isContainer
	c.rootDigest = digest
	c.value = decodeValue(payload)

	if unchanged {
		return nil, nil
	}

	events := make(realtimedb.ChangeEvents, 0, len(childEvents)+1)
	if err := appendEvent(&events, realtimedb.ValueChanged, pathSeparator, "", payload); err != nil {
		return nil, err
	}

	return append(events, childEvents...), nil
}

func (c *classifier) patch(path string, payload []byte) (realtimedb.ChangeEvents, error) {
	data := gjson.ParseBytes(payload)
	if !data.IsObject() {
		return nil, fmt.Errorf("%w: %s", errMalformedFrame, errPatchNotAnObject.Error())
	}

	events := make(realtimedb.ChangeEvents, 0)
	if err := appendEvent(&events, realtimedb.ValueChanged, path, firstSegment(path), payload); err != nil {
		return nil, err
	}

	var err error
	data.ForEach(func(key, value gjson.Result) bool {
		entryPath := joinPath(path, key.String())
		if err = c.putChild(&events, entryPath, []byte(value.Raw)); err != nil {
			return false
		}
		c.value = setValue(c.value, pathSegments(entryPath), decodeValue([]byte(value.Raw)))

		return true
	})

	if err != nil {
		return nil, err
	}

	return events, nil
}

// putChild derives the child event for a write at path, which lies below the listened location.
func (c *classifier) putChild(events *realtimedb.ChangeEvents, path string, payload []byte) error {
	rest := strings.TrimPrefix(path, pathSeparator)
	if rest == "" {
		return fmt.Errorf("%w: empty child path", errMalformedFrame)
	}

	c.rootIsContainer = true
	childKey, deeper, isDeep := strings.Cut(rest, pathSeparator)

	if !isDeep || deeper == "" {
		return c.setChild(events, pathSeparator+childKey, childKey, payload)
	}

	_, known := c.known[childKey]
	isNull := isNullPayload(payload)

	switch {
	case known:
		c.known[childKey] = unknownDigest
		return appendEvent(events, realtimedb.ChildChanged, path, childKey, c.childPayload(payload))
	case !isNull:
		c.known[childKey] = unknownDigest
		return appendEvent(events, realtimedb.ChildAdded, path, childKey, c.childPayload(payload))
	default:
		return nil
	}
}

// setChild replaces the whole value of a direct child.
func (c *classifier) setChild(events *realtimedb.ChangeEvents, path, childKey string, payload []byte) error {
	previous, known := c.known[childKey]

	if isNullPayload(payload) {
		if !known {
			return nil
		}

		delete(c.known, childKey)

		return appendEvent(events, realtimedb.ChildRemoved, path, childKey, nil)
	}

	digest := xxhash.Sum64(payload)
	if digest == unknownDigest {
		digest++
	}
	c.known[childKey] = digest

	switch {
	case !known:
		return appendEvent(events, realtimedb.ChildAdded, path, childKey, c.childPayload(payload))
	case previous != digest:
		return appendEvent(events, realtimedb.ChildChanged, path, childKey, c.childPayload(payload))
	default:
		return nil
	}
}

func (c *classifier) childPayload(payload []byte) []byte {
	if c.shallow {
		return shallowPayload
	}

	return payload
}

func appendEvent(events *realtimedb.ChangeEvents, kind realtimedb.EventKind, path, key string, payload []byte) error {
	event, err := realtimedb.BuildChangeEvent(kind, path, key, payload)
	if err != nil {
		return errors.Join(errMalformedFrame, err)
	}

	*events = append(*events, event)

	return nil
}

// forEachChild visits the direct children of an object or array value. Arrays are keyed by index.
func forEachChild(value gjson.Result, fn func(key string, raw []byte) error) error {
	var err error

	switch {
	case value.IsObject():
		value.ForEach(func(key, child gjson.Result) bool {
			err = fn(key.String(), []byte(child.Raw))
			return err == nil
		})
	case value.IsArray():
		for i, child := range value.Array() {
			if err = fn(strconv.Itoa(i), []byte(child.Raw)); err != nil {
				break
			}
		}
	}

	return err
}

func isNullPayload(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)

	return len(trimmed) == 0 || bytes.Equal(trimmed, nullPayload)
}

func firstSegment(path string) string {
	key, _, _ := strings.Cut(strings.TrimPrefix(path, pathSeparator), pathSeparator)

	return key
}

func joinPath(base, key string) string {
	return strings.TrimSuffix(base, pathSeparator) + pathSeparator + strings.Trim(key, pathSeparator)
}
