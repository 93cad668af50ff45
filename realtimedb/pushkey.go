package realtimedb

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// PushKeyGenerator produces child keys for Push.
type PushKeyGenerator func() string

// NewPushKey returns a new time-ordered key. Keys created later sort after keys created earlier,
// also within the same millisecond, and generation is safe for concurrent use.
func NewPushKey() string {
	return ulid.Make().String()
}

// PushKeyTime returns the creation time encoded in a key produced by NewPushKey.
func PushKeyTime(key string) (time.Time, error) {
	id, err := ulid.ParseStrict(key)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %s", ErrInvalidPushKey, key, err.Error())
	}

	return ulid.Time(id.Time()), nil
}
