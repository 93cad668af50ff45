package realtimedb

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	pathSeparator     = "/"
	forbiddenKeyChars = ".#$[]"
)

// Reference addresses a location in the remote tree, optionally narrowed by filters and an ordering.
//
// Reference is an immutable value: Child and all filter methods return a new Reference and leave the receiver
// untouched, so a Reference can be shared freely between goroutines and closures.
//
// Invalid input does not panic. The first InvalidArgument error of a chain is kept and returned by Err(),
// and every operation using the Reference fails with it before anything is sent.
type Reference struct {
	path     string
	filters  FilterSet
	ordering Ordering
	err      error
}

// Root returns the Reference to the root of the tree.
func Root() Reference {
	return Reference{}
}

// NewReference returns a Reference to the given slash-separated path. Leading and trailing slashes are ignored.
func NewReference(path string) Reference {
	trimmed := strings.Trim(path, pathSeparator)
	if trimmed == "" {
		return Root()
	}

	return Root().Child(trimmed)
}

// Child descends into name, which may itself contain interior slashes ("a/b").
// Filters and ordering are carried over unchanged.
func (r Reference) Child(name string) Reference {
	if r.err != nil {
		return r
	}

	if err := validateChildName(name); err != nil {
		r.err = err
		return r
	}

	if r.path == "" {
		r.path = name
	} else {
		r.path = r.path + pathSeparator + name
	}

	return r
}

// Parent returns the Reference one level up, without filters or ordering. The parent of the root is the root.
func (r Reference) Parent() Reference {
	idx := strings.LastIndex(r.path, pathSeparator)
	if idx < 0 {
		return Reference{err: r.err}
	}

	return Reference{path: r.path[:idx], err: r.err}
}

func (r Reference) LimitToFirst(n int) Reference {
	if n <= 0 {
		return r.withErr(fmt.Errorf("%w: limitToFirst=%d", ErrInvalidLimit, n))
	}

	r.filters = r.filters.withLimitToFirst(strconv.Itoa(n))

	return r
}

func (r Reference) LimitToLast(n int) Reference {
	if n <= 0 {
		return r.withErr(fmt.Errorf("%w: limitToLast=%d", ErrInvalidLimit, n))
	}

	r.filters = r.filters.withLimitToLast(strconv.Itoa(n))

	return r
}

func (r Reference) StartAt(value string) Reference {
	r.filters = r.filters.withStartAt(value)

	return r
}

func (r Reference) EndAt(value string) Reference {
	r.filters = r.filters.withEndAt(value)

	return r
}

func (r Reference) EqualTo(value string) Reference {
	r.filters = r.filters.withEqualTo(value)

	return r
}

// OrderedByChild returns a copy ordered by the value of the given child key.
func (r Reference) OrderedByChild(key string) Reference {
	if key == "" {
		return r.withErr(fmt.Errorf("%w: empty orderBy child key", ErrInvalidArgument))
	}

	r.ordering = ByChild(key)

	return r
}

// OrderedByKey returns a copy ordered by child key.
func (r Reference) OrderedByKey() Reference {
	r.ordering = ByKey()

	return r
}

// OrderedByValue returns a copy ordered by child value.
func (r Reference) OrderedByValue() Reference {
	r.ordering = ByValue()

	return r
}

// WithOrdering returns a copy with the given ordering.
func (r Reference) WithOrdering(ordering Ordering) Reference {
	if ordering.Kind() == OrderByChild {
		return r.OrderedByChild(ordering.ChildKey())
	}

	r.ordering = ordering

	return r
}

// ToQueryParameters serializes the filters, see FilterSet.ToQueryParameters.
func (r Reference) ToQueryParameters(appendQuoteForKeyOrdering bool) map[string]string {
	return r.filters.ToQueryParameters(appendQuoteForKeyOrdering)
}

// Path returns the slash-separated path without leading slash. The root has the empty path.
func (r Reference) Path() string {
	return r.path
}

// Key returns the last path segment, or "" for the root.
func (r Reference) Key() string {
	idx := strings.LastIndex(r.path, pathSeparator)

	return r.path[idx+1:]
}

func (r Reference) IsRoot() bool {
	return r.path == ""
}

func (r Reference) Filters() FilterSet {
	return r.filters
}

func (r Reference) Ordering() Ordering {
	return r.ordering
}

// Err returns the first InvalidArgument error recorded while building this Reference.
func (r Reference) Err() error {
	return r.err
}

func (r Reference) String() string {
	return pathSeparator + r.path
}

func (r Reference) withErr(err error) Reference {
	if r.err == nil {
		r.err = err
	}

	return r
}

func validateChildName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPathSegment)
	}

	for _, segment := range strings.Split(name, pathSeparator) {
		if segment == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPathSegment, name)
		}

		for _, c := range segment {
			if c < 0x20 || c == 0x7f || strings.ContainsRune(forbiddenKeyChars, c) {
				return fmt.Errorf("%w: forbidden character %q in %q", ErrInvalidPathSegment, c, name)
			}
		}
	}

	return nil
}
