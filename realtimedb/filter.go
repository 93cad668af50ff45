package realtimedb

const (
	paramLimitToFirst = "limitToFirst"
	paramLimitToLast  = "limitToLast"
	paramStartAt      = "startAt"
	paramEndAt        = "endAt"
	paramEqualTo      = "equalTo"
	quote             = `"`
)

/***** FilterSet *****/

// FilterSet holds the optional query filters of a Reference.
//
// An empty string means the filter is not set. FilterSet only holds strings, so every assignment is a copy
// and a FilterSet can never be changed through another Reference.
type FilterSet struct {
	limitToFirst string
	limitToLast  string
	startAt      string
	endAt        string
	equalTo      string
}

func (fs FilterSet) LimitToFirst() string {
	return fs.limitToFirst
}

func (fs FilterSet) LimitToLast() string {
	return fs.limitToLast
}

func (fs FilterSet) StartAt() string {
	return fs.startAt
}

func (fs FilterSet) EndAt() string {
	return fs.endAt
}

func (fs FilterSet) EqualTo() string {
	return fs.equalTo
}

// IsEmpty reports whether no filter is set.
func (fs FilterSet) IsEmpty() bool {
	return fs == FilterSet{}
}

// ToQueryParameters serializes the set filters into query parameters.
//
// startAt and endAt are wrapped in literal double quotes when appendQuoteForKeyOrdering is true,
// which is what the remote store expects when ordering by $key or $value.
// limitToFirst, limitToLast and equalTo are never quoted.
func (fs FilterSet) ToQueryParameters(appendQuoteForKeyOrdering bool) map[string]string {
	params := make(map[string]string, 5)

	if fs.limitToFirst != "" {
		params[paramLimitToFirst] = fs.limitToFirst
	}

	if fs.limitToLast != "" {
		params[paramLimitToLast] = fs.limitToLast
	}

	if fs.startAt != "" {
		params[paramStartAt] = fs.quoted(fs.startAt, appendQuoteForKeyOrdering)
	}

	if fs.endAt != "" {
		params[paramEndAt] = fs.quoted(fs.endAt, appendQuoteForKeyOrdering)
	}

	if fs.equalTo != "" {
		params[paramEqualTo] = fs.equalTo
	}

	return params
}

func (fs FilterSet) quoted(value string, appendQuote bool) string {
	if !appendQuote {
		return value
	}

	return quote + value + quote
}

func (fs FilterSet) withLimitToFirst(value string) FilterSet {
	fs.limitToFirst = value

	return fs
}

func (fs FilterSet) withLimitToLast(value string) FilterSet {
	fs.limitToLast = value

	return fs
}

func (fs FilterSet) withStartAt(value string) FilterSet {
	fs.startAt = value

	return fs
}

func (fs FilterSet) withEndAt(value string) FilterSet {
	fs.endAt = value

	return fs
}

func (fs FilterSet) withEqualTo(value string) FilterSet {
	fs.equalTo = value

	return fs
}

/***** Ordering *****/

// OrderKind selects the orderBy mode of a query.
type OrderKind int

const (
	OrderNone OrderKind = iota
	OrderByChild
	OrderByKey
	OrderByValue
)

const (
	orderByKeyValue   = `"$key"`
	orderByValueValue = `"$value"`
)

// Ordering is the orderBy part of a query. The zero value means unordered.
type Ordering struct {
	kind     OrderKind
	childKey string
}

// ByChild orders by the value of the given child key.
func ByChild(key string) Ordering {
	return Ordering{kind: OrderByChild, childKey: key}
}

// ByKey orders by child key.
func ByKey() Ordering {
	return Ordering{kind: OrderByKey}
}

// ByValue orders by child value.
func ByValue() Ordering {
	return Ordering{kind: OrderByValue}
}

func (o Ordering) Kind() OrderKind {
	return o.kind
}

func (o Ordering) ChildKey() string {
	return o.childKey
}

// IsSet reports whether an orderBy parameter will be sent.
func (o Ordering) IsSet() bool {
	return o.kind != OrderNone
}

// QueryValue returns the orderBy value as sent on the wire, including the surrounding quotes.
func (o Ordering) QueryValue() string {
	switch o.kind {
	case OrderByChild:
		return quote + o.childKey + quote
	case OrderByKey:
		return orderByKeyValue
	case OrderByValue:
		return orderByValueValue
	default:
		return ""
	}
}

// QuotesRangeBounds reports whether startAt and endAt must be quoted for this ordering.
func (o Ordering) QuotesRangeBounds() bool {
	return o.kind == OrderByKey || o.kind == OrderByValue
}

func (o Ordering) String() string {
	switch o.kind {
	case OrderByChild:
		return "child:" + o.childKey
	case OrderByKey:
		return "key"
	case OrderByValue:
		return "value"
	default:
		return "none"
	}
}
