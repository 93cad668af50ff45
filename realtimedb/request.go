package realtimedb

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	formatSuffix         = ".json"
	paramAuth            = "auth"
	paramShallow         = "shallow"
	paramOrderBy         = "orderBy"
	valueTrue            = "true"
	headerAccept         = "Accept"
	headerContentType    = "Content-Type"
	mimeEventStream      = "text/event-stream"
	mimeJSON             = "application/json"
	redactedTokenValue   = "REDACTED"
	requestKeySeparator  = " "
	headerPairsSeparator = ";"
)

// Operation is the kind of request the RequestBuilder translates a Reference into.
type Operation int

const (
	OperationRead Operation = iota + 1
	OperationWrite
	OperationUpdate
	OperationDelete
	OperationPush
	OperationPost
	OperationListen
	OperationOrderBy
)

func (op Operation) String() string {
	switch op {
	case OperationRead:
		return "read"
	case OperationWrite:
		return "write"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	case OperationPush:
		return "push"
	case OperationPost:
		return "post"
	case OperationListen:
		return "listen"
	case OperationOrderBy:
		return "order_by"
	default:
		return "unknown"
	}
}

func (op Operation) method() string {
	switch op {
	case OperationWrite, OperationPush:
		return http.MethodPut
	case OperationUpdate:
		return http.MethodPatch
	case OperationDelete:
		return http.MethodDelete
	case OperationPost:
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

func (op Operation) hasBody() bool {
	switch op {
	case OperationWrite, OperationUpdate, OperationPush, OperationPost:
		return true
	default:
		return false
	}
}

func (op Operation) isQuery() bool {
	return op == OperationRead || op == OperationListen || op == OperationOrderBy
}

// BuildParams carries the per-request inputs of RequestBuilder.Build besides the Reference.
type BuildParams struct {
	// Token is the access token to attach, empty for unauthenticated requests.
	Token string
	// Shallow requests keys only. It is only honored for unauthenticated reads.
	Shallow bool
	// Body is the JSON payload of write, update, push and post requests.
	Body []byte
	// PushKey is the child key OperationPush writes to.
	PushKey string
	// Ordering overrides the ordering of the Reference when set.
	Ordering Ordering
}

// Request is a fully resolved HTTP request descriptor.
type Request struct {
	Method  string
	Address string
	Query   map[string]string
	Headers map[string]string
	Body    []byte
}

// URL returns the address with the query parameters encoded in key order.
func (r Request) URL() string {
	if len(r.Query) == 0 {
		return r.Address
	}

	values := make(url.Values, len(r.Query))
	for k, v := range r.Query {
		values.Set(k, v)
	}

	return r.Address + "?" + values.Encode()
}

// RedactedURL is URL with the auth parameter masked, for logging.
func (r Request) RedactedURL() string {
	if _, ok := r.Query[paramAuth]; !ok {
		return r.URL()
	}

	redacted := r
	redacted.Query = make(map[string]string, len(r.Query))
	for k, v := range r.Query {
		redacted.Query[k] = v
	}
	redacted.Query[paramAuth] = redactedTokenValue

	return redacted.URL()
}

// Key serializes the request deterministically: method, address, query parameters and headers, each in key order.
// With excludeAuth the auth parameter is left out, so requests that only differ in their token share a key.
func (r Request) Key(excludeAuth bool) string {
	values := make(url.Values, len(r.Query))
	for k, v := range r.Query {
		if excludeAuth && k == paramAuth {
			continue
		}
		values.Set(k, v)
	}

	headerNames := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		headerNames = append(headerNames, k)
	}
	slices.Sort(headerNames)

	headerPairs := make([]string, 0, len(headerNames))
	for _, k := range headerNames {
		headerPairs = append(headerPairs, k+"="+r.Headers[k])
	}

	return strings.Join(
		[]string{r.Method, r.Address, values.Encode(), strings.Join(headerPairs, headerPairsSeparator)},
		requestKeySeparator,
	)
}

// HasToken reports whether the request carries an auth parameter.
func (r Request) HasToken() bool {
	return r.Query[paramAuth] != ""
}

// RequestBuilder translates a Reference and an Operation into a Request. It holds no mutable state.
type RequestBuilder struct {
	endpoint  string
	baseQuery map[string]string
}

// NewRequestBuilder validates the base endpoint, e.g. "https://my-db.firebaseio.com".
// Query parameters of the endpoint (like the emulator's "ns") are added to every request.
func NewRequestBuilder(endpoint string) (RequestBuilder, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return RequestBuilder{}, fmt.Errorf("%w: %s", ErrInvalidEndpoint, err.Error())
	}

	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return RequestBuilder{}, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}

	baseQuery := make(map[string]string)
	for k, v := range parsed.Query() {
		if len(v) > 0 {
			baseQuery[k] = v[0]
		}
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""

	return RequestBuilder{
		endpoint:  strings.TrimRight(parsed.String(), pathSeparator),
		baseQuery: baseQuery,
	}, nil
}

// Endpoint returns the normalized base endpoint without trailing slash.
func (b RequestBuilder) Endpoint() string {
	return b.endpoint
}

// Address returns endpoint + "/" + path + ".json" for the given Reference.
func (b RequestBuilder) Address(ref Reference) string {
	return b.endpoint + pathSeparator + ref.Path() + formatSuffix
}

// Build resolves a Request. It is a pure function of its inputs.
func (b RequestBuilder) Build(ref Reference, op Operation, params BuildParams) (Request, error) {
	if err := ref.Err(); err != nil {
		return Request{}, err
	}

	if op < OperationRead || op > OperationOrderBy {
		return Request{}, fmt.Errorf("%w: %d", ErrInvalidOperation, op)
	}

	if op == OperationPush {
		if params.PushKey == "" {
			return Request{}, fmt.Errorf("%w: empty push key", ErrInvalidArgument)
		}

		ref = ref.Child(params.PushKey)
		if err := ref.Err(); err != nil {
			return Request{}, err
		}
	}

	req := Request{
		Method:  op.method(),
		Address: b.Address(ref),
		Query:   make(map[string]string, len(b.baseQuery)+2),
		Headers: make(map[string]string, 1),
	}

	for k, v := range b.baseQuery {
		req.Query[k] = v
	}

	if params.Token != "" {
		req.Query[paramAuth] = params.Token
	}

	if op.isQuery() {
		if err := b.addQueryParameters(req.Query, ref, op, params); err != nil {
			return Request{}, err
		}
	}

	if op == OperationListen {
		req.Headers[headerAccept] = mimeEventStream
	}

	if op.hasBody() {
		if err := validateBody(op, params.Body); err != nil {
			return Request{}, err
		}

		req.Body = params.Body
		req.Headers[headerContentType] = mimeJSON
	}

	return req, nil
}

func (b RequestBuilder) addQueryParameters(query map[string]string, ref Reference, op Operation, params BuildParams) error {
	ordering := ref.Ordering()
	if params.Ordering.IsSet() {
		ordering = params.Ordering
	}

	if op == OperationOrderBy && !ordering.IsSet() {
		return fmt.Errorf("%w: order-by request without ordering", ErrInvalidArgument)
	}

	if ordering.Kind() == OrderByChild && ordering.ChildKey() == "" {
		return fmt.Errorf("%w: empty orderBy child key", ErrInvalidArgument)
	}

	if ordering.IsSet() {
		query[paramOrderBy] = ordering.QueryValue()
	}

	for k, v := range ref.ToQueryParameters(ordering.QuotesRangeBounds()) {
		query[k] = v
	}

	if op == OperationRead && params.Shallow && params.Token == "" {
		query[paramShallow] = valueTrue
	}

	return nil
}

func validateBody(op Operation, body []byte) error {
	if !gjson.ValidBytes(body) {
		return ErrInvalidJSON
	}

	if op == OperationUpdate && !bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
		return fmt.Errorf("%w: update body must be a json object", ErrInvalidArgument)
	}

	return nil
}
