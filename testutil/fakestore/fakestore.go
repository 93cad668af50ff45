package fakestore

import (
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
)

const (
	jsonSuffix        = ".json"
	eventStreamType   = "text/event-stream"
	paramAuth         = "auth"
	paramShallow      = "shallow"
	permissionDenied  = `{"error":"Permission denied"}`
	streamBufferSize  = 64
	pushKeyPrefix     = "-fake"
	eventPut          = "put"
	eventPatch        = "patch"
	contentTypeHeader = "Content-Type"
	contentTypeJSON   = "application/json"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// RecordedRequest is a request as seen by the Server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   string
}

// Failure makes the next Count requests (optionally only those of Method) fail with Status and Body.
type Failure struct {
	Method string
	Status int
	Body   string
	Count  int
}

// Server is an in-memory JSON tree behind the REST and event stream protocol of the remote store.
//
// GET, PUT, PATCH, POST and DELETE on /<path>.json operate on the tree. A GET with
// Accept: text/event-stream opens a stream that starts with a put of the current value and then
// receives put and patch frames for every write at, above or below the listened path.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	tree      any
	streams   map[*stream]struct{}
	requests  []RecordedRequest
	failures  []Failure
	token     string
	pushSeq   int
	connects  atomic.Int64
	closeOnce sync.Once
}

type stream struct {
	path   []string
	frames chan string
	done   chan struct{}
	once   sync.Once
}

func (s *stream) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// New starts a Server with an empty tree.
func New() *Server {
	s := &Server{
		streams: make(map[*stream]struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))

	return s
}

// Close ends all streams and shuts the server down.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.DropStreams()
		s.Server.CloseClientConnections()
		s.Server.Close()
	})
}

// RequireToken makes every request without auth=token fail with 401.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
}

// InjectFailure queues a failure for upcoming requests.
func (s *Server) InjectFailure(failure Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = append(s.failures, failure)
}

// Seed replaces the value at path without notifying streams.
func (s *Server) Seed(path string, rawJSON string) error {
	var value any
	if err := jsonAPI.UnmarshalFromString(rawJSON, &value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree = setAt(s.tree, splitPath(path), value)

	return nil
}

// Value returns the JSON encoding of the value at path.
func (s *Server) Value(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, _ := jsonAPI.MarshalToString(getAt(s.tree, splitPath(path)))

	return raw
}

// Requests returns all recorded requests.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.requests)
}

// LastRequest returns the most recent request, or false if none was received.
func (s *Server) LastRequest() (RecordedRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.requests) == 0 {
		return RecordedRequest{}, false
	}

	return s.requests[len(s.requests)-1], true
}

// StreamConnects returns how many streams have been opened so far.
func (s *Server) StreamConnects() int {
	return int(s.connects.Load())
}

// OpenStreams returns the number of currently open streams.
func (s *Server) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.streams)
}

// DropStreams ends all open streams, as a server restart or network failure would.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for st := range s.streams {
		st.close()
		delete(s.streams, st)
	}
}

// SendRaw writes raw verbatim to every stream listening at path.
func (s *Server) SendRaw(path string, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	segments := splitPath(path)
	for st := range s.streams {
		if slices.Equal(st.path, segments) {
			st.send(raw)
		}
	}
}

// SendEvent writes one frame with the given event name and data to every stream listening at path.
func (s *Server) SendEvent(path, event, data string) {
	s.SendRaw(path, formatFrame(event, data))
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	path := splitPath(strings.TrimSuffix(r.URL.Path, jsonSuffix))
	query := r.URL.Query()

	if status, failureBody, failed := s.record(r, body); failed {
		writeJSON(w, status, failureBody)
		return
	}

	if !s.authorized(query) {
		writeJSON(w, http.StatusUnauthorized, permissionDenied)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if r.Header.Get("Accept") == eventStreamType {
			s.serveStream(w, r, path)
			return
		}
		s.serveRead(w, path, query.Get(paramShallow) == "true")

	case http.MethodPut:
		s.serveWrite(w, path, body)

	case http.MethodPatch:
		s.serveUpdate(w, path, body)

	case http.MethodPost:
		s.servePush(w, path, body)

	case http.MethodDelete:
		s.serveWrite(w, path, []byte("null"))

	default:
		writeJSON(w, http.StatusMethodNotAllowed, `{"error":"method not allowed"}`)
	}
}

func (s *Server) record(r *http.Request, body []byte) (int, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   string(body),
	})

	for i, failure := range s.failures {
		if failure.Method != "" && failure.Method != r.Method {
			continue
		}

		s.failures[i].Count--
		if s.failures[i].Count <= 0 {
			s.failures = slices.Delete(s.failures, i, i+1)
		}

		return failure.Status, failure.Body, true
	}

	return 0, "", false
}

func (s *Server) authorized(query url.Values) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.token == "" || query.Get(paramAuth) == s.token
}

func (s *Server) serveRead(w http.ResponseWriter, path []string, shallow bool) {
	s.mu.Lock()
	value := getAt(s.tree, path)
	if shallow {
		value = shallowCopy(value)
	}
	raw, err := jsonAPI.MarshalToString(value)
	s.mu.Unlock()

	if err != nil {
		writeJSON(w, http.StatusInternalServerError, `{"error":"encoding failed"}`)
		return
	}

	writeJSON(w, http.StatusOK, raw)
}

func (s *Server) serveWrite(w http.ResponseWriter, path []string, body []byte) {
	var value any
	if err := jsonAPI.Unmarshal(body, &value); err != nil {
		writeJSON(w, http.StatusBadRequest, `{"error":"Invalid data; couldn't parse JSON object."}`)
		return
	}

	s.mu.Lock()
	s.tree = setAt(s.tree, path, value)
	s.notifyPut(path)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, string(body))
}

func (s *Server) serveUpdate(w http.ResponseWriter, path []string, body []byte) {
	var fields map[string]any
	if err := jsonAPI.Unmarshal(body, &fields); err != nil || fields == nil {
		writeJSON(w, http.StatusBadRequest, `{"error":"Invalid data; couldn't parse JSON object."}`)
		return
	}

	s.mu.Lock()
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		s.tree = setAt(s.tree, append(slices.Clone(path), splitPath(key)...), fields[key])
	}
	s.notifyPatch(path, body)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, string(body))
}

func (s *Server) servePush(w http.ResponseWriter, path []string, body []byte) {
	var value any
	if err := jsonAPI.Unmarshal(body, &value); err != nil {
		writeJSON(w, http.StatusBadRequest, `{"error":"Invalid data; couldn't parse JSON object."}`)
		return
	}

	s.mu.Lock()
	s.pushSeq++
	key := fmt.Sprintf("%s%06d", pushKeyPrefix, s.pushSeq)
	childPath := append(slices.Clone(path), key)
	s.tree = setAt(s.tree, childPath, value)
	s.notifyPut(childPath)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, `{"name":"`+key+`"}`)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, path []string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, `{"error":"streaming unsupported"}`)
		return
	}

	st := &stream{
		path:   path,
		frames: make(chan string, streamBufferSize),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	initial, _ := jsonAPI.MarshalToString(getAt(s.tree, path))
	st.send(formatFrame(eventPut, `{"path":"/","data":`+initial+`}`))
	s.streams[st] = struct{}{}
	s.mu.Unlock()

	s.connects.Add(1)

	defer func() {
		s.mu.Lock()
		delete(s.streams, st)
		s.mu.Unlock()
	}()

	w.Header().Set(contentTypeHeader, eventStreamType)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-st.done:
			return
		case frame := <-st.frames:
			if _, err := io.WriteString(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (st *stream) send(frame string) {
	select {
	case st.frames <- frame:
	case <-st.done:
	}
}

// notifyPut tells every affected stream about a write at path. Callers hold s.mu.
func (s *Server) notifyPut(path []string) {
	for st := range s.streams {
		switch {
		case hasPrefix(path, st.path):
			data, _ := jsonAPI.MarshalToString(getAt(s.tree, path))
			st.send(formatFrame(eventPut, `{"path":`+quote(joinPath(path[len(st.path):]))+`,"data":`+data+`}`))
		case hasPrefix(st.path, path):
			data, _ := jsonAPI.MarshalToString(getAt(s.tree, st.path))
			st.send(formatFrame(eventPut, `{"path":"/","data":`+data+`}`))
		}
	}
}

// notifyPatch tells every affected stream about an update at path. Callers hold s.mu.
func (s *Server) notifyPatch(path []string, body []byte) {
	for st := range s.streams {
		switch {
		case hasPrefix(path, st.path):
			st.send(formatFrame(eventPatch, `{"path":`+quote(joinPath(path[len(st.path):]))+`,"data":`+string(body)+`}`))
		case hasPrefix(st.path, path):
			data, _ := jsonAPI.MarshalToString(getAt(s.tree, st.path))
			st.send(formatFrame(eventPut, `{"path":"/","data":`+data+`}`))
		}
	}
}

func formatFrame(event, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set(contentTypeHeader, contentTypeJSON)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{}
	}

	return strings.Split(trimmed, "/")
}

func joinPath(segments []string) string {
	return "/" + strings.Join(segments, "/")
}

func quote(s string) string {
	return strconv.Quote(s)
}

func hasPrefix(path, prefix []string) bool {
	return len(path) >= len(prefix) && slices.Equal(path[:len(prefix)], prefix)
}

func getAt(node any, path []string) any {
	for _, segment := range path {
		switch typed := node.(type) {
		case map[string]any:
			node = typed[segment]
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(typed) {
				return nil
			}
			node = typed[idx]
		default:
			return nil
		}
	}

	return node
}

// setAt returns node with value stored at path. A nil value removes the entry and prunes empty parents.
func setAt(node any, path []string, value any) any {
	if len(path) == 0 {
		return pruned(value)
	}

	container, ok := node.(map[string]any)
	if !ok {
		container = make(map[string]any)
		if list, isList := node.([]any); isList {
			for i, item := range list {
				container[strconv.Itoa(i)] = item
			}
		}
	}

	child := setAt(container[path[0]], path[1:], value)
	if child == nil {
		delete(container, path[0])
	} else {
		container[path[0]] = child
	}

	if len(container) == 0 {
		return nil
	}

	return container
}

func pruned(value any) any {
	if m, ok := value.(map[string]any); ok && len(m) == 0 {
		return nil
	}

	return value
}

func shallowCopy(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}

	out := make(map[string]any, len(m))
	for key, child := range m {
		switch child.(type) {
		case map[string]any, []any:
			out[key] = true
		default:
			out[key] = child
		}
	}

	return out
}
