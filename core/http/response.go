package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/http/httpguts"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Response accumulates status and headers for a single request and writes
// them, together with the body, exactly once.
//
// A Response is safe for use from several goroutines, so a handler may hand
// it to a goroutine and send later.
type Response struct {
	mu     sync.Mutex
	w      io.Writer
	header Header
	status int
	sent   bool
	closed bool
	onSent func()
	logger *slog.Logger
}

// NewResponse creates a response that writes to w. A nil logger uses
// slog.Default().
func NewResponse(w io.Writer, logger *slog.Logger) *Response {
	if logger == nil {
		logger = slog.Default()
	}
	return &Response{
		w:      w,
		status: StatusOK,
		logger: logger,
	}
}

// OnSent registers fn to run after the response has been written. It is
// called outside the response lock, at most once.
func (r *Response) OnSent(fn func()) {
	r.mu.Lock()
	r.onSent = fn
	r.mu.Unlock()
}

// Set sets a header field. Names that are not valid tokens and values that
// contain control characters are dropped.
func (r *Response) Set(name, value string) *Response {
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		r.logger.Debug("dropping invalid response header", "name", name)
		return r
	}
	r.mu.Lock()
	r.header.Set(name, value)
	r.mu.Unlock()
	return r
}

// Get returns a header field previously set on the response.
func (r *Response) Get(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.Get(name)
}

// Cookie adds a Set-Cookie field for name=value.
func (r *Response) Cookie(name, value string) *Response {
	cookie := name + "=" + value
	if !httpguts.ValidHeaderFieldValue(cookie) {
		r.logger.Debug("dropping invalid cookie", "name", name)
		return r
	}
	r.mu.Lock()
	r.header.Add(HeaderSetCookie, cookie)
	r.mu.Unlock()
	return r
}

// Status sets the status code. Codes outside 100-999 become 500.
func (r *Response) Status(code int) *Response {
	r.mu.Lock()
	r.status = normalizeStatus(code)
	r.mu.Unlock()
	return r
}

// StatusCode returns the status that will be (or was) sent.
func (r *Response) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Sent reports whether the response has been written.
func (r *Response) Sent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// Closed reports whether the underlying connection is gone.
func (r *Response) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// MarkClosed records that the connection has been closed. Later sends
// become no-ops.
func (r *Response) MarkClosed() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Send writes the response. Maps, slices, arrays, structs and protobuf
// messages are sent as JSON. For other bodies a missing Content-Type is
// inferred: text/html for strings that start with '<', text/plain otherwise.
// A nil body sends nothing after the headers.
//
// Only the first call writes; later calls, and calls after the connection
// closed, do nothing and return nil.
func (r *Response) Send(body any) error {
	var payload []byte
	contentType := MIMEText

	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
		if strings.HasPrefix(strings.TrimSpace(v), "<") {
			contentType = MIMEHTML
		}
	case []byte:
		payload = v
	case proto.Message:
		return r.JSON(v)
	default:
		if structured(v) {
			return r.JSON(v)
		}
		payload = []byte(fmt.Sprint(v))
	}

	return r.write(payload, contentType, false)
}

// JSON encodes v and sends it with Content-Type application/json. Map keys
// are sorted; protobuf messages use the protojson mapping in compact form.
func (r *Response) JSON(v any) error {
	payload, err := marshalJSON(v)
	if err != nil {
		return fmt.Errorf("encode response body: %w", err)
	}
	return r.write(payload, MIMEJSON, true)
}

// SendError discards any headers set so far and sends msg as plain text
// with the given status.
func (r *Response) SendError(code int, msg string) error {
	r.mu.Lock()
	if !r.sent && !r.closed {
		r.header.Reset()
		r.status = normalizeStatus(code)
	}
	r.mu.Unlock()
	return r.write([]byte(msg), MIMEText, true)
}

func (r *Response) write(payload []byte, contentType string, force bool) error {
	r.mu.Lock()
	if r.sent || r.closed {
		sent, closed := r.sent, r.closed
		r.mu.Unlock()
		r.logger.Debug("write after response finished dropped", "sent", sent, "closed", closed)
		return nil
	}

	if force || !r.header.Has(HeaderContentType) {
		r.header.Set(HeaderContentType, contentType)
	}
	if len(payload) > 0 && !r.header.Has(HeaderContentLength) {
		r.header.Set(HeaderContentLength, strconv.Itoa(len(payload)))
	}

	_, err := r.w.Write(WriteResponse(r.header, r.status, payload))
	r.sent = true
	onSent := r.onSent
	r.mu.Unlock()

	if onSent != nil {
		onSent()
	}
	if err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func structured(v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	}
	return false
}

func marshalJSON(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		// HTML characters stay literal
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
	}
	raw, err := protojson.Marshal(msg)
	if err != nil {
		return nil, err
	}
	// protojson output has unstable whitespace
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
