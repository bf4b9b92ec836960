package http

import (
	"encoding/json"
	"errors"
	"regexp"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Request methods accepted by the parser
const (
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodDelete  = "DELETE"
	MethodPatch   = "PATCH"
	MethodOptions = "OPTIONS"
	MethodTrace   = "TRACE"
	MethodConnect = "CONNECT"
)

// ErrEmptyBody is returned by Bind when the request carries no body.
var ErrEmptyBody = errors.New("request has no body")

// ValidMethod reports whether m is one of the supported request methods.
func ValidMethod(m string) bool {
	switch m {
	case MethodGet, MethodHead, MethodPost, MethodPut, MethodDelete,
		MethodPatch, MethodOptions, MethodTrace, MethodConnect:
		return true
	}
	return false
}

// Request is a parsed HTTP/1.1 request. Everything except Params is fixed
// once parsing completes; Params is rewritten by the router before each
// handler invocation.
type Request struct {
	Method   string
	Path     string
	Protocol string

	// Query holds decoded query parameters; the first occurrence of a
	// repeated key wins.
	Query map[string]string

	Header  Header
	Cookies map[string]string

	// Host is the Host header without its port, or "" when absent.
	Host string

	// Body is nil when the request declared no body.
	Body []byte

	Params map[string]string
}

// Get returns a request header, matching the name case-insensitively.
func (r *Request) Get(name string) string {
	return r.Header.Get(name)
}

// Param returns a path parameter, falling back to the query string.
func (r *Request) Param(name string) string {
	if v, ok := r.Params[name]; ok {
		return v
	}
	return r.Query[name]
}

// Is reports whether the Content-Type header matches the regular
// expression pattern. Invalid patterns never match.
func (r *Request) Is(pattern string) bool {
	ct, ok := r.Header.Lookup(HeaderContentType)
	if !ok {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(ct)
}

// Bind decodes the JSON body into v. Protobuf messages use the protojson
// mapping.
func (r *Request) Bind(v any) error {
	if len(r.Body) == 0 {
		return ErrEmptyBody
	}
	if msg, ok := v.(proto.Message); ok {
		return protojson.Unmarshal(r.Body, msg)
	}
	return json.Unmarshal(r.Body, v)
}
