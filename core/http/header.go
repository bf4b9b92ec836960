package http

import "strings"

// Common header names
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderCookie        = "Cookie"
	HeaderSetCookie     = "Set-Cookie"
	HeaderHost          = "Host"
)

// Content types used when inferring a response body's type
const (
	MIMEText = "text/plain"
	MIMEHTML = "text/html"
	MIMEJSON = "application/json"
)

type field struct {
	name  string
	value string
}

// Header is an ordered list of header fields. Names keep the casing they
// were first stored with; lookups ignore case. The zero value is ready to use.
type Header struct {
	fields []field
}

// NewHeader builds a header from alternating name/value pairs.
// A trailing name without a value is ignored.
func NewHeader(pairs ...string) Header {
	var h Header
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func (h *Header) index(name string) int {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			return i
		}
	}
	return -1
}

// Get returns the first value stored under name, or "".
func (h *Header) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the first value stored under name and whether it exists.
func (h *Header) Lookup(name string) (string, bool) {
	if i := h.index(name); i >= 0 {
		return h.fields[i].value, true
	}
	return "", false
}

// Has reports whether a field named name exists.
func (h *Header) Has(name string) bool {
	return h.index(name) >= 0
}

// Set replaces the value of an existing field in place, or appends a new one.
func (h *Header) Set(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].value = value
		return
	}
	h.fields = append(h.fields, field{name: name, value: value})
}

// Add appends a field even if one with the same name exists.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, field{name: name, value: value})
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Len returns the number of fields.
func (h *Header) Len() int {
	return len(h.fields)
}

// Each calls fn for every field in insertion order.
func (h *Header) Each(fn func(name, value string)) {
	for _, f := range h.fields {
		fn(f.name, f.value)
	}
}

// Reset drops all fields.
func (h *Header) Reset() {
	h.fields = h.fields[:0]
}

// Clone returns an independent copy.
func (h *Header) Clone() Header {
	return Header{fields: append([]field(nil), h.fields...)}
}
