package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Version is the only protocol version the parser accepts.
const Version = "HTTP/1.1"

var (
	ErrMalformedRequest = errors.New("malformed HTTP request")
)

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, reason)
}

// ParseRequest parses one complete request. It never panics; on failure it
// returns a nil request and an error wrapping ErrMalformedRequest.
//
// Line endings may be CRLF or bare LF. The body is only read when a blank
// line terminates the header block, and is cut to the smaller of the
// declared Content-Length and the bytes actually present.
func ParseRequest(data []byte) (*Request, error) {
	line, rest, _ := nextLine(data)

	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		return nil, malformed("request line")
	}
	method, target, proto := fields[0], fields[1], fields[2]
	if !ValidMethod(method) {
		return nil, malformed("unknown method " + strconv.Quote(method))
	}
	if proto != Version {
		return nil, malformed("unsupported version " + strconv.Quote(proto))
	}

	path, query, ok := splitTarget(target)
	if !ok {
		return nil, malformed("request target " + strconv.Quote(target))
	}

	req := &Request{
		Method:   method,
		Path:     path,
		Protocol: "http",
		Query:    query,
		Cookies:  make(map[string]string),
		Params:   make(map[string]string),
	}

	// Header block
	terminated := false
	last := ""
	for len(rest) > 0 {
		line, next, _ := nextLine(rest)
		rest = next
		if len(line) == 0 {
			terminated = true
			break
		}
		if name, value, ok := splitHeaderLine(line); ok {
			req.Header.Set(name, value)
			last = name
			continue
		}
		// Continuation of the previous field
		if last == "" {
			continue
		}
		extra := strings.TrimSpace(string(line))
		if extra == "" {
			continue
		}
		if prev := req.Header.Get(last); prev != "" {
			extra = prev + " " + extra
		}
		req.Header.Set(last, extra)
	}

	req.Host = parseHost(req.Header.Get(HeaderHost))
	if cookie, ok := req.Header.Lookup(HeaderCookie); ok {
		parseCookies(req.Cookies, cookie)
	}

	if terminated {
		if n := parseLength(req.Header.Get(HeaderContentLength)); n > 0 {
			if n > len(rest) {
				n = len(rest)
			}
			req.Body = make([]byte, n)
			copy(req.Body, rest[:n])
		}
	}

	return req, nil
}

// RequestComplete reports whether buf holds a whole request: a header block
// ended by a blank line plus at least the declared Content-Length bytes.
func RequestComplete(buf []byte) bool {
	rest := buf
	first := true
	length := 0
	for {
		line, next, ok := nextLine(rest)
		if !ok {
			return false
		}
		rest = next
		if first {
			first = false
			continue
		}
		if len(line) == 0 {
			return len(rest) >= length
		}
		if name, value, ok := splitHeaderLine(line); ok && strings.EqualFold(name, HeaderContentLength) {
			length = parseLength(value)
		}
	}
}

// nextLine splits off the first line of b, without its terminator. ok is
// false when b holds no line feed, in which case line is all of b.
func nextLine(b []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return bytes.TrimSuffix(b, []byte{'\r'}), nil, false
	}
	return bytes.TrimSuffix(b[:i], []byte{'\r'}), b[i+1:], true
}

// splitHeaderLine splits "Name: value". Whitespace is allowed between the
// name and the colon but not before the name.
func splitHeaderLine(line []byte) (name, value string, ok bool) {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return "", "", false
	}
	name = string(bytes.TrimRight(line[:colon], " \t"))
	if !httpguts.ValidHeaderFieldName(name) {
		return "", "", false
	}
	return name, string(bytes.TrimSpace(line[colon+1:])), true
}

func splitTarget(target string) (path string, query map[string]string, ok bool) {
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = target[:i]
	}
	rawQuery := ""
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target, rawQuery = target[:i], target[i+1:]
	}

	if !strings.HasPrefix(target, "/") {
		// absolute-form: http://host/path
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			return "", nil, false
		}
		target = u.EscapedPath()
		if target == "" {
			target = "/"
		}
	}

	query = make(map[string]string)
	values, _ := url.ParseQuery(rawQuery)
	for k, vs := range values {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}
	return target, query, true
}

// parseHost keeps the leading run of the value that contains neither a
// colon nor whitespace.
func parseHost(value string) string {
	value = strings.TrimLeft(value, " \t")
	end := strings.IndexAny(value, ": \t")
	if end < 0 {
		return value
	}
	return value[:end]
}

// parseCookies fills dst from a Cookie header. Segments that do not hold
// exactly one '=' are skipped.
func parseCookies(dst map[string]string, header string) {
	for _, segment := range strings.Split(header, ";") {
		kv := strings.Split(segment, "=")
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		dst[name] = strings.TrimSpace(kv[1])
	}
}

// parseLength returns the declared body length; anything that is not a
// non-negative integer counts as zero.
func parseLength(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
