package http

import "strconv"

const crlf = "\r\n"

// Status codes the runtime itself produces
const (
	StatusOK                  = 200
	StatusNoContent           = 204
	StatusBadRequest          = 400
	StatusNotFound            = 404
	StatusInternalServerError = 500
)

var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	102: "Processing",
	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	207: "Multi-Status",
	208: "Already Reported",
	226: "IM Used",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	306: "Switch Proxy",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	500: "Internal Server Error",
}

// StatusText returns the reason phrase for code, or "Other" for codes
// outside the table.
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Other"
}

// normalizeStatus maps codes that cannot appear on a status line to 500.
func normalizeStatus(code int) int {
	if code < 100 || code > 999 {
		return StatusInternalServerError
	}
	return code
}

// WriteHeaders renders one "Name: value" line per field in insertion order,
// joined by CRLF, without a trailing separator.
func WriteHeaders(h Header) string {
	return string(appendHeaders(nil, &h))
}

func appendHeaders(b []byte, h *Header) []byte {
	for i, f := range h.fields {
		if i > 0 {
			b = append(b, crlf...)
		}
		b = append(b, f.name...)
		b = append(b, ": "...)
		b = append(b, f.value...)
	}
	return b
}

// WriteResponse serializes a complete response: status line, headers, one
// blank line, the body verbatim and a trailing CRLF.
func WriteResponse(h Header, code int, body []byte) []byte {
	code = normalizeStatus(code)

	buf := make([]byte, 0, 64+len(body)+32*h.Len())

	// Status line
	buf = append(buf, Version...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(code), 10)
	buf = append(buf, ' ')
	buf = append(buf, StatusText(code)...)
	buf = append(buf, crlf...)

	// Headers
	if h.Len() > 0 {
		buf = appendHeaders(buf, &h)
		buf = append(buf, crlf...)
	}
	buf = append(buf, crlf...)

	// Body
	buf = append(buf, body...)
	buf = append(buf, crlf...)

	return buf
}
