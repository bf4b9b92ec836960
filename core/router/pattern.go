package router

import (
	"errors"
	"fmt"
	"strings"
)

// RestParam is the name of the wildcard appended to patterns that do not
// end in one. It never reaches handlers.
const RestParam = "rest"

var ErrInvalidPattern = errors.New("invalid route pattern")

type segmentType uint8

const (
	static   segmentType = iota // literal text
	param                       // :name
	catchAll                    // *name
)

type segment struct {
	typ  segmentType
	text string // literal text or parameter name
}

// Pattern is a compiled route pattern such as "/users/:id" or "/www/*file".
//
// A pattern without a trailing wildcard matches its own path and anything
// beneath it, as if "/*rest" had been appended.
type Pattern struct {
	raw      string
	segments []segment
	wildcard string // trailing wildcard name
	implicit bool   // wildcard was synthesized
	slash    bool   // pattern ends in '/' before the wildcard
}

// Compile parses pattern.
func Compile(pattern string) (*Pattern, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("%w %q: must begin with '/'", ErrInvalidPattern, pattern)
	}

	p := &Pattern{raw: pattern}
	parts := strings.Split(pattern[1:], "/")
	seen := make(map[string]bool)

	for i, part := range parts {
		last := i == len(parts)-1
		switch {
		case strings.HasPrefix(part, "*"):
			if !last {
				return nil, fmt.Errorf("%w %q: catch-all must end the pattern", ErrInvalidPattern, pattern)
			}
			name := part[1:]
			if err := checkName(pattern, name, seen); err != nil {
				return nil, err
			}
			p.wildcard = name
			p.slash = true
		case strings.HasPrefix(part, ":"):
			name := part[1:]
			if err := checkName(pattern, name, seen); err != nil {
				return nil, err
			}
			p.segments = append(p.segments, segment{typ: param, text: name})
		case strings.ContainsAny(part, ":*"):
			return nil, fmt.Errorf("%w %q: wildcard must start a segment", ErrInvalidPattern, pattern)
		case part == "" && last:
			p.slash = true
		default:
			p.segments = append(p.segments, segment{typ: static, text: part})
		}
	}

	if p.wildcard == "" {
		p.wildcard = RestParam
		p.implicit = true
	}
	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func checkName(pattern, name string, seen map[string]bool) error {
	if name == "" {
		return fmt.Errorf("%w %q: wildcards must be named", ErrInvalidPattern, pattern)
	}
	for _, c := range name {
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return fmt.Errorf("%w %q: bad wildcard name %q", ErrInvalidPattern, pattern, name)
		}
	}
	if seen[name] {
		return fmt.Errorf("%w %q: duplicate name %q", ErrInvalidPattern, pattern, name)
	}
	seen[name] = true
	return nil
}

// String returns the pattern as written.
func (p *Pattern) String() string {
	return p.raw
}

// Match matches path against the pattern and returns the captured
// parameters. A fresh map is returned on every successful call.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	if !strings.HasPrefix(path, "/") {
		return nil, false
	}
	rest := path[1:]
	params := make(map[string]string, len(p.segments)+1)

	for i, seg := range p.segments {
		if i > 0 {
			if !strings.HasPrefix(rest, "/") {
				return nil, false
			}
			rest = rest[1:]
		}

		end := strings.IndexByte(rest, '/')
		if end < 0 {
			end = len(rest)
		}
		value := rest[:end]

		switch seg.typ {
		case static:
			if value != seg.text {
				return nil, false
			}
		case param:
			if value == "" {
				return nil, false
			}
			params[seg.text] = value
		}
		rest = rest[end:]
	}

	// rest now begins after the last segment
	var tail string
	switch {
	case len(p.segments) == 0:
		// "/" or "/*name": everything after the leading slash
		tail = rest
	case p.slash:
		if !strings.HasPrefix(rest, "/") {
			return nil, false
		}
		tail = rest[1:]
	case rest == "":
		// "/x" matches "/x" itself
	case strings.HasPrefix(rest, "/") && p.implicit:
		tail = rest[1:]
	default:
		return nil, false
	}

	if !p.implicit {
		params[p.wildcard] = tail
	}
	return params, true
}
