package router

import (
	"errors"
	"testing"
)

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		match   bool
		params  map[string]string
	}{
		// root matches everything
		{"/", "/", true, map[string]string{}},
		{"/", "/anything/at/all", true, map[string]string{}},

		// static prefixes match their own path and anything beneath
		{"/hello/world", "/hello/world", true, map[string]string{}},
		{"/hello/world", "/hello/world/extra", true, map[string]string{}},
		{"/hello/world", "/hello/worldwide", false, nil},
		{"/hello/world", "/hello", false, nil},
		{"/hello/world", "/hello/", false, nil},

		// named parameters
		{"/a/:x", "/a/1", true, map[string]string{"x": "1"}},
		{"/a/:x", "/a/1/2", true, map[string]string{"x": "1"}},
		{"/a/:x", "/a/", false, nil},
		{"/a/:x", "/a", false, nil},
		{"/add/:n/:m", "/add/3/4", true, map[string]string{"n": "3", "m": "4"}},
		{"/user/:id/profile", "/user/7/profile", true, map[string]string{"id": "7"}},
		{"/user/:id/profile", "/user/7/settings", false, nil},

		// trailing catch-all
		{"/www/*file", "/www/css/site.css", true, map[string]string{"file": "css/site.css"}},
		{"/www/*file", "/www/", true, map[string]string{"file": ""}},
		{"/www/*file", "/www", false, nil},
		{"/*all", "/x/y", true, map[string]string{"all": "x/y"}},
		{"/*all", "/", true, map[string]string{"all": ""}},

		// trailing slash requires one
		{"/x/", "/x/", true, map[string]string{}},
		{"/x/", "/x/y", true, map[string]string{}},
		{"/x/", "/x", false, nil},

		{"/a", "a", false, nil},
	}

	for _, tt := range tests {
		p, err := Compile(tt.pattern)
		if err != nil {
			t.Fatalf("Compile(%q): %v", tt.pattern, err)
		}

		params, ok := p.Match(tt.path)
		if ok != tt.match {
			t.Errorf("%s ~ %s: expected match=%v, got %v", tt.pattern, tt.path, tt.match, ok)
			continue
		}
		if !ok {
			continue
		}
		if len(params) != len(tt.params) {
			t.Errorf("%s ~ %s: expected params %v, got %v", tt.pattern, tt.path, tt.params, params)
			continue
		}
		for k, v := range tt.params {
			if params[k] != v {
				t.Errorf("%s ~ %s: param %s expected %q, got %q", tt.pattern, tt.path, k, v, params[k])
			}
		}
		if _, leaked := params[RestParam]; leaked && tt.params[RestParam] == "" {
			t.Errorf("%s ~ %s: implicit wildcard leaked into params", tt.pattern, tt.path)
		}
	}
}

func TestPatternFreshParams(t *testing.T) {
	p := MustCompile("/a/:x")

	first, _ := p.Match("/a/1")
	second, _ := p.Match("/a/2")
	if first["x"] != "1" || second["x"] != "2" {
		t.Errorf("Params shared between matches: %v %v", first, second)
	}
}

func TestCompileInvalid(t *testing.T) {
	for _, pattern := range []string{
		"hello",
		"/a/*f/b",
		"/:",
		"/*",
		"/a:b",
		"/a*b",
		"/:id/:id",
		"/:bad-name",
	} {
		_, err := Compile(pattern)
		if !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("Compile(%q): expected ErrInvalidPattern, got %v", pattern, err)
		}
	}
}

func TestMustCompilePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic")
		}
	}()
	MustCompile("no-slash")
}

func BenchmarkPatternMatchStatic(b *testing.B) {
	p := MustCompile("/hello/world")
	for i := 0; i < b.N; i++ {
		p.Match("/hello/world")
	}
}

func BenchmarkPatternMatchParams(b *testing.B) {
	p := MustCompile("/add/:n/:m")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p.Match("/add/3/4")
	}
}
