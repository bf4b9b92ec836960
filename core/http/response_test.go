package http

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func newTestResponse() (*Response, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewResponse(&buf, nil), &buf
}

// TestResponseSendInference 测试内容类型推断
func TestResponseSendInference(t *testing.T) {
	tests := []struct {
		name string
		body any
		want string
	}{
		{
			name: "plain string",
			body: "hello",
			want: "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nhello\r\n",
		},
		{
			name: "html string",
			body: "<p>x</p>",
			want: "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 8\r\n\r\n<p>x</p>\r\n",
		},
		{
			name: "bytes",
			body: []byte("raw"),
			want: "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 3\r\n\r\nraw\r\n",
		},
		{
			name: "map",
			body: map[string]int{"b": 2, "a": 1},
			want: "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 13\r\n\r\n{\"a\":1,\"b\":2}\r\n",
		},
		{
			name: "number",
			body: 42,
			want: "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 2\r\n\r\n42\r\n",
		},
		{
			name: "nil",
			body: nil,
			want: "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\n\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, buf := newTestResponse()
			if err := res.Send(tt.body); err != nil {
				t.Fatal(err)
			}
			if buf.String() != tt.want {
				t.Errorf("got\n%q\nwant\n%q", buf.String(), tt.want)
			}
		})
	}
}

func TestResponseExplicitContentType(t *testing.T) {
	res, buf := newTestResponse()
	res.Set("Content-Type", "text/css").Status(201)

	if err := res.Send("<not html>"); err != nil {
		t.Fatal(err)
	}
	want := "HTTP/1.1 201 Created\r\nContent-Type: text/css\r\nContent-Length: 10\r\n\r\n<not html>\r\n"
	if buf.String() != want {
		t.Errorf("got %q", buf.String())
	}
}

func TestResponseContentLengthCountsBytes(t *testing.T) {
	res, buf := newTestResponse()
	if err := res.Send("héllo"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Content-Length: 6\r\n") {
		t.Errorf("Expected byte length 6, got %q", buf.String())
	}
}

// TestResponseSendOnce 测试只发送一次
func TestResponseSendOnce(t *testing.T) {
	res, buf := newTestResponse()
	calls := 0
	res.OnSent(func() { calls++ })

	if err := res.Send("first"); err != nil {
		t.Fatal(err)
	}
	size := buf.Len()

	if err := res.Send("second"); err != nil {
		t.Errorf("Expected nil error on second send, got %v", err)
	}
	if err := res.SendError(500, "boom"); err != nil {
		t.Errorf("Expected nil error on late SendError, got %v", err)
	}

	if buf.Len() != size {
		t.Errorf("Expected no further bytes, got %q", buf.String())
	}
	if calls != 1 {
		t.Errorf("Expected OnSent once, got %d", calls)
	}
	if !res.Sent() {
		t.Error("Expected Sent() true")
	}
}

func TestResponseClosed(t *testing.T) {
	res, buf := newTestResponse()
	res.MarkClosed()

	if err := res.Send("late"); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected nothing written, got %q", buf.String())
	}
	if !res.Closed() || res.Sent() {
		t.Errorf("Unexpected state closed=%v sent=%v", res.Closed(), res.Sent())
	}
}

func TestResponseJSON(t *testing.T) {
	res, buf := newTestResponse()
	res.Set("Content-Type", "text/plain")

	if err := res.JSON(nil); err != nil {
		t.Fatal(err)
	}
	want := "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 4\r\n\r\nnull\r\n"
	if buf.String() != want {
		t.Errorf("got %q", buf.String())
	}
}

// cookie echoes keep markup characters literal
func TestResponseJSONNoHTMLEscape(t *testing.T) {
	res, buf := newTestResponse()

	if err := res.Send(map[string]string{"v": "<a>&"}); err != nil {
		t.Fatal(err)
	}
	want := "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 12\r\n\r\n{\"v\":\"<a>&\"}\r\n"
	if buf.String() != want {
		t.Errorf("got %q\nwant %q", buf.String(), want)
	}
}

func TestResponseJSONError(t *testing.T) {
	res, buf := newTestResponse()

	err := res.JSON(map[string]any{"ch": make(chan int)})
	if err == nil {
		t.Fatal("Expected encoding error")
	}
	if res.Sent() || buf.Len() != 0 {
		t.Error("Expected nothing sent after encoding error")
	}
}

func TestResponseProtobuf(t *testing.T) {
	msg, err := structpb.NewStruct(map[string]any{"ones": 2, "zeros": 1})
	if err != nil {
		t.Fatal(err)
	}

	res, buf := newTestResponse()
	if err := res.Send(msg); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(buf.String(), "\r\n\r\n{\"ones\":2,\"zeros\":1}\r\n") {
		t.Errorf("Unexpected body %q", buf.String())
	}
	if !strings.Contains(buf.String(), "Content-Type: application/json\r\n") {
		t.Errorf("Expected JSON content type, got %q", buf.String())
	}

	res, buf = newTestResponse()
	if err := res.JSON(wrapperspb.String("hi")); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(buf.String(), "\r\n\r\n\"hi\"\r\n") {
		t.Errorf("Unexpected body %q", buf.String())
	}
}

// TestResponseSendError 测试错误响应
func TestResponseSendError(t *testing.T) {
	res, buf := newTestResponse()
	res.Set("X-Dropped", "1").Set("Content-Type", "application/json").Cookie("a", "1")

	if err := res.SendError(404, "Request timed out"); err != nil {
		t.Fatal(err)
	}
	want := "HTTP/1.1 404 Not Found\r\nContent-Type: text/plain\r\nContent-Length: 17\r\n\r\nRequest timed out\r\n"
	if buf.String() != want {
		t.Errorf("got %q", buf.String())
	}
	if res.StatusCode() != 404 {
		t.Errorf("Expected 404, got %d", res.StatusCode())
	}
}

func TestResponseStatusNormalized(t *testing.T) {
	res, _ := newTestResponse()
	if got := res.Status(1000).StatusCode(); got != 500 {
		t.Errorf("Expected 500, got %d", got)
	}
	if got := res.Status(99).StatusCode(); got != 500 {
		t.Errorf("Expected 500, got %d", got)
	}
	if got := res.Status(999).StatusCode(); got != 999 {
		t.Errorf("Expected 999, got %d", got)
	}
}

func TestResponseCookiesAndInvalidHeaders(t *testing.T) {
	res, buf := newTestResponse()
	res.Cookie("a", "1").Cookie("b", "2")
	res.Set("Bad Name", "x").Set("X-Bad-Value", "a\r\nInjected: 1")

	if res.Get("X-Bad-Value") != "" {
		t.Error("Expected invalid value dropped")
	}
	if err := res.Send(nil); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Set-Cookie: a=1\r\nSet-Cookie: b=2\r\n") {
		t.Errorf("Expected two Set-Cookie fields, got %q", out)
	}
	if strings.Contains(out, "Injected") || strings.Contains(out, "Bad Name") {
		t.Errorf("Invalid header leaked: %q", out)
	}
}

type failingWriter struct{}

var errBrokenPipe = errors.New("broken pipe")

func (failingWriter) Write(p []byte) (int, error) { return 0, errBrokenPipe }

func TestResponseWriteError(t *testing.T) {
	res := NewResponse(failingWriter{}, nil)
	called := false
	res.OnSent(func() { called = true })

	err := res.Send("x")
	if !errors.Is(err, errBrokenPipe) {
		t.Errorf("Expected wrapped write error, got %v", err)
	}
	if !res.Sent() || !called {
		t.Error("A failed write still finishes the response")
	}
}

func TestResponseConcurrentSend(t *testing.T) {
	res, buf := newTestResponse()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Send("payload")
		}()
	}
	wg.Wait()

	if strings.Count(buf.String(), "HTTP/1.1") != 1 {
		t.Errorf("Expected exactly one response, got %q", buf.String())
	}
}

func TestRequestHelpers(t *testing.T) {
	req, err := ParseRequest([]byte("POST /a?id=q&x=1 HTTP/1.1\r\nContent-Type: application/json; charset=utf-8\r\nContent-Length: 9\r\n\r\n{\"n\":42}\n"))
	if err != nil {
		t.Fatal(err)
	}
	req.Params = map[string]string{"id": "p"}

	if req.Param("id") != "p" {
		t.Errorf("Expected path param to win, got %q", req.Param("id"))
	}
	if req.Param("x") != "1" {
		t.Errorf("Expected query fallback, got %q", req.Param("x"))
	}
	if !req.Is("json") || !req.Is("^application/") {
		t.Error("Expected content type to match")
	}
	if req.Is("xml") || req.Is("[") {
		t.Error("Unexpected match")
	}

	var body struct {
		N int `json:"n"`
	}
	if err := req.Bind(&body); err != nil || body.N != 42 {
		t.Errorf("Bind = %v, n=%d", err, body.N)
	}

	var msg structpb.Struct
	if err := req.Bind(&msg); err != nil {
		t.Fatalf("Bind protobuf: %v", err)
	}
	if msg.Fields["n"].GetNumberValue() != 42 {
		t.Errorf("Unexpected message %v", &msg)
	}

	empty := &Request{}
	if err := empty.Bind(&body); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("Expected ErrEmptyBody, got %v", err)
	}
}
