package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/searchktools/mini-server/config"
	"github.com/searchktools/mini-server/core/http"
	"github.com/searchktools/mini-server/core/router"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Port = 0
	cfg.RequestTimeout = time.Second
	return cfg
}

func TestAppRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(testConfig(), logger)
	a.Engine().Use("/ping", func(req *http.Request, res *http.Response) router.Signal {
		res.Send("pong")
		return router.Stop
	})

	ports := make(chan int, 1)
	a.OnStart(func(port int) { ports <- port })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var port int
	select {
	case port = <-ports:
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	conn.Write([]byte("GET /ping HTTP/1.1\r\n\r\n"))
	out, _ := io.ReadAll(conn)
	conn.Close()
	if !strings.HasSuffix(string(out), "\r\n\r\npong\r\n") {
		t.Errorf("Unexpected response %q", out)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAppRunBindError(t *testing.T) {
	l, err := net.Listen("tcp4", "0.0.0.0:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	cfg := testConfig()
	cfg.Port = l.Addr().(*net.TCPAddr).Port

	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Expected bind error")
	}
}
