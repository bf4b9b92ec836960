package middleware

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/mini-server/core/http"
	"github.com/searchktools/mini-server/core/router"
)

// Pipeline groups handlers so they can be registered as one route
type Pipeline struct {
	handlers []router.HandlerFunc
	name     string
}

// NewPipeline creates a new middleware pipeline
func NewPipeline(name string) *Pipeline {
	return &Pipeline{
		name:     name,
		handlers: make([]router.HandlerFunc, 0, 8),
	}
}

// Use adds a middleware to the pipeline
func (p *Pipeline) Use(handler router.HandlerFunc) *Pipeline {
	p.handlers = append(p.handlers, handler)
	return p
}

// Serve runs the handlers in order until one returns Stop. The route scan
// continues only if every handler continued.
func (p *Pipeline) Serve(req *http.Request, res *http.Response) router.Signal {
	for _, h := range p.handlers {
		if h(req, res) == router.Stop {
			return router.Stop
		}
	}
	return router.Continue
}

// Name identifies the pipeline in logs and error responses
func (p *Pipeline) Name() string {
	return p.name
}

// Common middleware implementations

// Logger logs each request and continues
func Logger(logger *slog.Logger) router.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(req *http.Request, res *http.Response) router.Signal {
		logger.Info("request", "method", req.Method, "path", req.Path, "host", req.Host)
		return router.Continue
	}
}

// CORS adds CORS headers and answers preflight requests
func CORS() router.HandlerFunc {
	return func(req *http.Request, res *http.Response) router.Signal {
		res.Set("Access-Control-Allow-Origin", "*")
		res.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		res.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if req.Method == http.MethodOptions {
			res.Status(http.StatusNoContent).Send(nil)
			return router.Stop
		}
		return router.Continue
	}
}

// RateLimiter answers 429 once more than requestsPerSecond requests arrive
// within a second
func RateLimiter(requestsPerSecond int) router.HandlerFunc {
	var (
		tokens     int
		lastRefill time.Time
		mu         sync.Mutex
	)

	tokens = requestsPerSecond
	lastRefill = time.Now()

	return func(req *http.Request, res *http.Response) router.Signal {
		mu.Lock()

		now := time.Now()
		elapsed := now.Sub(lastRefill)
		if elapsed > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}

		if tokens > 0 {
			tokens--
			mu.Unlock()
			return router.Continue
		}

		mu.Unlock()

		res.Status(429).JSON(map[string]string{
			"error": "Too Many Requests",
		})
		return router.Stop
	}
}

// RequestID adds a unique request ID
func RequestID() router.HandlerFunc {
	var counter atomic.Uint64

	return func(req *http.Request, res *http.Response) router.Signal {
		id := counter.Add(1)
		res.Set("X-Request-ID", strconv.FormatUint(id, 10))
		return router.Continue
	}
}
