/*
Package miniserver is a minimal HTTP/1.1 server framework built directly on
non-blocking sockets and epoll/kqueue.

Every connection carries exactly one request. The engine buffers the request
until it is complete, parses it, and scans the registered routes in order.
Each matching handler receives the request and a response builder and returns
router.Continue to pass the request on or router.Stop to end the scan. A
response is written at most once, and the connection is closed after it.
Requests that nobody answers before the request timeout get 404.

Quick Start

	package main

	import (
		"context"

		"github.com/searchktools/mini-server/app"
		"github.com/searchktools/mini-server/config"
		"github.com/searchktools/mini-server/core/http"
		"github.com/searchktools/mini-server/core/router"
	)

	func main() {
		cfg, _ := config.New()
		application := app.New(cfg, nil)

		application.Engine().Use("/hello/:name", func(req *http.Request, res *http.Response) router.Signal {
			res.Send("Hello, " + req.Params["name"])
			return router.Stop
		})

		application.Run(context.Background())
	}

Modules

  - app: Application lifecycle and graceful shutdown
  - config: Flag, environment and JSON configuration
  - logging: log/slog logger construction
  - core: Event loop, connection state machine, dispatch and timers
  - core/http: Request parser, headers and response builder
  - core/router: Route patterns and the ordered route table
  - core/middleware: Logger, CORS, request IDs and rate limiting
  - core/pools: Read buffer pooling
  - core/poller: I/O multiplexing (epoll/kqueue)
  - core/observability: Per-route and outcome metrics

The demo server in cmd/demo serves a small game, an arithmetic endpoint and
static files from www/.
*/
package miniserver
