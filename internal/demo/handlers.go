// Package demo holds the sample applications served by cmd/demo: a gamble
// counter, an arithmetic endpoint, static files and a few echo routes.
package demo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/searchktools/mini-server/core/http"
	"github.com/searchktools/mini-server/core/observability"
	"github.com/searchktools/mini-server/core/router"
)

// StaticPrefix is the route prefix for static files.
const StaticPrefix = "/www"

// suffixMIME lists the servable static file types.
var suffixMIME = map[string]string{
	"html": "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
}

// Registrar is satisfied by *core.Engine and *router.Router.
type Registrar interface {
	Use(pattern string, fn router.HandlerFunc) *router.Router
}

// Options configures the demo handlers.
type Options struct {
	Store     Store
	StaticDir string
	// StoreTimeout bounds a single store operation.
	StoreTimeout time.Duration
	// Stats, when set, is served as JSON under /stats.
	Stats  func() observability.Snapshot
	Logger *slog.Logger
}

// Handlers serves the demo routes.
type Handlers struct {
	store        Store
	staticDir    string
	storeTimeout time.Duration
	stats        func() observability.Snapshot
	logger       *slog.Logger
}

// New creates the demo handlers. A nil store keeps the tally in memory.
func New(opts Options) *Handlers {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handlers{
		store:        opts.Store,
		staticDir:    opts.StaticDir,
		storeTimeout: opts.StoreTimeout,
		stats:        opts.Stats,
		logger:       opts.Logger.With("component", "demo"),
	}
}

// Register adds every demo route to r.
func (h *Handlers) Register(r Registrar) {
	r.Use("/gamble/:option", h.Gamble)
	r.Use("/hello/world", h.Hello)
	r.Use("/add/:n/:m", h.Add)
	r.Use(StaticPrefix+"/*file", h.Static)
	r.Use("/cookie", h.Cookie)
	r.Use("/request/host", h.Host)
	if h.stats != nil {
		r.Use("/stats", h.Stats)
	}
}

// Gamble plays 0 or 1, or resets the game, and answers with the tally as it
// was before. The store is consulted off the event loop.
func (h *Handlers) Gamble(req *http.Request, res *http.Response) router.Signal {
	option := req.Params["option"]
	if !ValidOption(option) {
		res.SendError(http.StatusNotFound, "Illegal gamble option: "+option)
		return router.Stop
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
		defer cancel()

		old, err := h.store.Apply(ctx, option)
		if err != nil {
			h.logger.Error("gamble failed", "option", option, "error", err)
			res.SendError(http.StatusInternalServerError, "Could not update the game")
			return
		}
		res.JSON(old)
	}()
	return router.Stop
}

// Hello answers "hello world".
func (h *Handlers) Hello(req *http.Request, res *http.Response) router.Signal {
	res.Set(http.HeaderContentType, http.MIMEText).Send("hello world")
	return router.Stop
}

// Add multiplies its two operands.
func (h *Handlers) Add(req *http.Request, res *http.Response) router.Signal {
	n, errN := strconv.ParseInt(req.Params["n"], 10, 64)
	m, errM := strconv.ParseInt(req.Params["m"], 10, 64)
	if err := errors.Join(errN, errM); err != nil {
		h.logger.Debug("bad operands", "path", req.Path, "error", err)
		res.SendError(http.StatusBadRequest, "Error in /add/:n/:m")
		return router.Stop
	}

	res.JSON(map[string]int64{"result": n * m})
	return router.Stop
}

// Static serves html, css and js files below the static directory. The file
// is read on a separate goroutine and sent when ready.
func (h *Handlers) Static(req *http.Request, res *http.Response) router.Signal {
	name := req.Params["file"]
	mime, ok := staticType(name)
	if !ok {
		res.SendError(http.StatusNotFound, "Invalid file: "+name)
		return router.Stop
	}

	go func() {
		data, err := h.readStatic(name)
		if err != nil {
			h.logger.Warn("static file unreadable", "file", name, "error", err)
			res.SendError(http.StatusNotFound, "Could not read file: "+name)
			return
		}
		res.Set(http.HeaderContentType, mime).Send(data)
	}()
	return router.Stop
}

// staticType validates a requested file name and returns its MIME type.
func staticType(name string) (string, bool) {
	if name == "" || strings.Contains(name, "\\") {
		return "", false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", false
		}
	}
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", false
	}
	mime, ok := suffixMIME[name[i+1:]]
	return mime, ok
}

// readStatic reads name without leaving the static directory.
func (h *Handlers) readStatic(name string) ([]byte, error) {
	root, err := os.OpenRoot(h.staticDir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(path.Clean(name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// Cookie echoes the request cookies as JSON.
func (h *Handlers) Cookie(req *http.Request, res *http.Response) router.Signal {
	res.Send(req.Cookies)
	return router.Stop
}

// Host echoes the request host.
func (h *Handlers) Host(req *http.Request, res *http.Response) router.Signal {
	res.Send(req.Host)
	return router.Stop
}

// Stats serves engine metrics.
func (h *Handlers) Stats(req *http.Request, res *http.Response) router.Signal {
	if err := res.JSON(h.stats()); err != nil {
		res.SendError(http.StatusInternalServerError, fmt.Sprintf("Could not encode stats: %v", err))
	}
	return router.Stop
}
