package core

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/mini-server/core/http"
	"github.com/searchktools/mini-server/core/observability"
	"github.com/searchktools/mini-server/core/poller"
	"github.com/searchktools/mini-server/core/pools"
	"github.com/searchktools/mini-server/core/router"
)

// State is the lifecycle position of a connection
type State uint8

// Connection states
const (
	StateIdle State = iota
	StateReceiving
	StateDispatching
	StateWriting
	StateSent
	StateTimedOut
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateDispatching:
		return "dispatching"
	case StateWriting:
		return "writing"
	case StateSent:
		return "sent"
	case StateTimedOut:
		return "timed_out"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	initialReadSize = 1024
	maxWaitMillis   = 100
)

// Connection is one accepted socket carrying a single request
type Connection struct {
	fd       int
	state    State
	buf      []byte
	n        int
	peerDone bool // peer half-closed; fd no longer watched for reads
	req      *http.Request
	res      *http.Response
	route    string
	started  time.Time
	deadline time.Time // of the current phase: receive, dispatch or write
	outcome  observability.Outcome

	pending []byte // serialized response, guarded by Engine.mu

	out          []byte
	written      int
	writeWatched bool
}

// timed reports whether the connection's deadline can still fire
func (c *Connection) timed() bool {
	switch c.state {
	case StateIdle, StateReceiving, StateWriting:
		return true
	case StateDispatching:
		return !c.res.Sent()
	}
	return false
}

// Options configures an Engine; zero fields take defaults
type Options struct {
	// ReadTimeout bounds how long a connection may take to deliver its
	// request; zero uses RequestTimeout
	ReadTimeout     time.Duration
	RequestTimeout  time.Duration
	MaxRequestBytes int
	WriteTimeout    time.Duration
	Logger          *slog.Logger
}

// Engine is a single-threaded, event-driven HTTP/1.1 engine on epoll/kqueue.
// One goroutine accepts connections, reads requests, runs handlers, writes
// responses and expires deadlines; none of it blocks on a socket. Each
// connection carries exactly one request.
type Engine struct {
	router       *router.Router
	logger       *slog.Logger
	readTimeout  time.Duration
	timeout      time.Duration
	maxBytes     int
	writeTimeout time.Duration
	bytePool     *pools.BytePool
	monitor      *observability.Monitor
	scratch      []byte

	started  atomic.Bool
	stopping atomic.Bool

	// Owned by the loop goroutine
	poller poller.Poller
	lfd    int
	port   int
	wakeR  int
	conns  map[int]*Connection

	// Responses may be sent from handler goroutines; they queue here and
	// the loop writes them
	mu       sync.Mutex
	finished []*Connection
	wakeW    int
}

// NewEngine creates a new engine instance
func NewEngine(opts Options) *Engine {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = opts.RequestTimeout
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{
		router:       router.New(),
		logger:       opts.Logger.With("component", "engine"),
		readTimeout:  opts.ReadTimeout,
		timeout:      opts.RequestTimeout,
		maxBytes:     opts.MaxRequestBytes,
		writeTimeout: opts.WriteTimeout,
		bytePool:     pools.NewBytePool(),
		monitor:      observability.NewMonitor(),
		scratch:      make([]byte, 4096),
		lfd:          -1,
		wakeR:        -1,
		wakeW:        -1,
		conns:        make(map[int]*Connection),
	}
}

// Router returns the engine's route table
func (e *Engine) Router() *router.Router {
	return e.router
}

// Use registers a handler under pattern ("" means "/"). Routes must be
// registered before the engine starts.
func (e *Engine) Use(pattern string, fn router.HandlerFunc) *router.Router {
	return e.Handle(pattern, fn)
}

// Handle registers h under pattern. Routes must be registered before the
// engine starts.
func (e *Engine) Handle(pattern string, h router.Handler) *router.Router {
	if e.started.Load() {
		panic("core: routes must be registered before the engine starts")
	}
	return e.router.Handle(pattern, h)
}

// Stats returns dispatch metrics
func (e *Engine) Stats() observability.Snapshot {
	return e.monitor.Snapshot()
}

// Server is the handle returned by Start
type Server struct {
	engine *Engine
	port   int
	done   chan struct{}
	err    error
}

// Port returns the bound port, which differs from the requested one when
// that was 0
func (s *Server) Port() int { return s.port }

// Stop stops accepting connections. In-flight connections run to
// completion or to their deadline, after which Done is closed.
func (s *Server) Stop() { s.engine.Stop() }

// Done is closed once the event loop has exited
func (s *Server) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the event loop, if any. It is only
// meaningful after Done is closed.
func (s *Server) Err() error { return s.err }

// Start binds port on all interfaces, reports the outcome to callback (if
// non-nil) and runs the event loop in the background.
func (e *Engine) Start(port int, callback func(err error)) *Server {
	srv := &Server{engine: e, port: port, done: make(chan struct{})}

	err := e.listen(&net.TCPAddr{Port: port})
	if callback != nil {
		callback(err)
	}
	if err != nil {
		srv.err = err
		close(srv.done)
		return srv
	}

	srv.port = e.port
	go func() {
		srv.err = e.loop()
		close(srv.done)
	}()
	return srv
}

// Run binds addr and serves until Stop is called and in-flight
// connections have drained
func (e *Engine) Run(addr string) error {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}
	if err := e.listen(laddr); err != nil {
		return err
	}
	return e.loop()
}

// Stop stops accepting new connections; it is safe to call from any
// goroutine and more than once
func (e *Engine) Stop() {
	if e.stopping.CompareAndSwap(false, true) {
		e.wakeup()
	}
}

func (e *Engine) listen(addr *net.TCPAddr) error {
	if e.stopping.Load() {
		return ErrServerClosed
	}
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	lfd, port, err := listenSocket(addr)
	if err != nil {
		return err
	}

	p, err := poller.NewPoller()
	if err != nil {
		unix.Close(lfd)
		return fmt.Errorf("create poller: %w", err)
	}

	wakeR, wakeW, err := newWakePipe()
	if err != nil {
		p.Close()
		unix.Close(lfd)
		return err
	}

	if err := p.Add(lfd); err != nil {
		p.Close()
		unix.Close(lfd)
		unix.Close(wakeR)
		unix.Close(wakeW)
		return fmt.Errorf("watch listener: %w", err)
	}
	if err := p.Add(wakeR); err != nil {
		p.Close()
		unix.Close(lfd)
		unix.Close(wakeR)
		unix.Close(wakeW)
		return fmt.Errorf("watch wake pipe: %w", err)
	}

	e.poller = p
	e.lfd = lfd
	e.port = port
	e.wakeR = wakeR
	e.mu.Lock()
	e.wakeW = wakeW
	e.mu.Unlock()

	e.logger.Info("listening", "port", port, "routes", e.router.Len(), "timeout", e.timeout)
	return nil
}

// loop is the event loop. It returns once the listener is closed and no
// connection remains.
func (e *Engine) loop() error {
	defer e.shutdown()

	for {
		if e.stopping.Load() && e.lfd >= 0 {
			e.closeListener()
		}
		if e.lfd < 0 && len(e.conns) == 0 {
			return nil
		}

		fds, err := e.poller.Wait(e.waitTimeout(time.Now()))
		if err != nil {
			e.logger.Error("poller wait failed", "error", err)
			return fmt.Errorf("poller wait: %w", err)
		}

		for _, fd := range fds {
			switch {
			case fd == e.lfd:
				e.acceptConnections()
			case fd == e.wakeR:
				e.drainWake()
			default:
				e.handleConnectionEvent(fd)
			}
		}

		e.expireDeadlines(time.Now())
		e.writeFinished()
	}
}

// waitTimeout bounds the poller wait by the nearest live deadline
func (e *Engine) waitTimeout(now time.Time) int {
	wait := maxWaitMillis * time.Millisecond
	for _, conn := range e.conns {
		if !conn.timed() {
			continue
		}
		if d := conn.deadline.Sub(now); d < wait {
			wait = d
		}
	}
	if wait <= 0 {
		return 0
	}
	// round up so the deadline has passed when Wait returns
	return int((wait + time.Millisecond - 1) / time.Millisecond)
}

// acceptConnections accepts all pending connections
func (e *Engine) acceptConnections() {
	for {
		nfd, _, err := unix.Accept(e.lfd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return
			}
			if err == unix.ECONNABORTED {
				continue
			}
			e.logger.Error("accept failed", "error", err)
			return
		}

		if err := configureConn(nfd); err != nil {
			unix.Close(nfd)
			continue
		}
		if err := e.poller.Add(nfd); err != nil {
			e.logger.Error("watch connection failed", "fd", nfd, "error", err)
			unix.Close(nfd)
			continue
		}

		e.conns[nfd] = &Connection{
			fd:       nfd,
			state:    StateIdle,
			buf:      e.bytePool.Get(min(initialReadSize, e.maxBytes)),
			deadline: time.Now().Add(e.readTimeout),
		}
		e.monitor.ConnectionOpened()
	}
}

// handleConnectionEvent handles readiness on a connection
func (e *Engine) handleConnectionEvent(fd int) {
	conn, ok := e.conns[fd]
	if !ok {
		return
	}

	switch conn.state {
	case StateIdle, StateReceiving:
		e.handleRead(conn)
	case StateWriting:
		e.flush(conn)
	default:
		e.discardInput(conn)
	}
}

// handleRead accumulates request bytes until a whole request is buffered
func (e *Engine) handleRead(conn *Connection) {
	n, err := unix.Read(conn.fd, conn.buf[conn.n:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		e.logger.Debug("read failed", "fd", conn.fd, "error", err)
		e.finishWith(conn, observability.OutcomePeerClosed)
		return
	}

	if n == 0 {
		if conn.n == 0 {
			e.finishWith(conn, observability.OutcomePeerClosed)
			return
		}
		// Peer finished sending; serve whatever arrived
		conn.peerDone = true
		e.poller.Remove(conn.fd)
		e.process(conn)
		return
	}

	conn.state = StateReceiving
	conn.n += n
	if http.RequestComplete(conn.buf[:conn.n]) {
		e.process(conn)
		return
	}
	// The buffer always has room for the next read
	if conn.n == len(conn.buf) && !e.growBuffer(conn) {
		e.logger.Warn("request too large", "fd", conn.fd, "limit", e.maxBytes)
		e.reject(conn, observability.OutcomeMalformed, ErrRequestTooLarge)
	}
}

// growBuffer doubles the read buffer up to the request size limit
func (e *Engine) growBuffer(conn *Connection) bool {
	if len(conn.buf) >= e.maxBytes {
		return false
	}
	size := 2 * len(conn.buf)
	if size > e.maxBytes {
		size = e.maxBytes
	}
	buf := e.bytePool.Get(size)
	copy(buf, conn.buf[:conn.n])
	e.bytePool.Put(conn.buf)
	conn.buf = buf
	return true
}

// discardInput drains bytes that arrive after the request was read; only
// one request is served per connection. A half-close still gets the
// response; a reset ends the connection.
func (e *Engine) discardInput(conn *Connection) {
	for {
		n, err := unix.Read(conn.fd, e.scratch)
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		if err != nil {
			e.logger.Debug("peer reset while dispatching", "fd", conn.fd, "state", conn.state, "error", err)
			e.finishWith(conn, observability.OutcomePeerClosed)
			return
		}
		if n == 0 {
			conn.peerDone = true
			e.poller.Remove(conn.fd)
			return
		}
	}
}

// queueWriter hands a serialized response to the loop instead of writing
// the socket from whichever goroutine sent it
type queueWriter struct {
	e    *Engine
	conn *Connection
}

func (w queueWriter) Write(p []byte) (int, error) {
	out := make([]byte, len(p))
	copy(out, p)

	w.e.mu.Lock()
	w.conn.pending = out
	w.e.mu.Unlock()
	return len(p), nil
}

func (e *Engine) newResponse(conn *Connection) *http.Response {
	res := http.NewResponse(queueWriter{e: e, conn: conn}, e.logger)
	res.OnSent(func() { e.finish(conn) })
	return res
}

// reject answers 400 without parsing
func (e *Engine) reject(conn *Connection, outcome observability.Outcome, cause error) {
	e.releaseBuffer(conn)
	conn.state = StateErrored
	conn.outcome = outcome
	conn.res = e.newResponse(conn)
	if err := conn.res.Status(http.StatusBadRequest).Send(nil); err != nil {
		e.logger.Debug("write 400 failed", "fd", conn.fd, "cause", cause, "error", err)
	}
}

// process parses the buffered request and dispatches it
func (e *Engine) process(conn *Connection) {
	req, err := http.ParseRequest(conn.buf[:conn.n])
	if err != nil {
		e.logger.Debug("malformed request", "fd", conn.fd, "error", err)
		e.reject(conn, observability.OutcomeMalformed, err)
		return
	}
	e.releaseBuffer(conn)

	conn.req = req
	conn.res = e.newResponse(conn)
	conn.state = StateDispatching
	conn.started = time.Now()
	conn.deadline = conn.started.Add(e.timeout)

	e.dispatch(conn)
}

// dispatch scans the routes in registration order. A handler returning
// Continue passes the request on; Stop ends the scan, and if nothing was
// sent the request waits for a late send or its deadline. A panic answers
// 500 and ends the scan.
func (e *Engine) dispatch(conn *Connection) {
	req, res := conn.req, conn.res

	for _, route := range e.router.Routes() {
		params, ok := route.Match(req.Path)
		if !ok {
			continue
		}
		req.Params = params
		conn.route = route.Name

		signal, err := invoke(route, req, res)
		if err != nil {
			e.logger.Error("handler failed", "route", route.Name, "method", req.Method, "path", req.Path, "error", err)
			conn.state = StateErrored
			conn.outcome = observability.OutcomeFailed
			// A handler that already sent keeps its response; either way
			// the connection closes once the write completes
			if err := res.SendError(http.StatusInternalServerError, fmt.Sprintf("Error in %s (middleware).", route.Name)); err != nil {
				e.logger.Debug("write 500 failed", "fd", conn.fd, "error", err)
			}
			return
		}
		if signal == router.Stop {
			return
		}
	}

	if !res.Sent() {
		conn.outcome = observability.OutcomeUnhandled
		if err := res.SendError(http.StatusNotFound, msgNotHandled); err != nil {
			e.logger.Debug("write 404 failed", "fd", conn.fd, "error", err)
		}
	}
}

func invoke(route *router.Route, req *http.Request, res *http.Response) (signal router.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return route.Handler.Serve(req, res), nil
}

// expireDeadlines acts on connections whose current phase ran out of time.
// A partly received request gets 400 and an unanswered one gets 404.
func (e *Engine) expireDeadlines(now time.Time) {
	for _, conn := range e.conns {
		if !conn.timed() || now.Before(conn.deadline) {
			continue
		}

		switch conn.state {
		case StateIdle:
			e.logger.Debug("idle connection timed out", "fd", conn.fd)
			e.finishWith(conn, observability.OutcomeTimedOut)
		case StateReceiving:
			e.logger.Warn("request not received in time", "fd", conn.fd, "buffered", conn.n)
			e.reject(conn, observability.OutcomeTimedOut, ErrReadTimeout)
		case StateDispatching:
			e.logger.Warn("request timed out", "route", conn.route, "method", conn.req.Method, "path", conn.req.Path)
			conn.state = StateTimedOut
			conn.outcome = observability.OutcomeTimedOut
			if err := conn.res.SendError(http.StatusNotFound, msgTimedOut); err != nil {
				e.logger.Debug("write timeout response failed", "fd", conn.fd, "error", err)
			}
		case StateWriting:
			e.logger.Warn("response write timed out", "fd", conn.fd, "written", conn.written, "size", len(conn.out), "error", ErrWriteTimeout)
			e.finishWith(conn, observability.OutcomePeerClosed)
		}
	}
}

// finish queues conn for writing by the loop. Called from Response.OnSent,
// possibly on a handler goroutine.
func (e *Engine) finish(conn *Connection) {
	e.mu.Lock()
	e.finished = append(e.finished, conn)
	e.mu.Unlock()
	e.wakeup()
}

// finishWith closes conn immediately with the given outcome; loop only
func (e *Engine) finishWith(conn *Connection, outcome observability.Outcome) {
	conn.outcome = outcome
	e.closeConnection(conn)
}

func (e *Engine) wakeup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wakeW >= 0 {
		// EAGAIN means a wakeup is already pending
		unix.Write(e.wakeW, []byte{1})
	}
}

func (e *Engine) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(e.wakeR, buf[:])
		if err != nil || n <= 0 {
			return
		}
	}
}

// writeFinished starts writing the responses queued by finish
func (e *Engine) writeFinished() {
	e.mu.Lock()
	done := e.finished
	e.finished = nil
	e.mu.Unlock()

	for _, conn := range done {
		if e.conns[conn.fd] != conn || conn.state == StateWriting {
			continue
		}

		e.mu.Lock()
		out := conn.pending
		conn.pending = nil
		e.mu.Unlock()

		conn.state = StateWriting
		conn.out = out
		conn.deadline = time.Now().Add(e.writeTimeout)
		e.flush(conn)
	}
}

// flush writes as much of the response as the socket takes. When the send
// buffer is full the fd is watched for writability and the write resumes
// on the next event.
func (e *Engine) flush(conn *Connection) {
	for conn.written < len(conn.out) {
		n, err := unix.Write(conn.fd, conn.out[conn.written:])
		if n > 0 {
			conn.written += n
		}
		switch err {
		case nil, unix.EINTR:
			continue
		case unix.EAGAIN:
			if !conn.writeWatched {
				if err := e.poller.WatchWrite(conn.fd); err != nil {
					e.logger.Error("watch writability failed", "fd", conn.fd, "error", err)
					e.finishWith(conn, observability.OutcomePeerClosed)
					return
				}
				conn.writeWatched = true
			}
			return
		default:
			e.logger.Debug("write failed", "fd", conn.fd, "error", err)
			e.finishWith(conn, observability.OutcomePeerClosed)
			return
		}
	}

	conn.state = StateSent
	e.closeConnection(conn)
}

// closeConnection closes and cleans up a connection
func (e *Engine) closeConnection(conn *Connection) {
	delete(e.conns, conn.fd)

	// Remove from poller first (stop receiving events)
	if !conn.peerDone || conn.writeWatched {
		e.poller.Remove(conn.fd)
	}
	// Later sends become no-ops before the fd can be reused
	if conn.res != nil {
		conn.res.MarkClosed()
	}
	unix.Close(conn.fd)
	e.releaseBuffer(conn)
	conn.out = nil

	if conn.req != nil {
		e.monitor.RecordRequest(conn.route, time.Since(conn.started), conn.outcome != observability.OutcomeSent)
	}
	e.monitor.RecordOutcome(conn.outcome)
	e.monitor.ConnectionClosed()

	e.logger.Debug("connection closed", "fd", conn.fd, "state", conn.state, "outcome", conn.outcome)
	conn.state = StateClosed
}

func (e *Engine) releaseBuffer(conn *Connection) {
	if conn.buf != nil {
		e.bytePool.Put(conn.buf)
		conn.buf = nil
		conn.n = 0
	}
}

func (e *Engine) closeListener() {
	e.poller.Remove(e.lfd)
	unix.Close(e.lfd)
	e.lfd = -1
	e.logger.Info("stopped accepting connections", "in_flight", len(e.conns))
}

func (e *Engine) shutdown() {
	if e.lfd >= 0 {
		e.closeListener()
	}
	for _, conn := range e.conns {
		e.closeConnection(conn)
	}

	e.mu.Lock()
	unix.Close(e.wakeW)
	e.wakeW = -1
	e.mu.Unlock()

	unix.Close(e.wakeR)
	e.wakeR = -1
	e.poller.Close()
}
