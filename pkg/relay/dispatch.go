package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"trestle/pkg/logger"
)

// Options configures a Bridge.
type Options struct {
	// Origin, when set, pins the scheme and host of every request URL and
	// must be of the form scheme://host. When empty the origin is derived
	// per request from headers and connection state.
	Origin string

	// TrustProxy enables X-Forwarded-* header handling. Leave false unless
	// a trusted proxy terminates in front of the server.
	TrustProxy bool

	// BodyBufferChunks caps how many request body chunks may sit between
	// the engine pump and the handler before the pump blocks. Zero means
	// the default depth.
	BodyBufferChunks int

	// SlowRequest, when positive, logs a warning for exchanges that take
	// longer than this to complete.
	SlowRequest time.Duration

	// Env resolves handler environment lookups. Defaults to os.LookupEnv.
	Env func(name string) (string, bool)

	// BaseContext is the parent of every request context. Defaults to
	// context.Background.
	BaseContext context.Context
}

// Bridge dispatches native exchanges from any engine binding to a single
// handler. One Bridge serves any number of engines concurrently.
type Bridge struct {
	handler    Handler
	opts       Options
	origin     *originResolver
	base       context.Context
	taskCtx    context.Context
	taskCancel context.CancelFunc
	tasks      sync.WaitGroup
}

// New builds a Bridge around handler. The configured origin, when present,
// is validated here so a malformed value fails startup instead of skewing
// every request URL.
func New(handler Handler, opts Options) (*Bridge, error) {
	if handler == nil {
		return nil, errors.New("relay: nil handler")
	}
	origin, err := newOriginResolver(opts.Origin, opts.TrustProxy)
	if err != nil {
		return nil, err
	}
	if opts.Env == nil {
		opts.Env = os.LookupEnv
	}
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	taskCtx, taskCancel := context.WithCancel(context.Background())
	return &Bridge{
		handler:    handler,
		opts:       opts,
		origin:     origin,
		base:       base,
		taskCtx:    taskCtx,
		taskCancel: taskCancel,
	}, nil
}

// Serve runs one exchange: translate the native request, invoke the handler
// exactly once, write exactly one response. It returns nil when a response
// was written, ErrPassThrough when the handler declined the request,
// ErrAborted when the peer went away, and the source error when a streamed
// response body failed mid-flight (the engine must then sever the
// connection).
func (b *Bridge) Serve(conn Conn) error {
	start := time.Now()
	engine := conn.Platform().Engine
	inFlight.Inc()
	defer inFlight.Dec()

	abort := NewAbortSignal()
	conn.OnAbort(abort.Trip)

	req, ip := b.newRequest(conn, abort)
	if abort.Set() {
		b.release(req)
		abortsTotal.WithLabelValues("receive").Inc()
		return ErrAborted
	}

	reqCtx, cancel := context.WithCancel(b.base)
	defer cancel()
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-abort.Done():
			cancel()
		case <-stopWatch:
		}
	}()

	c := &Ctx{
		Request:  req,
		IP:       ip,
		Platform: conn.Platform(),
		ctx:      reqCtx,
		abort:    abort,
		bridge:   b,
	}

	resp, herr := b.invoke(c)

	if c.passThrough && resp == nil && herr == nil {
		b.release(req)
		passThroughTotal.Inc()
		return ErrPassThrough
	}

	if herr != nil {
		if abort.Set() {
			// the peer is gone; nothing useful to report to it
			logger.Debug("handler_error_after_abort", "method", req.Method, "url", req.URL, "error", herr)
			b.release(req)
			abortsTotal.WithLabelValues("handle").Inc()
			return ErrAborted
		}
		logger.Error("handler_error", "method", req.Method, "url", req.URL, "error", herr)
		handlerErrors.Inc()
		resp = internalErrorResponse()
	} else if resp == nil {
		logger.Error("handler_nil_response", "method", req.Method, "url", req.URL)
		handlerErrors.Inc()
		resp = internalErrorResponse()
	}

	if abort.Set() {
		b.release(req)
		abortsTotal.WithLabelValues("handle").Inc()
		return ErrAborted
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	ex := &exchange{conn: conn, abort: abort}
	werr := ex.write(resp, func() { b.release(req) })
	if !ex.streamed {
		b.release(req)
	}

	dur := time.Since(start)
	if b.opts.SlowRequest > 0 && dur > b.opts.SlowRequest {
		logger.Warn("slow_request", "method", req.Method, "url", req.URL, "duration_ms", dur.Milliseconds())
	}

	switch {
	case werr == nil:
		requestsTotal.WithLabelValues(engine, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(engine).Observe(dur.Seconds())
		return nil
	case errors.Is(werr, ErrAborted):
		abortsTotal.WithLabelValues("respond").Inc()
		return ErrAborted
	default:
		return werr
	}
}

// invoke calls the handler with panic containment. A panicking handler is
// reported as a handler error so the exchange still ends in a clean 500.
func (b *Bridge) invoke(c *Ctx) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler_panic", "method", c.Request.Method, "url", c.Request.URL,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			resp, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return b.handler(c)
}

// internalErrorResponse is the generic failure answer. It carries no detail
// from the handler error so internals never leak to the peer.
func internalErrorResponse() *Response {
	return Text(http.StatusInternalServerError, "Internal Server Error")
}

func (b *Bridge) release(req *Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

// track registers a deferred task that outlives its request. Tasks run on a
// context cancelled only when the Bridge closes, so a finished exchange does
// not cut them short.
func (b *Bridge) track(task func(ctx context.Context)) {
	if task == nil {
		return
	}
	b.tasks.Add(1)
	go func() {
		defer b.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("deferred_task_panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			}
		}()
		task(b.taskCtx)
	}()
}

// Close waits for deferred tasks to finish. When ctx expires first the task
// context is cancelled and stragglers are abandoned.
func (b *Bridge) Close(ctx context.Context) error {
	defer b.taskCancel()
	done := make(chan struct{})
	go func() {
		b.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
