// Package fasthttp binds the relay bridge to the fasthttp engine. Response
// bodies are streamed through fasthttp's deferred body writer, which runs
// after the native handler returns; the bridge keeps the request body alive
// until that writer finishes.
package fasthttp

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	fh "github.com/valyala/fasthttp"

	"trestle/pkg/relay"
)

// Options configures the fasthttp binding.
type Options struct {
	// Fallback handles requests the application passes through. Defaults
	// to a plain 404.
	Fallback fh.RequestHandler
	// StreamBody reads the request body from fasthttp's body stream
	// instead of the buffered PostBody. Requires a server built with
	// NewServer or with StreamRequestBody enabled.
	StreamBody bool
	// ReadChunk is the streamed request body read size. Defaults to 32KiB.
	ReadChunk int
	// MaxBody caps the request body size enforced by the server. Zero
	// keeps fasthttp's default.
	MaxBody int
	// Name is the Server header value.
	Name string
}

// Native is the escape-hatch handle exposed through Ctx.Platform.
type Native struct {
	Ctx *fh.RequestCtx
}

// FromPlatform returns the native handle when the exchange runs on this
// engine.
func FromPlatform(p relay.Platform) (*Native, bool) {
	n, ok := p.Handle.(*Native)
	return n, ok
}

// RequestHandler returns a fasthttp handler dispatching every request
// through b.
func RequestHandler(b *relay.Bridge, opt Options) fh.RequestHandler {
	fallback := opt.Fallback
	if fallback == nil {
		fallback = func(ctx *fh.RequestCtx) {
			ctx.Error("Not Found", fh.StatusNotFound)
		}
	}
	return func(ctx *fh.RequestCtx) {
		c := &conn{ctx: ctx, opt: opt, done: make(chan struct{})}
		err := b.Serve(c)
		close(c.done)
		switch {
		case err == nil:
		case errors.Is(err, relay.ErrPassThrough):
			fallback(ctx)
		case errors.Is(err, relay.ErrAborted):
			// peer is gone or a write failed; fasthttp reaps the conn
		default:
			// a body source failed before any streaming started; sever so
			// the client does not mistake silence for success
			if nc := ctx.Conn(); nc != nil {
				_ = nc.Close()
			}
		}
	}
}

// NewServer returns a fasthttp server serving b, tuned the same way for
// both body delivery modes.
func NewServer(b *relay.Bridge, opt Options) *fh.Server {
	name := opt.Name
	if name == "" {
		name = "trestle"
	}
	return &fh.Server{
		Handler:            RequestHandler(b, opt),
		Name:               name,
		StreamRequestBody:  opt.StreamBody,
		MaxRequestBodySize: opt.MaxBody,
		ReadTimeout:        5 * time.Minute,
	}
}

type conn struct {
	ctx  *fh.RequestCtx
	opt  Options
	done chan struct{}
}

func (c *conn) Method() string { return string(c.ctx.Method()) }

func (c *conn) RequestURI() string { return string(c.ctx.RequestURI()) }

func (c *conn) VisitHeaders(fn func(key, value string)) {
	// VisitAll includes the special headers (Host, Content-Length,
	// Content-Type) fasthttp stores out of line
	c.ctx.Request.Header.VisitAll(func(k, v []byte) {
		fn(string(k), string(v))
	})
}

func (c *conn) PeerAddr() []byte {
	if a, ok := c.ctx.RemoteAddr().(*net.TCPAddr); ok {
		if v4 := a.IP.To4(); v4 != nil {
			return v4
		}
		return a.IP.To16()
	}
	return nil
}

func (c *conn) TLS() bool { return c.ctx.IsTLS() }

func (c *conn) PumpBody(dst *relay.BodyStream) {
	if c.opt.StreamBody {
		body := c.ctx.RequestBodyStream()
		if body == nil {
			dst.End()
			return
		}
		size := c.opt.ReadChunk
		if size <= 0 {
			size = 32 << 10
		}
		go func() {
			buf := make([]byte, size)
			for {
				n, rerr := body.Read(buf)
				if n > 0 {
					if dst.Push(buf[:n]) != nil {
						return
					}
				}
				if rerr == io.EOF {
					dst.End()
					return
				}
				if rerr != nil {
					dst.Fail(rerr)
					return
				}
			}
		}()
		return
	}
	// default fasthttp delivery is one fully buffered body; a single chunk
	// always fits the stream window, so no pump goroutine is needed
	if body := c.ctx.PostBody(); len(body) > 0 {
		if dst.Push(body) != nil {
			return
		}
	}
	dst.End()
}

func (c *conn) OnAbort(trip func()) {
	// fasthttp carries no per connection disconnect signal; the request
	// context fires on server shutdown, and mid-response disconnects
	// surface as native write failures
	go func() {
		select {
		case <-c.ctx.Done():
			select {
			case <-c.done:
			default:
				trip()
			}
		case <-c.done:
		}
	}()
}

func (c *conn) Platform() relay.Platform {
	return relay.Platform{Engine: relay.EngineFastHTTP, Handle: &Native{Ctx: c.ctx}}
}

func (c *conn) WriteHead(status int, reason string, header http.Header) error {
	c.ctx.SetStatusCode(status)
	for key, values := range header {
		switch key {
		case "Content-Length":
			// carried out of line; Add would duplicate it
			if n, err := strconv.Atoi(values[len(values)-1]); err == nil {
				c.ctx.Response.Header.SetContentLength(n)
			}
		case "Content-Type":
			c.ctx.SetContentType(values[len(values)-1])
		default:
			for _, v := range values {
				c.ctx.Response.Header.Add(key, v)
			}
		}
	}
	return nil
}

func (c *conn) WriteFull(body []byte) error {
	if len(body) > 0 {
		c.ctx.Response.SetBody(body)
	}
	return nil
}

func (c *conn) StreamBody(run relay.BodyWriter) error {
	// the handler frame is gone when the deferred writer runs; capture the
	// conn now so a mid-body failure can still sever it
	nc := c.ctx.Conn()
	c.ctx.Response.SetBodyStreamWriter(func(w *bufio.Writer) {
		err := run(&chunkSink{w: w})
		if err != nil && !errors.Is(err, relay.ErrAborted) && nc != nil {
			// returning normally would let fasthttp write the terminating
			// chunk and the truncation would read as success
			_ = nc.Close()
		}
	})
	return nil
}

// chunkSink maps continuation writes onto flushes of fasthttp's stream
// writer; each flush becomes one chunk on the wire. The final write stays
// buffered and goes out with the stream terminator when the writer returns.
type chunkSink struct {
	w *bufio.Writer
}

func (s *chunkSink) WriteChunk(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *chunkSink) Finish(last []byte) error {
	if len(last) == 0 {
		return nil
	}
	_, err := s.w.Write(last)
	return err
}
