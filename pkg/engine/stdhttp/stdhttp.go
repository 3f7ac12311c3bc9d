// Package stdhttp binds the relay bridge to the standard library's net/http
// server. The binding is synchronous: the response body is streamed from the
// same goroutine that runs the native handler.
package stdhttp

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"trestle/pkg/relay"
)

// Options configures the net/http binding.
type Options struct {
	// Fallback handles requests the application passes through. Defaults
	// to http.NotFoundHandler.
	Fallback http.Handler
	// ReadChunk is the request body read size. Defaults to 32KiB.
	ReadChunk int
	// MaxBody caps the request body size; exceeding it fails the body
	// stream mid-read. Zero means no cap.
	MaxBody int64
}

// Native is the escape-hatch handle exposed through Ctx.Platform.
type Native struct {
	W http.ResponseWriter
	R *http.Request
}

// FromPlatform returns the native handle when the exchange runs on this
// engine.
func FromPlatform(p relay.Platform) (*Native, bool) {
	n, ok := p.Handle.(*Native)
	return n, ok
}

// Handler returns an http.Handler dispatching every request through b.
func Handler(b *relay.Bridge, opt Options) http.Handler {
	fallback := opt.Fallback
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := &conn{w: w, r: r, opt: opt, done: make(chan struct{})}
		err := b.Serve(c)
		close(c.done)
		switch {
		case err == nil:
		case errors.Is(err, relay.ErrPassThrough):
			// the pump may have consumed part of the native body by now;
			// fallbacks that need bodies should be routed in the
			// application instead
			fallback.ServeHTTP(w, r)
		case errors.Is(err, relay.ErrAborted):
			// peer is gone; nothing left to write
		default:
			// the response body source died mid-stream; abort the reply so
			// the client sees truncation instead of a clean end
			panic(http.ErrAbortHandler)
		}
	})
}

// NewServer returns an http.Server serving b on addr.
func NewServer(b *relay.Bridge, addr string, opt Options) *http.Server {
	return &http.Server{Addr: addr, Handler: Handler(b, opt)}
}

type conn struct {
	w    http.ResponseWriter
	r    *http.Request
	opt  Options
	done chan struct{}
}

func (c *conn) Method() string { return c.r.Method }

// RequestURI is the request target as sent by the client, before any URL
// parsing or path cleanup.
func (c *conn) RequestURI() string { return c.r.RequestURI }

func (c *conn) VisitHeaders(fn func(key, value string)) {
	// net/http promotes Host and Transfer-Encoding out of the header map;
	// put them back so translation sees the wire header set
	if c.r.Host != "" {
		fn("Host", c.r.Host)
	}
	if len(c.r.TransferEncoding) > 0 {
		fn("Transfer-Encoding", strings.Join(c.r.TransferEncoding, ", "))
	}
	for key, values := range c.r.Header {
		for _, v := range values {
			fn(key, v)
		}
	}
}

func (c *conn) PeerAddr() []byte {
	host, _, err := net.SplitHostPort(c.r.RemoteAddr)
	if err != nil {
		host = c.r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}

func (c *conn) TLS() bool { return c.r.TLS != nil }

func (c *conn) PumpBody(dst *relay.BodyStream) {
	var body io.Reader = c.r.Body
	if c.opt.MaxBody > 0 {
		body = http.MaxBytesReader(c.w, c.r.Body, c.opt.MaxBody)
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
}

func (c *conn) OnAbort(trip func()) {
	ctx := c.r.Context()
	go func() {
		select {
		case <-ctx.Done():
			// the request context also ends when the exchange completes
			// normally; only a cancellation before then is an abort
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
	return relay.Platform{Engine: relay.EngineNetHTTP, Handle: &Native{W: c.w, R: c.r}}
}

func (c *conn) WriteHead(status int, reason string, header http.Header) error {
	// net/http cannot carry a custom reason phrase; dropped
	dst := c.w.Header()
	for key, values := range header {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	c.w.WriteHeader(status)
	return nil
}

func (c *conn) WriteFull(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	_, err := c.w.Write(body)
	return err
}

func (c *conn) StreamBody(run relay.BodyWriter) error {
	flusher, _ := c.w.(http.Flusher)
	return run(&chunkSink{w: c.w, f: flusher})
}

// chunkSink flushes after every continuation write so chunks reach the
// client as they are produced; the final write rides on the handler return.
type chunkSink struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s *chunkSink) WriteChunk(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

func (s *chunkSink) Finish(last []byte) error {
	if len(last) == 0 {
		return nil
	}
	_, err := s.w.Write(last)
	return err
}
