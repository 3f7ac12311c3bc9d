package relay

import "context"

// Handler is the application entry point: one call per exchange, returning
// either a response or nil after Ctx.PassThrough. Returning an error yields a
// generic 500; the error never reaches the client.
type Handler func(*Ctx) (*Response, error)

// Ctx is the per-exchange view handed to the handler.
type Ctx struct {
	// Request is the canonical request. Its Body, when present, may be read
	// once, by one consumer.
	Request *Request
	// IP is the client address, resolved eagerly before the handler runs
	// and honoring the trust-proxy policy. May be empty.
	IP string
	// Platform carries the engine tag and native handle for escape hatches.
	Platform Platform

	ctx         context.Context
	abort       *AbortSignal
	bridge      *Bridge
	passThrough bool
}

// Context returns a context cancelled when the client aborts (or the parent
// bridge context ends). Handlers should pass it to anything blocking.
func (c *Ctx) Context() context.Context { return c.ctx }

// Aborted reports whether the exchange's abort signal has tripped.
func (c *Ctx) Aborted() bool { return c.abort.Set() }

// Env looks up a process environment value.
func (c *Ctx) Env(name string) (string, bool) {
	return c.bridge.opts.Env(name)
}

// WaitUntil registers background work that may outlive the exchange. The
// task runs on its own goroutine with a bridge-lifetime context and does not
// delay the response; Bridge.Close waits for registered tasks.
func (c *Ctx) WaitUntil(task func(ctx context.Context)) {
	c.bridge.track(task)
}

// PassThrough marks the exchange for the engine's native fallback handling.
// The handler should return (nil, nil) afterwards; nothing is written by the
// bridge and the binding takes over.
func (c *Ctx) PassThrough() { c.passThrough = true }
