// Package relay bridges application handlers onto incompatible HTTP engines.
// A handler is written once against a canonical request/response pair; per
// engine bindings (net/http, fasthttp) translate between that pair and the
// engine's native request, write and disconnect primitives. The bridge owns
// the hard parts: converting push-style body delivery into a backpressured
// pull stream, writing each response exactly once through the engine's
// cork/flush discipline, and propagating client aborts into every stage so
// nothing writes to a dead connection.
package relay

import "net/http"

// Engine tags reported through Ctx.Platform.
const (
	EngineNetHTTP  = "nethttp"
	EngineFastHTTP = "fasthttp"
)

// Platform identifies the engine serving an exchange and carries its native
// handle. Handle's concrete type is engine specific; each engine package
// provides a typed accessor so handlers do not blind-cast.
type Platform struct {
	Engine string
	Handle any
}

// ChunkSink receives response body chunks from the bridge. WriteChunk emits a
// continuation write; Finish emits the final write (last may be nil for an
// empty body) and completes the response. Engines that distinguish final
// writes use that distinction for framing and keepalive.
type ChunkSink interface {
	WriteChunk(p []byte) error
	Finish(last []byte) error
}

// BodyWriter runs the bridge's body discipline against an engine's sink. The
// engine decides when to call it: immediately for engines that stream from
// the handler goroutine, deferred for engines that serialize the body after
// the native handler returns.
type BodyWriter func(sink ChunkSink) error

// Conn is the per-exchange contract an engine binding implements. The bridge
// is the only caller and owns the Conn until Serve returns; implementations
// need not guard against concurrent use.
type Conn interface {
	// Method returns the request method as received.
	Method() string
	// RequestURI returns the raw request target, unnormalized.
	RequestURI() string
	// VisitHeaders calls fn for every header entry, preserving duplicates.
	// The Host header must be visited like any other.
	VisitHeaders(fn func(key, value string))
	// PeerAddr returns the raw peer address bytes (4 or 16), or nil.
	PeerAddr() []byte
	// TLS reports whether this process terminated TLS for the connection.
	TLS() bool
	// PumpBody starts feeding the native request body into dst. The pump
	// must End on end-of-body, Fail on a native read error, and stop once
	// Push reports the stream closed or aborted.
	PumpBody(dst *BodyStream)
	// OnAbort registers the callback flipping the exchange's AbortSignal
	// when the engine observes a client disconnect.
	OnAbort(trip func())
	// Platform returns the engine tag and native handle for this exchange.
	Platform() Platform

	// WriteHead stages and commits the status line and header block as one
	// atomic unit, before any body byte. Multi-valued keys are emitted as
	// repeated lines. Reason may be ignored by engines that cannot carry it.
	WriteHead(status int, reason string, header http.Header) error
	// WriteFull writes a complete fixed body and finishes the response. A
	// nil or empty body finishes the response with no body writes.
	WriteFull(body []byte) error
	// StreamBody schedules run against the engine's chunk sink. The engine
	// must keep the connection open until run returns, even if the bridge's
	// Serve call has already completed.
	StreamBody(run BodyWriter) error
}
