package relay

import (
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
)

// exchange tracks write state for one conn so that exactly one response is
// ever emitted per request.
type exchange struct {
	conn     Conn
	abort    *AbortSignal
	armed    atomic.Bool
	streamed bool
}

// write emits resp through the conn. The head goes out as one cork unit, the
// body follows the engine's final-write discipline, and every native write is
// preceded by an abort check. release runs after a streamed body completes
// (or aborts) so the request body is not torn down while a deferred engine
// callback may still be feeding from it.
func (e *exchange) write(resp *Response, release func()) error {
	if e.abort.Set() {
		return ErrAborted
	}
	if !e.armed.CompareAndSwap(false, true) {
		return ErrResponseWritten
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	hdr := resp.Header
	if hdr == nil {
		hdr = make(http.Header)
	}
	if resp.Source == nil && len(resp.Body) > 0 && hdr.Get("Content-Length") == "" {
		// fixed bodies advertise their length so engines can keep the
		// connection alive without chunking
		hdr.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	if err := e.conn.WriteHead(status, resp.Reason, hdr); err != nil {
		e.abort.Trip()
		writeFailures.Inc()
		return ErrAborted
	}

	if resp.Source == nil {
		if err := e.conn.WriteFull(resp.Body); err != nil {
			e.abort.Trip()
			writeFailures.Inc()
			return ErrAborted
		}
		responseBytes.Add(float64(len(resp.Body)))
		return nil
	}

	e.streamed = true
	src, abort := resp.Source, e.abort
	return e.conn.StreamBody(func(sink ChunkSink) error {
		defer release()
		return pumpChunks(src, sink, abort)
	})
}

// pumpChunks drives a chunk source into a sink holding back one chunk: each
// new chunk flushes the previously held one as a continuation write, and end
// of stream flushes the held chunk as the final write. A body of N chunks
// becomes N-1 continuation writes plus one final write; an empty body is a
// single completion signal with no body writes. Zero-length chunks are
// skipped because a zero-length chunk terminates a chunked body on the wire.
func pumpChunks(src ChunkSource, sink ChunkSink, abort *AbortSignal) error {
	var held []byte
	for {
		if abort.Set() {
			drainSource(src)
			return ErrAborted
		}
		chunk, err := src.NextChunk()
		if err == io.EOF {
			if abort.Set() {
				return ErrAborted
			}
			if ferr := sink.Finish(held); ferr != nil {
				abort.Trip()
				writeFailures.Inc()
				return ErrAborted
			}
			responseBytes.Add(float64(len(held)))
			return nil
		}
		if err != nil {
			// the source died mid-body; the engine must sever the
			// connection so the client sees truncation, not success
			return err
		}
		if len(chunk) == 0 {
			continue
		}
		if held != nil {
			if abort.Set() {
				drainSource(src)
				return ErrAborted
			}
			if werr := sink.WriteChunk(held); werr != nil {
				abort.Trip()
				writeFailures.Inc()
				drainSource(src)
				return ErrAborted
			}
			responseBytes.Add(float64(len(held)))
		}
		held = chunk
	}
}

// drainSource exhausts a source without writing so its resources are
// released after an abort.
func drainSource(src ChunkSource) {
	for {
		if _, err := src.NextChunk(); err != nil {
			return
		}
	}
}
