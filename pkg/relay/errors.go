package relay

import "errors"

var (
	// ErrAborted reports that the client disconnected (or a native write
	// failed) and the exchange can no longer produce output.
	ErrAborted = errors.New("relay: exchange aborted")

	// ErrPassThrough is returned by Bridge.Serve when the handler declined
	// the request; the engine binding should run its fallback handling.
	ErrPassThrough = errors.New("relay: pass through to native handling")

	// ErrBodyConsumed reports a second read of an already exhausted request
	// body. The body is single-consumption; this is a caller bug, not an
	// empty body.
	ErrBodyConsumed = errors.New("relay: request body already consumed")

	// ErrBodyBusy reports concurrent reads of the same request body.
	ErrBodyBusy = errors.New("relay: concurrent request body read")

	// ErrBodyClosed reports use of a request body after it was released.
	ErrBodyClosed = errors.New("relay: request body closed")

	// ErrResponseWritten reports an attempt to write a second response on
	// the same exchange.
	ErrResponseWritten = errors.New("relay: response already written")
)
