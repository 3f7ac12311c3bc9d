package relay

import (
	"net/http"
	"strings"
)

// Request is the canonical, engine-agnostic request handed to handlers. It is
// immutable once built; the body stream is the single mutable, single-owner
// resource inside it.
type Request struct {
	Method string
	// URL is the externally visible absolute URL: resolved scheme and host
	// plus the request target exactly as received, no percent-decoding or
	// normalization.
	URL      string
	Scheme   string
	Host     string
	Path     string
	RawQuery string
	Header   http.Header
	// Body is nil for GET and HEAD regardless of what the engine reports.
	// For every other method it is a finite single-consumption stream; an
	// empty native body reads as immediate EOF.
	Body *BodyStream
}

// newRequest builds the canonical request from a native conn. Translation
// never fails: malformed metadata passes through as received, and anything
// that validates request content is a collaborator above the handler.
func (b *Bridge) newRequest(conn Conn, abort *AbortSignal) (req *Request, ip string) {
	hdr := make(http.Header)
	conn.VisitHeaders(func(key, value string) { hdr.Add(key, value) })

	peer := FormatPeerAddr(conn.PeerAddr())
	scheme, host := b.origin.resolve(hdr, conn.TLS(), peer)

	uri := conn.RequestURI()
	path, query, _ := strings.Cut(uri, "?")

	req = &Request{
		Method:   conn.Method(),
		URL:      scheme + "://" + host + uri,
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawQuery: query,
		Header:   hdr,
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		req.Body = NewBodyStream(b.opts.BodyBufferChunks, abort)
		conn.PumpBody(req.Body)
	}
	return req, b.origin.clientIP(hdr, peer)
}
