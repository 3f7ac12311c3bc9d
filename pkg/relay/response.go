package relay

import (
	"encoding/json"
	"io"
	"net/http"
)

// ChunkSource is a finite, non-restartable sequence of response body chunks.
// NextChunk returns the next chunk, (nil, io.EOF) at the end of the body, or
// an error if the source failed. An empty chunk with a nil error is legal and
// is skipped by the writer. *BodyStream implements ChunkSource, so a request
// body can feed a response directly.
type ChunkSource interface {
	NextChunk() ([]byte, error)
}

// Response is the canonical response a handler returns. The body is one of:
// absent (Body nil, Source nil), a fixed byte buffer (Body), or a lazy chunk
// sequence (Source). Source wins when both are set.
type Response struct {
	Status int
	// Reason is the optional status reason phrase. Engines that cannot
	// carry one ignore it.
	Reason string
	Header http.Header
	Body   []byte
	Source ChunkSource
}

// NewResponse returns an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// Text returns a plain-text response.
func Text(status int, body string) *Response {
	r := NewResponse(status)
	r.Header.Set("Content-Type", "text/plain; charset=utf-8")
	r.Body = []byte(body)
	return r
}

// Bytes returns a fixed-body response with the given content type.
func Bytes(status int, contentType string, body []byte) *Response {
	r := NewResponse(status)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Body = body
	return r
}

// JSON returns an application/json response encoding v.
func JSON(status int, v any) (*Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	r := NewResponse(status)
	r.Header.Set("Content-Type", "application/json")
	r.Body = b
	return r, nil
}

// Stream returns a response whose body is pulled from src.
func Stream(status int, contentType string, src ChunkSource) *Response {
	r := NewResponse(status)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Source = src
	return r
}

// ReaderSource adapts an io.Reader into a ChunkSource reading up to
// chunkBytes per chunk. Each returned chunk is an owned copy.
func ReaderSource(r io.Reader, chunkBytes int) ChunkSource {
	if chunkBytes <= 0 {
		chunkBytes = 32 * 1024
	}
	return &readerSource{r: r, buf: make([]byte, chunkBytes)}
}

type readerSource struct {
	r   io.Reader
	buf []byte
}

func (s *readerSource) NextChunk() ([]byte, error) {
	n, err := s.r.Read(s.buf)
	if n > 0 {
		return append([]byte(nil), s.buf[:n]...), nil
	}
	if err == nil || err == io.EOF {
		if err == nil {
			// zero-byte read; let the writer skip it and pull again
			return nil, nil
		}
		return nil, io.EOF
	}
	return nil, err
}
