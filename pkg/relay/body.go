package relay

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

const defaultBodyDepth = 8

// BodyStream bridges an engine's push-style body delivery into the pull-style
// stream handlers consume. The engine side copies each native chunk into a
// pooled buffer and enqueues it on a bounded channel, so a slow consumer
// applies backpressure to the producer instead of growing memory. The
// consumer side is single-owner: one reader, sequential reads, at most one
// pass. Reading again after exhaustion fails with ErrBodyConsumed and
// concurrent reads fail with ErrBodyBusy so misuse surfaces immediately.
type BodyStream struct {
	ch    chan *bytebufferpool.ByteBuffer
	abort *AbortSignal

	prodOnce sync.Once
	closed   atomic.Bool // producer finished (End or Fail)
	failErr  error       // written before ch closes, read only after

	stop     chan struct{} // consumer released the stream
	stopOnce sync.Once

	busy     atomic.Bool
	cur      *bytebufferpool.ByteBuffer
	curOff   int
	eof      bool
	released bool
}

// NewBodyStream returns a stream buffering up to depth chunks.
func NewBodyStream(depth int, abort *AbortSignal) *BodyStream {
	if depth <= 0 {
		depth = defaultBodyDepth
	}
	if abort == nil {
		abort = NewAbortSignal()
	}
	return &BodyStream{
		ch:    make(chan *bytebufferpool.ByteBuffer, depth),
		abort: abort,
		stop:  make(chan struct{}),
	}
}

// Push copies p into an owned buffer and enqueues it, blocking while the
// buffer window is full. It fails once the stream ended, the consumer
// released it, or the exchange aborted, so producers stop pumping promptly.
func (b *BodyStream) Push(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if b.closed.Load() {
		return ErrBodyClosed
	}
	if b.abort.Set() {
		return ErrAborted
	}
	select {
	case <-b.stop:
		return ErrBodyClosed
	default:
	}
	buf := bytebufferpool.Get()
	buf.B = append(buf.B[:0], p...)
	select {
	case b.ch <- buf:
		return nil
	case <-b.stop:
		bytebufferpool.Put(buf)
		return ErrBodyClosed
	case <-b.abort.Done():
		bytebufferpool.Put(buf)
		return ErrAborted
	}
}

// End marks a successful end of the body. Idempotent.
func (b *BodyStream) End() { b.finish(nil) }

// Fail ends the body with an error surfaced to the consumer. Idempotent; the
// first of End/Fail wins.
func (b *BodyStream) Fail(err error) {
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	b.finish(err)
}

func (b *BodyStream) finish(err error) {
	b.prodOnce.Do(func() {
		b.failErr = err
		b.closed.Store(true)
		close(b.ch)
	})
}

// Read implements io.Reader over the queued chunks.
func (b *BodyStream) Read(p []byte) (int, error) {
	if !b.busy.CompareAndSwap(false, true) {
		return 0, ErrBodyBusy
	}
	defer b.busy.Store(false)
	if b.released {
		return 0, ErrBodyClosed
	}
	if b.abort.Set() {
		b.releaseCur()
		return 0, ErrAborted
	}
	if b.eof {
		return 0, ErrBodyConsumed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if b.cur == nil {
		select {
		case buf, ok := <-b.ch:
			if !ok {
				if b.failErr != nil {
					return 0, b.failErr
				}
				b.eof = true
				return 0, io.EOF
			}
			b.cur, b.curOff = buf, 0
		case <-b.stop:
			return 0, ErrBodyClosed
		case <-b.abort.Done():
			return 0, ErrAborted
		}
	}
	n := copy(p, b.cur.B[b.curOff:])
	b.curOff += n
	if b.curOff >= len(b.cur.B) {
		b.releaseCur()
	}
	return n, nil
}

// NextChunk returns the next body chunk as an owned slice, or (nil, io.EOF)
// at the end of the body. It shares the single-consumer discipline with Read
// and may be interleaved with it.
func (b *BodyStream) NextChunk() ([]byte, error) {
	if !b.busy.CompareAndSwap(false, true) {
		return nil, ErrBodyBusy
	}
	defer b.busy.Store(false)
	if b.released {
		return nil, ErrBodyClosed
	}
	if b.abort.Set() {
		b.releaseCur()
		return nil, ErrAborted
	}
	if b.eof {
		return nil, ErrBodyConsumed
	}
	if b.cur != nil {
		out := append([]byte(nil), b.cur.B[b.curOff:]...)
		b.releaseCur()
		return out, nil
	}
	select {
	case buf, ok := <-b.ch:
		if !ok {
			if b.failErr != nil {
				return nil, b.failErr
			}
			b.eof = true
			return nil, io.EOF
		}
		out := append([]byte(nil), buf.B...)
		bytebufferpool.Put(buf)
		return out, nil
	case <-b.stop:
		return nil, ErrBodyClosed
	case <-b.abort.Done():
		return nil, ErrAborted
	}
}

// Close releases the stream: buffered chunks go back to the pool and the
// producer is told to stop. Reads after Close fail with ErrBodyClosed.
// Called by the dispatch loop when the exchange finishes; handlers may call
// it early to discard a body they do not want.
func (b *BodyStream) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })
	if !b.busy.CompareAndSwap(false, true) {
		// an in-flight read observes stop and unblocks on its own
		return nil
	}
	defer b.busy.Store(false)
	b.released = true
	b.releaseCur()
	for {
		select {
		case buf, ok := <-b.ch:
			if !ok {
				return nil
			}
			bytebufferpool.Put(buf)
		default:
			return nil
		}
	}
}

func (b *BodyStream) releaseCur() {
	if b.cur != nil {
		bytebufferpool.Put(b.cur)
		b.cur, b.curOff = nil, 0
	}
}
