package relay

import (
	"errors"
	"io"
	"net/http"
	"testing"
)

// scriptedSource yields a fixed chunk sequence, then failErr or EOF.
type scriptedSource struct {
	chunks  [][]byte
	failErr error
	calls   int
}

func (s *scriptedSource) NextChunk() ([]byte, error) {
	s.calls++
	if len(s.chunks) == 0 {
		if s.failErr != nil {
			return nil, s.failErr
		}
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

// recordSink records the continuation/final write split and can fail or run
// a hook on a given continuation write.
type recordSink struct {
	writes  [][]byte
	final   []byte
	done    bool
	failAt  int // 1-based continuation write index to fail, 0 = never
	onWrite func()
}

func (s *recordSink) WriteChunk(p []byte) error {
	if s.failAt > 0 && len(s.writes)+1 == s.failAt {
		return errors.New("native write failed")
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	if s.onWrite != nil {
		s.onWrite()
	}
	return nil
}

func (s *recordSink) Finish(last []byte) error {
	s.final = append([]byte(nil), last...)
	s.done = true
	return nil
}

func chunksOf(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

// TestPumpChunksHoldsBackFinalWrite verifies an N chunk body becomes N-1
// continuation writes plus one final write carrying the last chunk.
func TestPumpChunksHoldsBackFinalWrite(t *testing.T) {
	src := &scriptedSource{chunks: chunksOf("c1", "c2", "c3")}
	sink := &recordSink{}
	if err := pumpChunks(src, sink, NewAbortSignal()); err != nil {
		t.Fatalf("pumpChunks: %v", err)
	}
	if len(sink.writes) != 2 || string(sink.writes[0]) != "c1" || string(sink.writes[1]) != "c2" {
		t.Fatalf("continuation writes = %q", sink.writes)
	}
	if !sink.done || string(sink.final) != "c3" {
		t.Fatalf("final = %q done = %v", sink.final, sink.done)
	}
}

func TestPumpChunksSingleChunkIsFinal(t *testing.T) {
	src := &scriptedSource{chunks: chunksOf("only")}
	sink := &recordSink{}
	if err := pumpChunks(src, sink, NewAbortSignal()); err != nil {
		t.Fatalf("pumpChunks: %v", err)
	}
	if len(sink.writes) != 0 {
		t.Fatalf("continuation writes = %q; want none", sink.writes)
	}
	if !sink.done || string(sink.final) != "only" {
		t.Fatalf("final = %q done = %v", sink.final, sink.done)
	}
}

func TestPumpChunksEmptyBodyCompletesWithoutWrites(t *testing.T) {
	src := &scriptedSource{}
	sink := &recordSink{}
	if err := pumpChunks(src, sink, NewAbortSignal()); err != nil {
		t.Fatalf("pumpChunks: %v", err)
	}
	if len(sink.writes) != 0 || len(sink.final) != 0 || !sink.done {
		t.Fatalf("writes = %q final = %q done = %v", sink.writes, sink.final, sink.done)
	}
}

func TestPumpChunksSkipsEmptyChunks(t *testing.T) {
	src := &scriptedSource{chunks: chunksOf("a", "", "b")}
	sink := &recordSink{}
	if err := pumpChunks(src, sink, NewAbortSignal()); err != nil {
		t.Fatalf("pumpChunks: %v", err)
	}
	if len(sink.writes) != 1 || string(sink.writes[0]) != "a" {
		t.Fatalf("continuation writes = %q", sink.writes)
	}
	if string(sink.final) != "b" {
		t.Fatalf("final = %q", sink.final)
	}
}

// TestPumpChunksAbortStopsMidStream verifies that once the signal trips no
// further chunk is written and the source is still drained.
func TestPumpChunksAbortStopsMidStream(t *testing.T) {
	ab := NewAbortSignal()
	src := &scriptedSource{chunks: chunksOf("a", "b", "c", "d")}
	sink := &recordSink{onWrite: ab.Trip}
	err := pumpChunks(src, sink, ab)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("pumpChunks = %v; want ErrAborted", err)
	}
	if len(sink.writes) != 1 {
		t.Fatalf("continuation writes = %q; want exactly the one before the trip", sink.writes)
	}
	if sink.done {
		t.Fatalf("final write must not happen after abort")
	}
	if len(src.chunks) != 0 {
		t.Fatalf("source not drained: %d chunks left", len(src.chunks))
	}
}

func TestPumpChunksWriteFailureTripsAbort(t *testing.T) {
	ab := NewAbortSignal()
	src := &scriptedSource{chunks: chunksOf("a", "b", "c")}
	sink := &recordSink{failAt: 1}
	err := pumpChunks(src, sink, ab)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("pumpChunks = %v; want ErrAborted", err)
	}
	if !ab.Set() {
		t.Fatalf("write failure must trip the abort signal")
	}
	if sink.done {
		t.Fatalf("final write must not happen after a failed write")
	}
}

// TestPumpChunksSourceFailurePropagates verifies a dying source surfaces its
// own error so the engine severs the connection, and does not trip abort.
func TestPumpChunksSourceFailurePropagates(t *testing.T) {
	ab := NewAbortSignal()
	boom := errors.New("upstream died")
	src := &scriptedSource{chunks: chunksOf("a", "b"), failErr: boom}
	sink := &recordSink{}
	if err := pumpChunks(src, sink, ab); !errors.Is(err, boom) {
		t.Fatalf("pumpChunks = %v; want source error", err)
	}
	if ab.Set() {
		t.Fatalf("source failure must not trip the abort signal")
	}
	if sink.done {
		t.Fatalf("truncated body must not be marked complete")
	}
}

func TestExchangeWritesResponseOnce(t *testing.T) {
	f := &fakeConn{}
	ex := &exchange{conn: f, abort: NewAbortSignal()}
	if err := ex.write(Text(http.StatusOK, "hello"), func() {}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := ex.write(Text(http.StatusAccepted, "again"), func() {}); !errors.Is(err, ErrResponseWritten) {
		t.Fatalf("second write = %v; want ErrResponseWritten", err)
	}
	if f.headCount != 1 {
		t.Fatalf("headCount = %d; want 1", f.headCount)
	}
	if f.status != http.StatusOK || string(f.full) != "hello" {
		t.Fatalf("status = %d body = %q", f.status, f.full)
	}
}

func TestExchangeFillsContentLength(t *testing.T) {
	f := &fakeConn{}
	ex := &exchange{conn: f, abort: NewAbortSignal()}
	if err := ex.write(Text(http.StatusOK, "hello"), func() {}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := f.head.Get("Content-Length"); got != "5" {
		t.Fatalf("Content-Length = %q; want 5", got)
	}

	f2 := &fakeConn{}
	ex2 := &exchange{conn: f2, abort: NewAbortSignal()}
	resp := Text(http.StatusOK, "hello")
	resp.Header.Set("Content-Length", "99")
	if err := ex2.write(resp, func() {}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := f2.head.Get("Content-Length"); got != "99" {
		t.Fatalf("Content-Length = %q; caller value must win", got)
	}
}

func TestExchangeAbortedBeforeHead(t *testing.T) {
	f := &fakeConn{}
	ab := NewAbortSignal()
	ab.Trip()
	ex := &exchange{conn: f, abort: ab}
	if err := ex.write(Text(http.StatusOK, "x"), func() {}); !errors.Is(err, ErrAborted) {
		t.Fatalf("write = %v; want ErrAborted", err)
	}
	if f.headCount != 0 {
		t.Fatalf("head written after abort")
	}
}

func TestExchangeHeadFailureTripsAbort(t *testing.T) {
	f := &fakeConn{headErr: errors.New("peer reset")}
	ab := NewAbortSignal()
	ex := &exchange{conn: f, abort: ab}
	if err := ex.write(Text(http.StatusOK, "x"), func() {}); !errors.Is(err, ErrAborted) {
		t.Fatalf("write = %v; want ErrAborted", err)
	}
	if !ab.Set() {
		t.Fatalf("head failure must trip the abort signal")
	}
	if f.fullDone {
		t.Fatalf("body written after failed head")
	}
}
