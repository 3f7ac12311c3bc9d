package stdhttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trestle/pkg/relay"
)

func newBridge(t *testing.T, h relay.Handler) *relay.Bridge {
	t.Helper()
	b, err := relay.New(h, relay.Options{})
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}
	return b
}

func TestHandlerRoundTrip(t *testing.T) {
	h := func(c *relay.Ctx) (*relay.Response, error) {
		if c.Platform.Engine != relay.EngineNetHTTP {
			t.Errorf("engine = %q", c.Platform.Engine)
		}
		if _, ok := FromPlatform(c.Platform); !ok {
			t.Errorf("native handle missing")
		}
		r := relay.Text(http.StatusOK, "method="+c.Request.Method+" path="+c.Request.Path+" q="+c.Request.RawQuery)
		r.Header.Add("Set-Cookie", "a=1")
		r.Header.Add("Set-Cookie", "b=2")
		return r, nil
	}
	srv := httptest.NewServer(Handler(newBridge(t, h), Options{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/hello?x=1&y=2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if string(body) != "method=GET path=/hello q=x=1&y=2" {
		t.Fatalf("body = %q", body)
	}
	if got := resp.Header.Values("Set-Cookie"); len(got) != 2 {
		t.Fatalf("Set-Cookie = %q; want two separate lines", got)
	}
}

func TestHandlerTranslatesPost(t *testing.T) {
	h := func(c *relay.Ctx) (*relay.Response, error) {
		r := c.Request
		if r.Host == "" || !strings.Contains(r.URL, r.Host) {
			t.Errorf("Host = %q URL = %q", r.Host, r.URL)
		}
		if r.Header.Get("Host") != r.Host {
			t.Errorf("Host header not visited: %q", r.Header.Get("Host"))
		}
		if r.Header.Get("Content-Type") != "text/plain" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if c.IP == "" {
			t.Errorf("client IP empty")
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		return relay.Text(http.StatusOK, "got:"+string(body)), nil
	}
	srv := httptest.NewServer(Handler(newBridge(t, h), Options{}))
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/in", "text/plain", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "got:payload" {
		t.Fatalf("body = %q", body)
	}
}

func TestHandlerStreamedResponse(t *testing.T) {
	h := func(c *relay.Ctx) (*relay.Response, error) {
		src := relay.ReaderSource(strings.NewReader("first second third"), 6)
		return relay.Stream(http.StatusOK, "text/plain", src), nil
	}
	srv := httptest.NewServer(Handler(newBridge(t, h), Options{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "first second third" {
		t.Fatalf("body = %q", body)
	}
	if resp.ContentLength >= 0 {
		t.Fatalf("ContentLength = %d; streamed body must not be measured", resp.ContentLength)
	}
}

func TestHandlerPassThroughRunsFallback(t *testing.T) {
	h := func(c *relay.Ctx) (*relay.Response, error) {
		c.PassThrough()
		return nil, nil
	}
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "native")
	})
	srv := httptest.NewServer(Handler(newBridge(t, h), Options{Fallback: fallback}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusTeapot || string(body) != "native" {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
}

// TestHandlerClientDisconnectTripsAbort cancels the client mid-exchange and
// verifies the abort reaches the handler's context and signal.
func TestHandlerClientDisconnectTripsAbort(t *testing.T) {
	aborted := make(chan struct{})
	h := func(c *relay.Ctx) (*relay.Response, error) {
		select {
		case <-c.Context().Done():
		case <-time.After(5 * time.Second):
			t.Errorf("handler context never cancelled")
		}
		if c.Aborted() {
			close(aborted)
		}
		return nil, errors.New("client went away")
	}
	srv := httptest.NewServer(Handler(newBridge(t, h), Options{}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if _, err := srv.Client().Do(req); err == nil {
		t.Fatalf("expected the client call to fail")
	}
	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatalf("abort signal never tripped")
	}
}

func TestHandlerMaxBodyFailsStream(t *testing.T) {
	h := func(c *relay.Ctx) (*relay.Response, error) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			return relay.Text(http.StatusRequestEntityTooLarge, "too big"), nil
		}
		return relay.Text(http.StatusOK, "ok"), nil
	}
	srv := httptest.NewServer(Handler(newBridge(t, h), Options{MaxBody: 8}))
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL, "text/plain", strings.NewReader(strings.Repeat("x", 100)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

// TestHandlerSourceFailureSeversConnection verifies a body source dying
// mid-stream never reads as a clean response end.
func TestHandlerSourceFailureSeversConnection(t *testing.T) {
	h := func(c *relay.Ctx) (*relay.Response, error) {
		return relay.Stream(http.StatusOK, "text/plain", &failingSource{}), nil
	}
	srv := httptest.NewServer(Handler(newBridge(t, h), Options{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		return // severed before headers reached the client
	}
	defer resp.Body.Close()
	if _, rerr := io.ReadAll(resp.Body); rerr == nil {
		t.Fatalf("truncated stream read as success")
	}
}

type failingSource struct{ sent bool }

func (s *failingSource) NextChunk() ([]byte, error) {
	if !s.sent {
		s.sent = true
		return []byte("partial"), nil
	}
	return nil, errors.New("upstream lost")
}

func TestConnPeerAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	c := &conn{r: r}
	if got := relay.FormatPeerAddr(c.PeerAddr()); got != "192.0.2.1" {
		t.Fatalf("v4 peer = %q", got)
	}
	r.RemoteAddr = "[2001:db8::1]:80"
	if got := relay.FormatPeerAddr(c.PeerAddr()); got != "2001:0db8:0000:0000:0000:0000:0000:0001" {
		t.Fatalf("v6 peer = %q", got)
	}
	r.RemoteAddr = "@"
	if got := c.PeerAddr(); got != nil {
		t.Fatalf("non ip peer = %v; want nil", got)
	}
}

func TestConnVisitHeadersReinjectsHost(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.com/x", strings.NewReader("z"))
	r.Header.Add("Accept", "text/html")
	r.Header.Add("Accept", "application/json")
	c := &conn{r: r}
	var host []string
	var accept []string
	c.VisitHeaders(func(key, value string) {
		switch key {
		case "Host":
			host = append(host, value)
		case "Accept":
			accept = append(accept, value)
		}
	})
	if len(host) != 1 || host[0] != "example.com" {
		t.Fatalf("Host visits = %q", host)
	}
	if len(accept) != 2 {
		t.Fatalf("Accept visits = %q; duplicates must survive", accept)
	}
}
