// Package docapp is the document service: a relay handler storing, serving
// and expiring small documents out of the pebble-backed docstore. It is the
// same application regardless of which engine carries it.
package docapp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trestle/pkg/docstore"
	"trestle/pkg/logger"
	"trestle/pkg/relay"
)

const defaultMaxDocBytes = 1 << 20

var errBodyTooLarge = errors.New("docapp: body too large")

// Config tunes the document service handler.
type Config struct {
	// MaxDocBytes caps stored document size. Zero means 1MiB.
	MaxDocBytes int64
	// RPS and Burst drive the per-client rate limiter. Zero keeps the
	// limiter defaults (5 rps, burst 10).
	RPS   float64
	Burst int
	// DisableLimiter turns rate limiting off entirely.
	DisableLimiter bool
}

// Handler returns the service handler. Paths outside /v1 pass through to the
// engine's native fallback.
func Handler(cfg Config) relay.Handler {
	limiter := &limiterPool{rps: cfg.RPS, burst: cfg.Burst}
	maxBytes := cfg.MaxDocBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxDocBytes
	}
	return func(c *relay.Ctx) (*relay.Response, error) {
		if !cfg.DisableLimiter && !limiter.Allow(c.IP) {
			r := relay.Text(http.StatusTooManyRequests, "rate limit exceeded")
			r.Header.Set("Retry-After", "1")
			return r, nil
		}
		switch {
		case c.Request.Path == "/v1/echo" && c.Request.Method == http.MethodPost:
			return echo(c), nil
		case c.Request.Path == "/v1/info" && c.Request.Method == http.MethodGet:
			return info(c)
		case c.Request.Path == "/v1/docs" && c.Request.Method == http.MethodGet:
			return listDocs(c)
		case strings.HasPrefix(c.Request.Path, "/v1/docs/"):
			key, err := docKeyFromPath(c.Request.Path)
			if err != nil {
				return relay.Text(http.StatusBadRequest, err.Error()), nil
			}
			switch c.Request.Method {
			case http.MethodPut:
				return putDoc(c, key, maxBytes)
			case http.MethodGet, http.MethodHead:
				return getDoc(key)
			case http.MethodDelete:
				return deleteDoc(c, key)
			default:
				r := relay.Text(http.StatusMethodNotAllowed, "method not allowed")
				r.Header.Set("Allow", "GET, HEAD, PUT, DELETE")
				return r, nil
			}
		}
		c.PassThrough()
		return nil, nil
	}
}

// docKeyFromPath extracts the store key from a /v1/docs/{key} path. The
// canonical path keeps percent escapes, so keys may contain slashes.
func docKeyFromPath(path string) (string, error) {
	raw := strings.TrimPrefix(path, "/v1/docs/")
	key, err := url.PathUnescape(raw)
	if err != nil || key == "" {
		return "", errors.New("invalid document key")
	}
	return key, nil
}

func putDoc(c *relay.Ctx, key string, maxBytes int64) (*relay.Response, error) {
	body, err := readBody(c.Request.Body, maxBytes)
	if errors.Is(err, errBodyTooLarge) {
		return relay.Text(http.StatusRequestEntityTooLarge, "document too large"), nil
	}
	if err != nil {
		return nil, err
	}
	doc := docstore.Document{
		Body:        body,
		ContentType: c.Request.Header.Get("Content-Type"),
	}
	if ttl := c.Request.Header.Get("X-Doc-TTL"); ttl != "" {
		secs, perr := strconv.Atoi(ttl)
		if perr != nil || secs < 0 {
			return relay.Text(http.StatusBadRequest, "invalid X-Doc-TTL"), nil
		}
		if secs > 0 {
			doc.Expires = time.Now().UTC().Add(time.Duration(secs) * time.Second)
		}
	}
	if err := docstore.Put(key, doc); err != nil {
		return nil, err
	}
	ip := c.IP
	c.WaitUntil(func(context.Context) {
		logger.AuditEvent("doc_put", "key", key, "ip", ip, "bytes", len(body))
	})
	return relay.JSON(http.StatusCreated, map[string]any{"key": key, "bytes": len(body)})
}

func getDoc(key string) (*relay.Response, error) {
	doc, err := docstore.Get(key)
	if errors.Is(err, docstore.ErrNotFound) {
		return relay.Text(http.StatusNotFound, "document not found"), nil
	}
	if err != nil {
		return nil, err
	}
	if !doc.Expires.IsZero() && !doc.Expires.After(time.Now().UTC()) {
		// expired but not yet swept; serve as missing
		return relay.Text(http.StatusNotFound, "document not found"), nil
	}
	ct := doc.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	r := relay.Bytes(http.StatusOK, ct, doc.Body)
	r.Header.Set("Last-Modified", doc.Created.UTC().Format(http.TimeFormat))
	if !doc.Expires.IsZero() {
		r.Header.Set("Expires", doc.Expires.UTC().Format(http.TimeFormat))
	}
	return r, nil
}

func deleteDoc(c *relay.Ctx, key string) (*relay.Response, error) {
	if err := docstore.Delete(key); err != nil {
		return nil, err
	}
	ip := c.IP
	c.WaitUntil(func(context.Context) {
		logger.AuditEvent("doc_delete", "key", key, "ip", ip)
	})
	return relay.NewResponse(http.StatusNoContent), nil
}

func listDocs(c *relay.Ctx) (*relay.Response, error) {
	q, err := url.ParseQuery(c.Request.RawQuery)
	if err != nil {
		return relay.Text(http.StatusBadRequest, "bad query"), nil
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return relay.Text(http.StatusBadRequest, "invalid limit"), nil
		}
	}
	keys, err := docstore.List(q.Get("prefix"), limit)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return relay.JSON(http.StatusOK, map[string]any{"keys": keys})
}

// echo streams the request body straight back. Handy for verifying an engine
// end to end: it exercises request streaming and the deferred response writer
// in one round trip.
func echo(c *relay.Ctx) *relay.Response {
	ct := c.Request.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return relay.Stream(http.StatusOK, ct, c.Request.Body)
}

func info(c *relay.Ctx) (*relay.Response, error) {
	region, _ := c.Env("TRESTLE_REGION")
	return relay.JSON(http.StatusOK, map[string]any{
		"engine": c.Platform.Engine,
		"ip":     c.IP,
		"scheme": c.Request.Scheme,
		"host":   c.Request.Host,
		"region": region,
		"store":  docstore.Ready(),
	})
}

// readBody drains the request stream up to max bytes. Exceeding the cap
// stops reading and releases the rest of the stream.
func readBody(body *relay.BodyStream, max int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	for {
		chunk, err := body.NextChunk()
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		if int64(buf.Len())+int64(len(chunk)) > max {
			_ = body.Close()
			return nil, errBodyTooLarge
		}
		buf.Write(chunk)
	}
}
