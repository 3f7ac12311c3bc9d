package relay

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"trestle/pkg/logger"
)

// originResolver derives the externally visible scheme and host for each
// request. Sources are consulted in a fixed order: the configured origin wins
// outright, forwarded headers apply only when the deployment trusts its
// proxy, and otherwise the connection itself decides. The configured origin
// is validated once at startup so a partial value can never mix with header
// or connection data.
type originResolver struct {
	scheme     string // both set from the configured origin, or both empty
	host       string
	trustProxy bool
	warnOnce   sync.Once
}

func newOriginResolver(origin string, trustProxy bool) (*originResolver, error) {
	scheme, host, err := parseOrigin(origin)
	if err != nil {
		return nil, err
	}
	return &originResolver{scheme: scheme, host: host, trustProxy: trustProxy}, nil
}

// ValidateOrigin reports whether origin is acceptable as a configured origin:
// empty, or an absolute scheme://host URL with no path or query. Useful for
// config validation before a bridge exists.
func ValidateOrigin(origin string) error {
	_, _, err := parseOrigin(origin)
	return err
}

func parseOrigin(origin string) (scheme, host string, err error) {
	if origin == "" {
		return "", "", nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", "", fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
		return "", "", fmt.Errorf("invalid origin %q: must be scheme://host", origin)
	}
	return u.Scheme, u.Host, nil
}

// resolve returns the scheme and host for one request. peerIP is the already
// formatted peer address and may be empty.
func (r *originResolver) resolve(hdr http.Header, tls bool, peerIP string) (scheme, host string) {
	scheme = r.scheme
	if scheme == "" && r.trustProxy {
		scheme = firstForwarded(hdr.Get("X-Forwarded-Proto"))
	}
	if scheme == "" {
		if tls {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}

	host = r.host
	if host == "" && r.trustProxy {
		host = firstForwarded(hdr.Get("X-Forwarded-Host"))
	}
	if host == "" {
		host = hdr.Get("Host")
	}
	if host == "" {
		host = peerIP
	}
	if host == "" {
		host = "localhost"
		r.warnOnce.Do(func() {
			logger.Warn("origin_host_fallback", "msg", "no host header, peer address or configured origin; using localhost")
		})
	}
	return scheme, host
}

// clientIP returns the address exposed to handlers: the first hop recorded by
// a trusted proxy, otherwise the connection peer.
func (r *originResolver) clientIP(hdr http.Header, peerIP string) string {
	if r.trustProxy {
		if ip := firstForwarded(hdr.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
	}
	return peerIP
}

// firstForwarded returns the first element of a comma-separated forwarding
// header, trimmed, or "".
func firstForwarded(v string) string {
	if v == "" {
		return ""
	}
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
