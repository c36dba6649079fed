package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"syscall"
	"time"

	"crafter/internal/infra"
	"crafter/internal/middleware"
)

// Upstream maps a local path prefix onto a provider API.
type Upstream struct {
	// Name appears in logs and error messages.
	Name string
	// Prefix is the local mount point, e.g. /api/bfl.
	Prefix string
	// Target is the provider origin, e.g. https://api.bfl.ml.
	Target *url.URL
	// RewritePrefix replaces Prefix on the outbound path, e.g. /v1.
	RewritePrefix string
}

// ProxyError is the JSON body returned when the upstream cannot be reached.
type ProxyError struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   string `json:"details"`
	Timestamp string `json:"timestamp"`
}

const timestampLayout = "2006-01-02T15:04:05.000Z"

func timestamp(t time.Time) string { return t.UTC().Format(timestampLayout) }

// newProxy builds a reverse proxy for u. The outbound Host is the target's,
// and each request is bounded by timeout.
func newProxy(u Upstream, transport http.RoundTripper, timeout time.Duration, logger *infra.Logger, now func() time.Time) http.Handler {
	target := *u.Target
	target.Path = strings.TrimRight(u.RewritePrefix, "/")
	target.RawPath = ""

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			rest := strings.TrimPrefix(pr.In.URL.Path, u.Prefix)
			pr.Out.URL.Path = rest
			pr.Out.URL.RawPath = ""
			pr.SetURL(&target)
			pr.SetXForwarded()
			logger.Debug().
				Str("request_id", middleware.RequestIDFromContext(pr.In.Context())).
				Str("upstream", u.Name).
				Str("method", pr.In.Method).
				Str("target", pr.Out.URL.String()).
				Int64("content_length", pr.In.ContentLength).
				Msg("relay: forwarding")
		},
		Transport:     transport,
		FlushInterval: -1,
		ModifyResponse: func(resp *http.Response) error {
			logger.Debug().
				Str("upstream", u.Name).
				Int("status", resp.StatusCode).
				Int64("content_length", resp.ContentLength).
				Msg("relay: upstream responded")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			code, message := classify(u.Name, err)
			logger.Error().
				Err(err).
				Str("request_id", middleware.RequestIDFromContext(r.Context())).
				Str("upstream", u.Name).
				Str("code", code).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("relay: proxy error")
			writeJSON(w, http.StatusInternalServerError, ProxyError{
				Error:     message,
				Code:      code,
				Details:   err.Error(),
				Timestamp: timestamp(now()),
			})
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if timeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		rp.ServeHTTP(w, r)
	})
}

// classify maps a transport failure onto a stable code and a user facing message.
func classify(name string, err error) (string, string) {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET", "The " + name + " server reset the connection. The request may be too large, the server may be overloaded, the API key may be invalid or the network may be unstable. Check the API key, reduce the request and try again later."
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED", "The " + name + " server refused the connection. It may be down or under maintenance."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, syscall.ETIMEDOUT), errors.As(err, &netErr) && netErr.Timeout():
		return "ETIMEDOUT", "The request timed out. The " + name + " server took too long to respond, try again later."
	default:
		return "", "Proxy error: " + err.Error()
	}
}
