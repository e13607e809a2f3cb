package offlineshell

import (
	"crypto/tls"
	"net/http"
	"net/url"

	tee "github.com/always-cache/offline-shell/pkg/response-writer-tee"
)

// Network performs fetches on behalf of the worker. Redirects are returned,
// not followed, and a failed fetch is a non-nil error.
type Network = http.RoundTripper

// NetworkFunc adapts a function to a Network.
type NetworkFunc func(*http.Request) (*http.Response, error)

func (f NetworkFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// UpstreamNetwork sends requests for the application origin to the upstream
// server. All other requests go out unchanged.
type UpstreamNetwork struct {
	origin    *url.URL
	upstream  *url.URL
	transport http.RoundTripper
}

// NewUpstreamNetwork returns a network for origin served by upstream.
// tlsServerName overrides the name used for TLS negotiation with upstream,
// use it e.g. when upstream is just an IP address.
func NewUpstreamNetwork(origin, upstream *url.URL, tlsServerName string) *UpstreamNetwork {
	transport := http.DefaultTransport
	if tlsServerName != "" {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{ServerName: tlsServerName}
		transport = t
	}
	return &UpstreamNetwork{
		origin:    origin,
		upstream:  upstream,
		transport: transport,
	}
}

func (n *UpstreamNetwork) RoundTrip(r *http.Request) (*http.Response, error) {
	if n.upstream == nil || !sameOrigin(r.URL, n.origin) || sameOrigin(n.upstream, n.origin) {
		return n.transport.RoundTrip(r)
	}
	out := r.Clone(r.Context())
	out.URL.Scheme = n.upstream.Scheme
	out.URL.Host = n.upstream.Host
	out.Host = n.upstream.Host
	res, err := n.transport.RoundTrip(out)
	if res != nil {
		// the response answers the request as the application sees it
		res.Request = r
	}
	return res, err
}

// HandlerNetwork serves fetches from an in-process handler.
type HandlerNetwork struct {
	Handler http.Handler
}

func (n HandlerNetwork) RoundTrip(r *http.Request) (*http.Response, error) {
	saver := tee.NewResponseSaver()
	n.Handler.ServeHTTP(saver, r)
	return saver.HTTPResponse(r), nil
}

// outboundRequest turns an intercepted request into one that can be sent
// over the network to u.
func outboundRequest(r *http.Request, u *url.URL) *http.Request {
	out := r.Clone(r.Context())
	out.URL = u
	out.Host = u.Host
	out.RequestURI = ""
	if r.ContentLength == 0 {
		out.Body = nil
	}
	removeHopHeaders(out.Header)
	return out
}

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}
