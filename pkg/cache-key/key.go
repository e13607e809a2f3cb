package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMalformedKey = fmt.Errorf("Malformed key")

const methodSeparator = ":"

// CacheKeyer derives the identity of a stored entry from a request.
// Requests for the keyer's origin are keyed by their origin-relative
// request URI, all others by their absolute URL.
type CacheKeyer struct {
	Origin *url.URL
}

func NewCacheKeyer(origin *url.URL) CacheKeyer {
	return CacheKeyer{Origin: origin}
}

// Key returns the cache key for a request: the method and the request URI.
// The URL fragment never takes part in the key.
func (c CacheKeyer) Key(r *http.Request) string {
	return r.Method + methodSeparator + c.uri(r.URL)
}

// GetKey returns the cache key for a GET of the given path or URL.
func (c CacheKeyer) GetKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return http.MethodGet + methodSeparator + c.uri(u), nil
}

func (c CacheKeyer) uri(u *url.URL) string {
	if !u.IsAbs() || c.sameOrigin(u) {
		return u.RequestURI()
	}
	ref := *u
	ref.Fragment = ""
	ref.RawFragment = ""
	return ref.String()
}

func (c CacheKeyer) sameOrigin(u *url.URL) bool {
	if c.Origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, c.Origin.Scheme) && strings.EqualFold(u.Host, c.Origin.Host)
}

// GetRequestFromKey generates a request equal, caching-wise, to the one that
// resulted in the provided key.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || uri == "" {
		return nil, fmt.Errorf("%w: %s", ErrorMalformedKey, key)
	}
	if strings.HasPrefix(uri, "/") && c.Origin != nil {
		uri = strings.TrimSuffix(c.Origin.String(), "/") + uri
	}
	return http.NewRequest(method, uri, nil)
}
