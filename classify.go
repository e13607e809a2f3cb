package offlineshell

import (
	"net/http"
	"net/url"
	"strings"
)

// Class selects the strategy that resolves a request.
type Class int

const (
	// Static requests are served cache-first and revalidated in the background.
	ClassStatic Class = iota
	// Navigation requests are served network-first.
	ClassNavigation
	// Bypass requests go to the network untouched.
	ClassBypass
)

func (c Class) String() string {
	switch c {
	case ClassStatic:
		return "static"
	case ClassNavigation:
		return "navigation"
	case ClassBypass:
		return "bypass"
	}
	return "unknown"
}

// Descriptor is what classification looks at.
type Descriptor struct {
	Method string
	// URL is absolute.
	URL *url.URL
	// Navigate is set for top-level page loads.
	Navigate bool
}

// DescribeRequest builds the descriptor of an intercepted request.
// Relative request URLs are resolved against origin.
func DescribeRequest(r *http.Request, origin *url.URL) Descriptor {
	u := *r.URL
	if !u.IsAbs() && origin != nil {
		u.Scheme = origin.Scheme
		u.Host = origin.Host
	}
	return Descriptor{
		Method:   r.Method,
		URL:      &u,
		Navigate: r.Header.Get("Sec-Fetch-Mode") == "navigate" || r.Header.Get("Sec-Fetch-Dest") == "document",
	}
}

// Classifier maps request descriptors to strategies.
type Classifier struct {
	origin           *url.URL
	excludedHosts    []string
	excludedPatterns []string
	navigationPaths  map[string]struct{}
}

func NewClassifier(origin *url.URL, s Settings) Classifier {
	c := Classifier{
		origin:           origin,
		excludedHosts:    s.ExcludedHosts,
		excludedPatterns: s.ExcludedPatterns,
		navigationPaths:  make(map[string]struct{}, len(s.NavigationPaths)),
	}
	for _, p := range s.NavigationPaths {
		c.navigationPaths[p] = struct{}{}
	}
	return c
}

// Classify returns the class of d. Bypass rules are checked first,
// then navigation rules; everything else same-origin is static.
func (c Classifier) Classify(d Descriptor) Class {
	if c.bypass(d.URL) {
		return ClassBypass
	}
	if d.Navigate {
		return ClassNavigation
	}
	if _, ok := c.navigationPaths[d.URL.Path]; ok {
		return ClassNavigation
	}
	return ClassStatic
}

func (c Classifier) bypass(u *url.URL) bool {
	if u == nil || !u.IsAbs() {
		return true
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return true
	}
	if !sameOrigin(u, c.origin) {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range c.excludedHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	href := u.String()
	for _, p := range c.excludedPatterns {
		if p != "" && strings.Contains(href, p) {
			return true
		}
	}
	return false
}

func sameOrigin(u, origin *url.URL) bool {
	if u == nil || origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, origin.Scheme) && strings.EqualFold(u.Host, origin.Host)
}
