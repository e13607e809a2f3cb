// Package cachestatus renders the Cache-Status response header (RFC 9211)
// describing how the offline shell handled a request.
package cachestatus

import "fmt"

const HeaderName = "Cache-Status"

// CacheName identifies this cache in the header value.
const CacheName = "OfflineShell"

type Status string

const (
	StatusHit = "hit"
	StatusFwd = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The request is handled network-first, so the stored response
	// was not considered.
	FwdReasonRequest FwdReason = "request"

	// The network could not be reached; the response was
	// synthesized locally.
	FwdReasonOffline FwdReason = "offline"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", CacheName, cs.Status)
	if cs.Status == StatusFwd && cs.FwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status = status + "; stored"
	}
	if cs.Detail != "" {
		status = status + "; detail=" + cs.Detail
	}
	return status
}
