package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Storage is a set of named caches, one per cache generation.
// All methods may be called concurrently.
//
// Implementations must be thread-safe!
type Storage interface {
	// Open returns the cache with the given name, creating it if absent.
	// Opening the same name twice yields handles onto the same entries.
	Open(ctx context.Context, name string) (Handle, error)
	// Names returns the names of all existing caches, sorted.
	Names(ctx context.Context) ([]string, error)
	// Delete removes the named cache and all of its entries.
	// It reports whether a cache by that name existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Close releases the underlying resources.
	Close() error
}

// Handle is an open cache. Keys are request identities (see cachekey).
type Handle interface {
	Name() string
	// Put stores the response under key, replacing any previous entry.
	Put(ctx context.Context, key string, res Response) error
	// Match returns the response stored under key.
	// The boolean is false when there is no such entry.
	Match(ctx context.Context, key string) (Response, bool, error)
}

// Response is an immutable snapshot of an HTTP response.
type Response struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Snapshot captures res with an already-read body.
// The body reader of res is not touched.
func Snapshot(res *http.Response, body []byte) Response {
	b := make([]byte, len(body))
	copy(b, body)
	header := storableHeader(res.Header)
	// the length is recomputed from the body when the snapshot is served
	header.Del("Content-Length")
	return Response{
		Status:   res.StatusCode,
		Header:   header,
		Body:     b,
		StoredAt: time.Now(),
	}
}

// storableHeader drops the connection-scoped fields before storage
// (RFC 9111 section 3.1). Fields named by Connection go with it.
func storableHeader(header http.Header) http.Header {
	h := header.Clone()
	if h == nil {
		return http.Header{}
	}
	for _, v := range header.Values("Connection") {
		for _, field := range strings.Split(v, ",") {
			if field = strings.TrimSpace(field); field != "" {
				h.Del(field)
			}
		}
	}
	for _, field := range []string{"Connection", "Proxy-Connection", "Keep-Alive", "TE", "Transfer-Encoding", "Upgrade", "Proxy-Authenticate", "Proxy-Authentication-Info"} {
		h.Del(field)
	}
	return h
}

// Clone returns a deep copy so that callers can never mutate a stored entry.
func (r Response) Clone() Response {
	b := make([]byte, len(r.Body))
	copy(b, r.Body)
	return Response{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		Body:     b,
		StoredAt: r.StoredAt,
	}
}

// HTTPResponse builds a fresh *http.Response from the snapshot.
func (r Response) HTTPResponse(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	return &http.Response{
		Status:        strconv.Itoa(r.Status) + " " + http.StatusText(r.Status),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

func readBody(res *http.Response) ([]byte, error) {
	if res.Body == nil {
		return nil, nil
	}
	return io.ReadAll(res.Body)
}
